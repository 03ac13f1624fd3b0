// Command opensdg-cli is a thin demonstration harness around package
// opensdg, mirroring original_source/testapp/main.c's connect/REPL loop:
// load a private key, connect to a grid server, and accept interactive
// "connect <peer>" / "quit" commands. It is not part of the protocol
// implementation itself.
package main

import (
	"bufio"
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/rs/xid"

	"github.com/hlandau/opensdg"
	"github.com/hlandau/opensdg/internal/backoff"
	"github.com/hlandau/opensdg/internal/sdglog"
)

// config is the TOML-configurable surface of the demonstration CLI.
type config struct {
	KeyFile string           `toml:"key_file"`
	Servers []configEndpoint `toml:"servers"`
	Syslog  string           `toml:"syslog_name"`
	Backoff configBackoff    `toml:"backoff"`
}

type configEndpoint struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

type configBackoff struct {
	InitialDelayMS int `toml:"initial_delay_ms"`
	MaxDelayMS     int `toml:"max_delay_ms"`
}

func defaultConfig() config {
	return config{
		KeyFile: "opensdg.key",
		Servers: []configEndpoint{
			{Host: "grid1.danfoss.com", Port: 443},
			{Host: "grid2.danfoss.com", Port: 443},
		},
	}
}

func main() {
	configPath := flag.String("config", "", "path to a TOML configuration file")
	flag.Parse()

	cfg := defaultConfig()
	if *configPath != "" {
		if _, err := toml.DecodeFile(*configPath, &cfg); err != nil {
			fmt.Fprintln(os.Stderr, "opensdg-cli: reading config:", err)
			os.Exit(1)
		}
	}
	if cfg.Syslog != "" {
		if err := sdglog.OpenSyslog(cfg.Syslog); err != nil {
			fmt.Fprintln(os.Stderr, "opensdg-cli: syslog:", err)
		}
	}

	private, err := loadOrCreateKey(cfg.KeyFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, "opensdg-cli: key file:", err)
		os.Exit(1)
	}
	keys := opensdg.NewKeypair(private)
	fmt.Println("public key:", opensdg.EncodeHex(keys.Public))

	endpoints := make([]opensdg.Endpoint, len(cfg.Servers))
	for i, s := range cfg.Servers {
		endpoints[i] = opensdg.Endpoint{Host: s.Host, Port: s.Port}
	}

	r, err := opensdg.NewReactor()
	if err != nil {
		fmt.Fprintln(os.Stderr, "opensdg-cli: reactor:", err)
		os.Exit(1)
	}
	go r.Run()

	grid, err := opensdg.Create(keys, opensdg.ModeGrid, 65536, onGridMessage)
	if err != nil {
		fmt.Fprintln(os.Stderr, "opensdg-cli: create:", err)
		os.Exit(1)
	}

	bo := &backoff.Schedule{
		InitialDelay: cfg.Backoff.InitialDelayMS,
		MaxDelay:     cfg.Backoff.MaxDelayMS,
	}

	// connectWithBackoff is the one exception to the protocol's no-retry
	// rule that lives outside the core library: the CLI reconnects to the
	// grid on failure using an exponential schedule, rather than the
	// library silently retrying underneath the caller.
	connectWithBackoff := func() {
		if err := grid.Connect(r, endpoints); err != nil {
			fmt.Fprintln(os.Stderr, "opensdg-cli: connect:", err)
			return
		}
		for {
			switch grid.Status() {
			case opensdg.StatusConnected:
				bo.Reset()
				return
			case opensdg.StatusError:
				delay := bo.NextDelay()
				if delay == 0 {
					fmt.Fprintln(os.Stderr, "opensdg-cli: giving up after repeated failures:", grid.Err())
					return
				}
				sdglog.Notice("opensdg-cli: reconnecting in ", delay, "ms after ", grid.Err())
				time.Sleep(time.Duration(delay) * time.Millisecond)
				grid.Close()
				if err := grid.Connect(r, endpoints); err != nil {
					fmt.Fprintln(os.Stderr, "opensdg-cli: connect:", err)
					return
				}
			default:
				time.Sleep(20 * time.Millisecond)
			}
		}
	}
	connectWithBackoff()

	handleConnectCommand := func(peerIDHex string) {
		tunnelID, err := hex.DecodeString(peerIDHex)
		if err != nil {
			fmt.Println("bad peer id:", err)
			return
		}
		peer, err := opensdg.Create(keys, opensdg.ModePeer, 65536, onGridMessage)
		if err != nil {
			fmt.Println("create:", err)
			return
		}
		if err := peer.SetTunnelID(tunnelID); err != nil {
			fmt.Println("set tunnel id:", err)
			return
		}
		if err := peer.Connect(r, endpoints); err != nil {
			fmt.Println("connect:", err)
			return
		}
		fmt.Println("tunnel requested, connection", peer.UID())
	}

	fmt.Println("commands: help, connect <peer-id>, quit")
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		switch fields[0] {
		case "help":
			fmt.Println("help                  show this text")
			fmt.Println("connect <peer-id>     open a tunnel to a peer, hex-encoded")
			fmt.Println("quit                  exit")
		case "connect":
			if len(fields) < 2 {
				fmt.Println("usage: connect <peer-id>")
				continue
			}
			handleConnectCommand(fields[1])
		case "quit":
			grid.Destroy()
			return
		default:
			fmt.Println("unrecognised command, try 'help'")
		}
	}
}

func onGridMessage(c *opensdg.Connection, dataType byte, payload []byte) {
	trace := xid.New()
	sdglog.Info("opensdg-cli: message type=", dataType, " len=", len(payload), " trace=", trace.String())
}

func loadOrCreateKey(path string) (opensdg.Key, error) {
	b, err := os.ReadFile(path)
	if err == nil && len(b) == opensdg.KeySize {
		var k opensdg.Key
		copy(k[:], b)
		return k, nil
	}
	k, err := opensdg.GeneratePrivateKey()
	if err != nil {
		return k, err
	}
	if werr := os.WriteFile(path, k[:], 0600); werr != nil {
		return k, werr
	}
	return k, nil
}
