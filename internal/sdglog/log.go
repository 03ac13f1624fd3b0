// Package sdglog provides the diagnostic logging used throughout the
// opensdg client: plain severity-levelled logging, optionally sent to UNIX
// syslog instead of the standard logger, plus a couple of protocol-debugging helpers for dumping keys
// and packets as hex when a caller wants to see the wire traffic.
//
// The functions ending in "e" take an error argument and only do anything if
// that argument is non-nil, allowing a terse style for errors that are
// beyond the expectations of the caller:
//
//	n, err := conn.Write(buf)
//	sdglog.Errore(err, "failed to write frame")
package sdglog

import (
	"encoding/hex"
	"fmt"
	"log"
	"log/syslog"
)

var sw *syslog.Writer

// OpenSyslog opens a connection to UNIX syslog. The name should be the name
// of the daemon/program. Once open, all messages logged through this
// package are sent to syslog under the "daemon" facility instead of the
// standard logger.
func OpenSyslog(name string) error {
	s, err := syslog.New(syslog.LOG_DAEMON|syslog.LOG_DEBUG, name)
	if err != nil {
		return err
	}
	sw = s
	return nil
}

func Error(v ...interface{}) {
	if sw != nil {
		sw.Err(fmt.Sprint(v...))
	} else {
		log.Print(v...)
	}
}

func Errore(err error, v ...interface{}) {
	if err != nil {
		Error(append([]interface{}{err}, v...))
	}
}

func Warning(v ...interface{}) {
	if sw != nil {
		sw.Warning(fmt.Sprint(v...))
	} else {
		log.Print(v...)
	}
}

func Notice(v ...interface{}) {
	if sw != nil {
		sw.Notice(fmt.Sprint(v...))
	} else {
		log.Print(v...)
	}
}

func Info(v ...interface{}) {
	if sw != nil {
		sw.Info(fmt.Sprint(v...))
	} else {
		log.Print(v...)
	}
}

func Debug(v ...interface{}) {
	if sw != nil {
		sw.Debug(fmt.Sprint(v...))
	} else {
		log.Print(v...)
	}
}

func Debuge(err error, v ...interface{}) {
	if err != nil {
		Debug(append([]interface{}{err}, v...))
	}
}

// DumpKey logs a labelled key (or other short non-secret buffer) as hex, at
// debug level. Never used for long-term secret key material itself (only
// for public keys, cookies and nonces), so protocol tracing can't leak
// secrets into logs.
func DumpKey(label string, b []byte) {
	Debug(label, ": ", hex.EncodeToString(b))
}

// DumpPacket logs a labelled packet command tag and payload length at debug
// level, mirroring the original implementation's packet tracing.
func DumpPacket(label, command string, payloadLen int) {
	Debug(fmt.Sprintf("%s: %s (%d byte payload)", label, command, payloadLen))
}
