package opensdg

import "sync"

// registry maps the small integer uid carried in log lines and tunnel
// bookkeeping back to the *Connection that owns it. Grounded on
// registry.h/registry.c's registry_add_connection/registry_find_connection:
// a monotonic counter searches forward (with wraparound) for the next free
// slot rather than reusing low numbers immediately, so recently-closed uids
// don't collide with a connection a racing log line still refers to.
type registry struct {
	mu   sync.Mutex
	conn map[int]*Connection
	next int
}

var globalRegistry = newRegistry()

func newRegistry() *registry {
	return &registry{conn: make(map[int]*Connection)}
}

// add assigns c the next free uid and returns it.
func (r *registry) add(c *Connection) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	for {
		r.next++
		if r.next <= 0 { // wrapped past math.MaxInt or started at 0
			r.next = 1
		}
		if _, taken := r.conn[r.next]; !taken {
			r.conn[r.next] = c
			return r.next
		}
	}
}

// remove deregisters uid. Safe to call more than once.
func (r *registry) remove(uid int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.conn, uid)
}

// find returns the connection registered under uid, or nil.
func (r *registry) find(uid int) *Connection {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.conn[uid]
}

// Lookup resolves a registry uid back to the *Connection that owns it, or
// nil if none is currently registered under that id. Per spec.md §4.8 the
// core does not parse any particular application-level message itself (the
// protobuf catalog beyond ProtocolVersion/ForwardRemote/ForwardReply/
// ForwardError is explicitly left to the caller); Lookup is how a
// MessageHandler resolves an id embedded in a received payload — such as a
// grid PeerReply.id correlating back to a tunnel id a peer-mode Connection
// was created to use — back to that Connection.
func Lookup(uid int) *Connection {
	return globalRegistry.find(uid)
}

// size reports the number of currently registered connections, exported to
// the opensdg_registry_size gauge.
func (r *registry) size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conn)
}
