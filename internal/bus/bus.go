// Package bus implements the cross-window call channel: a named, in-process
// broadcast bus. Every handle opened on the same name receives events posted
// by every other handle; a handle never receives its own posts. Delivery is
// asynchronous and at-most-once per subscriber: a subscriber that cannot
// keep up loses events rather than blocking the sender, so consumers must
// treat the channel as lossy (window teardown races make it lossy anyway).
package bus

import (
	"sync"

	logging "github.com/ipfs/go-log/v2"
)

var log = logging.Logger("bus")

// subscriber buffer size. Call signaling is low-rate; 64 absorbs an entire
// trickle-ICE burst without drops.
const subCap = 64

// Bus is a process-wide registry of named channels. It is an explicitly owned
// resource: construct one per process with New, share it by injection, and
// let it live for the life of the process; channels are reused across calls
// and never individually destroyed.
type Bus struct {
	mu     sync.Mutex
	groups map[string]*group
}

// group is the shared fan-out state behind every handle with the same name.
type group struct {
	mu      sync.RWMutex
	name    string
	members map[*Channel]chan Event
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{groups: make(map[string]*group)}
}

// Open returns a new handle on the named channel, creating the channel lazily
// on first use. Each call returns a distinct handle with its own subscription
// identity, mirroring one window's view of the channel.
func (b *Bus) Open(name string) *Channel {
	b.mu.Lock()
	g, ok := b.groups[name]
	if !ok {
		g = &group{name: name, members: make(map[*Channel]chan Event)}
		b.groups[name] = g
	}
	b.mu.Unlock()

	ch := &Channel{g: g}
	g.mu.Lock()
	g.members[ch] = nil // subscription channel allocated on first Subscribe
	g.mu.Unlock()
	return ch
}

// Channel is one handle on a named broadcast channel.
// The zero value is a no-op stub: Post and Close succeed without effect and
// Subscribe returns a channel that never delivers. Discard returns one for
// code paths that run without a bus.
type Channel struct {
	g         *group
	closeOnce sync.Once
}

// Discard returns an inert channel handle.
func Discard() *Channel { return &Channel{} }

// Post delivers ev to every other open handle on the same name. Ordering among
// events posted through the same handle is preserved; nothing is guaranteed
// against posts from other handles. Posting on a closed or inert handle is a
// no-op.
func (c *Channel) Post(ev Event) {
	if c.g == nil {
		return
	}
	c.g.mu.RLock()
	defer c.g.mu.RUnlock()
	if _, live := c.g.members[c]; !live {
		return // closed
	}
	for member, sub := range c.g.members {
		if member == c || sub == nil {
			continue
		}
		select {
		case sub <- ev:
		default:
			log.Warnf("channel %s: subscriber full, dropping %s", c.g.name, ev.Type)
		}
	}
}

// Subscribe returns the handle's delivery channel and a cancel func. A handle
// has at most one subscription; repeated calls return the same channel.
// Events posted through this handle are never delivered to it.
func (c *Channel) Subscribe() (<-chan Event, func()) {
	if c.g == nil {
		return make(chan Event), func() {}
	}
	c.g.mu.Lock()
	sub, live := c.g.members[c]
	if !live {
		c.g.mu.Unlock()
		return make(chan Event), func() {}
	}
	if sub == nil {
		sub = make(chan Event, subCap)
		c.g.members[c] = sub
	}
	c.g.mu.Unlock()
	return sub, c.Close
}

// Close detaches the handle from the channel and closes its subscription.
// Idempotent. Other handles on the same name are unaffected.
func (c *Channel) Close() {
	if c.g == nil {
		return
	}
	c.closeOnce.Do(func() {
		c.g.mu.Lock()
		sub := c.g.members[c]
		delete(c.g.members, c)
		c.g.mu.Unlock()
		if sub != nil {
			close(sub)
		}
	})
}
