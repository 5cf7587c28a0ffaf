package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	logging "github.com/ipfs/go-log/v2"
)

var log = logging.Logger("signal")

const (
	handshakeTimeout = 10 * time.Second
	pingInterval     = 30 * time.Second
	writeWait        = 5 * time.Second

	// sendCap bounds the outbound queue once the socket is open. Signaling
	// traffic is low-rate; hitting the cap means the relay stopped reading.
	sendCap = 64
)

// Status is the transport state surfaced to the UI. There is no automatic
// reconnection in this layer; a surrounding collaborator owns retry policy.
type Status int32

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusConnected
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusError:
		return "error"
	default:
		return "disconnected"
	}
}

// UserURL builds the relay endpoint for a user-scoped connection.
func UserURL(relay, userID string) string {
	return relay + "?userId=" + url.QueryEscape(userID)
}

// RoomURL builds the relay endpoint for a room-scoped connection.
func RoomURL(relay, roomID, userID string) string {
	return relay + "?roomId=" + url.QueryEscape(roomID) + "&userId=" + url.QueryEscape(userID)
}

// Client is one signaling socket. Sends issued before the open handshake
// completes are queued in submission order and flushed exactly once when the
// socket opens; nothing is dropped to the open/send race.
type Client struct {
	url      string
	handlers Handlers

	mu      sync.Mutex
	conn    *websocket.Conn
	open    bool
	pending []Envelope

	sendCh chan Envelope
	done   chan struct{}
	status atomic.Int32

	closeOnce sync.Once
}

// New creates a client for the given relay URL. No connection is attempted
// until Connect; Send is usable immediately and queues.
func New(rawURL string, h Handlers) *Client {
	return &Client{
		url:      rawURL,
		handlers: h,
		sendCh:   make(chan Envelope, sendCap),
		done:     make(chan struct{}),
	}
}

// Status returns the current transport status.
func (c *Client) Status() Status { return Status(c.status.Load()) }

func (c *Client) setStatus(s Status) {
	if Status(c.status.Swap(int32(s))) == s {
		return
	}
	if c.handlers.OnStatus != nil {
		c.handlers.OnStatus(s)
	}
}

// Connect dials the relay, flushes the pre-open queue in order, and starts
// the read and write loops. It returns an error only when the handshake
// itself fails; transport failures after that surface through Status.
func (c *Client) Connect(ctx context.Context) error {
	c.setStatus(StatusConnecting)

	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		c.setStatus(StatusError)
		return fmt.Errorf("signal: dial %s: %w", c.url, err)
	}

	go c.readLoop(conn)
	go c.writeLoop(conn)

	// Flip to open under the same lock Send uses to decide queue-vs-direct,
	// so nothing posted during the flush can jump ahead of the queue. The
	// write loop is already draining, so this cannot wedge on a full queue.
	c.mu.Lock()
	c.conn = conn
	for _, env := range c.pending {
		c.sendCh <- env
	}
	flushed := len(c.pending)
	c.pending = nil
	c.open = true
	c.mu.Unlock()

	c.setStatus(StatusConnected)
	if flushed > 0 {
		log.Infof("connected to %s, flushed %d queued message(s)", c.url, flushed)
	} else {
		log.Infof("connected to %s", c.url)
	}
	return nil
}

// Send marshals data and submits an {event, data} frame. Fire-and-forget:
// errors after submission are reported through Status, not to the caller.
func (c *Client) Send(event string, data any) {
	b, err := json.Marshal(data)
	if err != nil {
		log.Errorf("marshal %s payload: %v", event, err)
		return
	}
	env := Envelope{Event: event, Data: b}

	c.mu.Lock()
	if !c.open {
		c.pending = append(c.pending, env)
		c.mu.Unlock()
		log.Debugf("socket not open, queued %s", event)
		return
	}
	c.mu.Unlock()

	select {
	case c.sendCh <- env:
	case <-c.done:
	default:
		log.Warnf("send queue full, dropping %s", event)
	}
}

// Close shuts the socket down. Idempotent.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.mu.Lock()
		if c.conn != nil {
			c.conn.Close()
		}
		c.open = false
		c.mu.Unlock()
		c.setStatus(StatusDisconnected)
	})
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
				// Close() already set disconnected.
			default:
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					c.setStatus(StatusDisconnected)
				} else {
					log.Errorf("read: %v", err)
					c.setStatus(StatusError)
				}
			}
			return
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil || env.Event == "" {
			log.Warnf("dropping malformed frame: %v", err)
			continue
		}
		c.dispatch(env)
	}
}

func (c *Client) writeLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case env := <-c.sendCh:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(env); err != nil {
				log.Errorf("write %s: %v", env.Event, err)
				c.setStatus(StatusError)
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				log.Errorf("ping: %v", err)
				c.setStatus(StatusError)
				return
			}
		case <-c.done:
			return
		}
	}
}

// dispatch decodes the envelope data for the recognized event set and hands
// it to the matching handler. Unknown events and undecodable data are logged
// and dropped; they never take the session down.
func (c *Client) dispatch(env Envelope) {
	fail := func(err error) {
		log.Warnf("dropping %s: bad data: %v", env.Event, err)
	}

	switch env.Event {
	case EventIncomingCall:
		var d IncomingCall
		if err := json.Unmarshal(env.Data, &d); err != nil {
			fail(err)
			return
		}
		if c.handlers.OnIncomingCall != nil {
			c.handlers.OnIncomingCall(d)
		}
	case EventCallAccepted:
		var d CallAccepted
		if err := json.Unmarshal(env.Data, &d); err != nil {
			fail(err)
			return
		}
		if c.handlers.OnCallAccepted != nil {
			c.handlers.OnCallAccepted(d)
		}
	case EventCallDeclined:
		var d CallRef
		if err := json.Unmarshal(env.Data, &d); err != nil {
			fail(err)
			return
		}
		if c.handlers.OnCallDeclined != nil {
			c.handlers.OnCallDeclined(d)
		}
	case EventCallEnded:
		var d CallRef
		if err := json.Unmarshal(env.Data, &d); err != nil {
			fail(err)
			return
		}
		if c.handlers.OnCallEnded != nil {
			c.handlers.OnCallEnded(d)
		}
	case EventOffer, EventAnswer, EventCandidate:
		var d Signal
		if err := json.Unmarshal(env.Data, &d); err != nil {
			fail(err)
			return
		}
		switch {
		case env.Event == EventOffer && c.handlers.OnOffer != nil:
			c.handlers.OnOffer(env.SenderID, d)
		case env.Event == EventAnswer && c.handlers.OnAnswer != nil:
			c.handlers.OnAnswer(env.SenderID, d)
		case env.Event == EventCandidate && c.handlers.OnCandidate != nil:
			c.handlers.OnCandidate(env.SenderID, d)
		}
	case EventRoomJoined:
		var d RoomJoined
		if err := json.Unmarshal(env.Data, &d); err != nil {
			fail(err)
			return
		}
		if c.handlers.OnRoomJoined != nil {
			c.handlers.OnRoomJoined(d)
		}
	case EventParticipantJoined:
		var d ParticipantJoined
		if err := json.Unmarshal(env.Data, &d); err != nil {
			fail(err)
			return
		}
		if c.handlers.OnParticipantJoined != nil {
			c.handlers.OnParticipantJoined(d)
		}
	case EventParticipantLeft:
		var d ParticipantLeft
		if err := json.Unmarshal(env.Data, &d); err != nil {
			fail(err)
			return
		}
		if c.handlers.OnParticipantLeft != nil {
			c.handlers.OnParticipantLeft(d)
		}
	default:
		log.Warnf("unhandled event %q", env.Event)
	}
}
