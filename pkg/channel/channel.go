// Package channel delivers chat turns to the backend over a push socket,
// falling back to a single request/response call when the socket cannot be
// used.
package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/killallgit/atelier/pkg/api"
	"github.com/killallgit/atelier/pkg/chat"
	"github.com/killallgit/atelier/pkg/logger"
)

// Poster runs callbacks on the owning event loop.
type Poster interface {
	Post(fn func()) bool
}

// Fallback runs one turn over request/response.
type Fallback interface {
	Chat(ctx context.Context, projectID, message string) (*api.ChatReply, error)
}

// Via says how a turn was delivered.
type Via int

const (
	ViaPush Via = iota
	ViaFallback
)

func (v Via) String() string {
	if v == ViaPush {
		return "push"
	}
	return "fallback"
}

// Turn is one outbound user message.
type Turn struct {
	ProjectID string
	Text      string
	ClientID  string
}

// Outcome is the completion of Send. A pushed turn carries no reply; the
// reply arrives later as an assistant message event.
type Outcome struct {
	Via   Via
	Reply *api.ChatReply
	Err   error
	// PublishErr is set when a push write failed and the turn fell back.
	PublishErr error
}

// EventKind classifies inbound channel events.
type EventKind int

const (
	EventState EventKind = iota
	EventConnected
	EventThinking
	EventError
	EventAssistantMessage
)

// Reply is an assistant message received over the push socket.
type Reply struct {
	ClientID  string
	MessageID string
	Content   string
	Metadata  *chat.Metadata
	CreatedAt time.Time
}

type Event struct {
	Kind      EventKind
	ProjectID string
	State     State
	Detail    string
	Reply     *Reply
}

// Channel is the push connection for one project. All methods must be called
// on the event loop given to New; events and Send completions are delivered
// there too.
type Channel struct {
	loop      Poster
	dialer    Dialer
	fallback  Fallback
	projectID string
	token     string
	onEvent   func(Event)
	log       *logger.Logger

	state      State
	conn       Conn
	cancelDial context.CancelFunc
	torn       bool
}

func New(loop Poster, dialer Dialer, fallback Fallback, projectID, token string, onEvent func(Event)) *Channel {
	if onEvent == nil {
		onEvent = func(Event) {}
	}
	return &Channel{
		loop:      loop,
		dialer:    dialer,
		fallback:  fallback,
		projectID: projectID,
		token:     token,
		onEvent:   onEvent,
		state:     StateDisconnected,
		log:       logger.WithComponent("channel"),
	}
}

func (c *Channel) ProjectID() string {
	return c.projectID
}

func (c *Channel) State() State {
	return c.state
}

// Open dials the push socket. It does nothing while connecting or open, and
// after Close. A failed dial leaves the channel closed; calling Open again
// retries.
func (c *Channel) Open(ctx context.Context) {
	if c.torn || c.dialer == nil || c.state == StateConnecting || c.state == StateOpen {
		return
	}
	c.setState(StateConnecting)

	dialCtx, cancel := context.WithCancel(ctx)
	c.cancelDial = cancel

	go func() {
		conn, err := c.dialer.Dial(dialCtx, c.projectID, c.token)
		posted := c.loop.Post(func() {
			cancel()
			if c.torn {
				if conn != nil {
					conn.Close()
				}
				return
			}
			if err != nil {
				c.log.Warn("Push channel for project %s unavailable: %v", c.projectID, err)
				c.setState(StateClosed)
				return
			}
			c.conn = conn
			c.setState(StateOpen)
			go c.readLoop(conn)
		})
		if !posted && conn != nil {
			conn.Close()
		}
	}()
}

// Send delivers a turn. When open, the turn is published on the socket and
// done reports ViaPush. Otherwise, or when the publish fails, exactly one
// fallback request is made and done reports its reply. done runs on the loop
// and is called exactly once, even after Close.
func (c *Channel) Send(turn Turn, done func(Outcome)) {
	if c.state != StateOpen || c.conn == nil {
		go c.runFallback(turn, nil, done)
		return
	}

	conn := c.conn
	go func() {
		err := conn.WriteJSON(UserMessage(turn.ProjectID, turn.Text, turn.ClientID))
		if err == nil {
			c.loop.Post(func() { done(Outcome{Via: ViaPush}) })
			return
		}

		c.loop.Post(func() {
			c.log.Warn("Publish on push channel failed, falling back: %v", err)
			c.drop(conn)
		})
		c.runFallback(turn, err, done)
	}()
}

func (c *Channel) runFallback(turn Turn, publishErr error, done func(Outcome)) {
	reply, err := c.fallback.Chat(context.Background(), turn.ProjectID, turn.Text)
	if err != nil {
		err = fmt.Errorf("fallback turn failed: %w", err)
	}
	c.loop.Post(func() {
		done(Outcome{Via: ViaFallback, Reply: reply, Err: err, PublishErr: publishErr})
	})
}

// Close tears the channel down. No event is delivered afterwards.
func (c *Channel) Close() {
	if c.torn {
		return
	}
	c.torn = true
	if c.cancelDial != nil {
		c.cancelDial()
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.state = StateClosed
}

// drop forgets conn after a read or write failure.
func (c *Channel) drop(conn Conn) {
	if c.conn != conn {
		return
	}
	conn.Close()
	c.conn = nil
	if !c.torn {
		c.setState(StateClosed)
	}
}

func (c *Channel) readLoop(conn Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.loop.Post(func() {
				if c.conn == conn {
					c.log.Info("Push channel for project %s closed: %v", c.projectID, err)
				}
				c.drop(conn)
			})
			return
		}

		var f Frame
		if err := json.Unmarshal(data, &f); err != nil {
			c.log.Warn("Ignoring malformed push frame: %v", err)
			continue
		}
		c.loop.Post(func() {
			if c.torn || c.conn != conn {
				return
			}
			c.dispatch(f)
		})
	}
}

func (c *Channel) dispatch(f Frame) {
	if f.ProjectID != "" && f.ProjectID.String() != c.projectID {
		c.log.Debug("Dropping %s frame for project %s on channel %s", f.Type, f.ProjectID, c.projectID)
		return
	}

	ev := Event{ProjectID: c.projectID}
	switch f.Type {
	case FrameConnected:
		ev.Kind = EventConnected
	case FrameThinking:
		ev.Kind = EventThinking
	case FrameError:
		ev.Kind = EventError
		ev.Detail = f.Detail
	case FrameAssistantMessage:
		ev.Kind = EventAssistantMessage
		ev.Reply = &Reply{
			ClientID:  f.ClientID,
			MessageID: f.MessageID.String(),
			Content:   f.Content,
			Metadata:  f.Metadata.ToChat(),
		}
		if f.CreatedAt != nil {
			ev.Reply.CreatedAt = *f.CreatedAt
		} else {
			ev.Reply.CreatedAt = time.Now()
		}
	default:
		c.log.Debug("Ignoring push frame of type %q", f.Type)
		return
	}
	c.onEvent(ev)
}

func (c *Channel) setState(s State) {
	if c.state == s {
		return
	}
	c.log.Debug("Channel %s: %s -> %s", c.projectID, c.state, s)
	c.state = s
	c.onEvent(Event{Kind: EventState, ProjectID: c.projectID, State: s})
}
