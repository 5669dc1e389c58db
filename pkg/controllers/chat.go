// Package controllers holds the chat session controller: it keeps one
// project's timeline consistent while turns travel over the push channel or
// the request/response fallback.
package controllers

import (
	"context"
	"errors"
	"strings"

	"github.com/killallgit/atelier/pkg/api"
	"github.com/killallgit/atelier/pkg/channel"
	"github.com/killallgit/atelier/pkg/chat"
	"github.com/killallgit/atelier/pkg/eventloop"
	"github.com/killallgit/atelier/pkg/logger"
	"github.com/killallgit/atelier/pkg/process"
	"github.com/killallgit/atelier/pkg/reveal"
	"github.com/killallgit/atelier/pkg/session"
)

var (
	ErrUnknownProject = errors.New("unknown project")
	ErrNotSignedIn    = errors.New("not signed in")
)

// ChatController owns the session, the active project's store and its push
// channel. Every field is confined to the controller's event loop; public
// methods hop onto it and must not be called from a subscriber.
type ChatController struct {
	loop   *eventloop.Loop
	opts   Options
	ctx    context.Context
	cancel context.CancelFunc
	log    *logger.Logger

	session  *session.Session
	projects []api.Project
	store    *chat.Store
	channel  *channel.Channel
	previews *chat.PreviewCache
	reveal   *reveal.Scheduler
	composer string
	phases   map[string]process.State

	exchanges map[chat.ID]*exchange
	order     []*exchange

	notice      string
	noticeTimer *eventloop.Timer

	subscribers map[int]subscriber
	nextSub     int
}

func NewChatController(opts Options) *ChatController {
	opts.applyDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	loop := eventloop.Start(ctx)

	return &ChatController{
		loop:        loop,
		opts:        opts,
		ctx:         ctx,
		cancel:      cancel,
		log:         logger.WithComponent("chat_controller"),
		session:     session.New(session.User{}, opts.Token),
		previews:    chat.NewPreviewCache(),
		reveal:      reveal.NewScheduler(loop, opts.RevealBudget, opts.RevealMinInterval),
		phases:      make(map[string]process.State),
		exchanges:   make(map[chat.ID]*exchange),
		subscribers: make(map[int]subscriber),
	}
}

// Close tears down the channel, stops the loop and waits for pending
// session writes.
func (c *ChatController) Close() {
	_ = c.loop.Call(c.teardown)
	c.cancel()
	c.loop.Stop()
	c.opts.Persistence.Flush()
}

// SetComposer records the draft the user is typing.
func (c *ChatController) SetComposer(text string) {
	_ = c.loop.Call(func() {
		c.composer = text
		if text != "" && c.session.Active() != "" && !c.session.Sending(c.session.Active()) {
			c.setPhase(c.session.Active(), process.StateComposing)
		}
	})
}

func (c *ChatController) Composer() string {
	var out string
	_ = c.loop.Call(func() { out = c.composer })
	return out
}

// Submit sends the composer's text. It reports whether a turn started.
func (c *ChatController) Submit() bool {
	var ok bool
	_ = c.loop.Call(func() { ok = c.submit(c.composer) })
	return ok
}

// Send sends text as a new turn. It reports whether a turn started; it is a
// no-op without an active project, for blank text, while history loads or
// while a turn for the project is outstanding.
func (c *ChatController) Send(text string) bool {
	var ok bool
	_ = c.loop.Call(func() { ok = c.submit(text) })
	return ok
}

// Retry resends an errored placeholder's text on the same slot.
func (c *ChatController) Retry(id chat.ID) bool {
	var ok bool
	_ = c.loop.Call(func() { ok = c.retry(id) })
	return ok
}

// Messages returns the active project's timeline.
func (c *ChatController) Messages() []chat.Message {
	var out []chat.Message
	_ = c.loop.Call(func() {
		if c.store != nil {
			out = c.store.List()
		}
	})
	return out
}

// Message returns one entry of the active timeline.
func (c *ChatController) Message(id chat.ID) (chat.Message, bool) {
	var (
		msg chat.Message
		ok  bool
	)
	_ = c.loop.Call(func() {
		if c.store != nil {
			msg, ok = c.store.Get(id)
		}
	})
	return msg, ok
}

// Preview returns the latest message seen for a project.
func (c *ChatController) Preview(projectID string) (chat.Preview, bool) {
	return c.previews.Get(projectID)
}

// Previews returns the latest message of every known project.
func (c *ChatController) Previews() map[string]chat.Preview {
	return c.previews.All()
}

// Status is a snapshot for status lines.
type Status struct {
	User           string
	ProjectID      string
	ProjectTitle   string
	Channel        channel.State
	Phase          process.State
	Sending        bool
	LoadingHistory bool
	Notice         string
	Link           string
}

func (c *ChatController) Status() Status {
	var st Status
	_ = c.loop.Call(func() {
		active := c.session.Active()
		st = Status{
			User:           c.session.User.Username,
			ProjectID:      active,
			Channel:        channel.StateDisconnected,
			Phase:          c.phases[active],
			Sending:        c.session.Sending(active),
			LoadingHistory: c.session.LoadingHistory(),
			Notice:         c.notice,
			Link:           c.opts.Persistence.Location().String(),
		}
		if p, ok := c.project(active); ok {
			st.ProjectTitle = p.Title
		}
		if c.channel != nil {
			st.Channel = c.channel.State()
		}
		if st.Phase == process.StateResolved && c.reveal.ActiveCount() > 0 {
			st.Phase = process.StateRevealing
		}
	})
	return st
}

func (c *ChatController) Notice() string {
	var out string
	_ = c.loop.Call(func() { out = c.notice })
	return out
}

func (c *ChatController) ChannelState() channel.State {
	st := channel.StateDisconnected
	_ = c.loop.Call(func() {
		if c.channel != nil {
			st = c.channel.State()
		}
	})
	return st
}

// Sending reports whether a turn is outstanding for the active project.
func (c *ChatController) Sending() bool {
	var out bool
	_ = c.loop.Call(func() { out = c.session.Sending(c.session.Active()) })
	return out
}

func (c *ChatController) LoadingHistory() bool {
	var out bool
	_ = c.loop.Call(func() { out = c.session.LoadingHistory() })
	return out
}

func (c *ChatController) ActiveProject() string {
	var out string
	_ = c.loop.Call(func() { out = c.session.Active() })
	return out
}

func (c *ChatController) Projects() []api.Project {
	var out []api.Project
	_ = c.loop.Call(func() { out = append(out, c.projects...) })
	return out
}

// User returns the signed-in user.
func (c *ChatController) User() session.User {
	var out session.User
	_ = c.loop.Call(func() { out = c.session.User })
	return out
}

// setPhase moves the project's exchange phase to s. Transitions the phase
// machine does not allow are dropped.
func (c *ChatController) setPhase(projectID string, s process.State) bool {
	prev := c.phases[projectID]
	if prev == s {
		return true
	}
	if !prev.CanTransition(s) {
		c.log.Warn("Ignoring phase change %q -> %q for project %s", prev, s, projectID)
		return false
	}
	c.phases[projectID] = s
	return true
}

func (c *ChatController) project(id string) (api.Project, bool) {
	for _, p := range c.projects {
		if p.ID.String() == id {
			return p, true
		}
	}
	return api.Project{}, false
}

func blank(s string) bool {
	return strings.TrimSpace(s) == ""
}
