package controllers

import (
	"errors"
	"fmt"
	"time"

	"github.com/killallgit/atelier/pkg/channel"
	"github.com/killallgit/atelier/pkg/chat"
	"github.com/killallgit/atelier/pkg/eventloop"
	"github.com/killallgit/atelier/pkg/process"
)

var (
	errReplyTimeout   = errors.New("no reply received in time")
	errChannelGone    = errors.New("push channel closed before the reply arrived")
	errAssistantError = errors.New("assistant reported an error")
)

const failedNotice = "Message failed to send. Use retry to try again."

// exchange is one user turn and its assistant placeholder. It keeps the
// store and channel that were active when it was sent, so a late resolution
// lands in that snapshot even after a project switch.
type exchange struct {
	key       chat.ID // placeholder id at creation, used as the turn correlation
	slot      chat.ID // current placeholder id, durable once resolved
	projectID string
	text      string
	store     *chat.Store
	channel   *channel.Channel

	pushed       bool // published while the channel was open
	awaitingPush bool // publish confirmed, reply expected as a push event
	done         bool
	timer        *eventloop.Timer
}

type resolution struct {
	messageID string
	content   string
	metadata  *chat.Metadata
	createdAt time.Time
}

// submit runs steps 1-4 of a new turn.
func (c *ChatController) submit(text string) bool {
	active := c.session.Active()
	switch {
	case !c.session.LoggedIn(), c.store == nil:
		return false
	case blank(text):
		return false
	case c.session.InputBlocked():
		c.log.Debug("Ignoring send for project %s: input blocked", active)
		return false
	}

	user := chat.NewUserMessage(text)
	placeholder := chat.NewPlaceholder(user.Content)
	c.store.Append(user)
	c.store.Append(placeholder)
	c.previews.Put(active, chat.PreviewFromMessage(user))
	c.composer = ""

	ex := &exchange{
		key:       placeholder.ID,
		slot:      placeholder.ID,
		projectID: active,
		text:      user.Content,
		store:     c.store,
	}
	c.exchanges[ex.key] = ex
	c.dispatch(ex)
	return true
}

// retry re-enters the send step for an errored placeholder.
func (c *ChatController) retry(id chat.ID) bool {
	if c.store == nil || c.session.InputBlocked() {
		return false
	}
	msg, ok := c.store.Get(id)
	if !ok || !msg.Retryable() {
		return false
	}

	ex, ok := c.exchanges[id]
	if !ok {
		ex = &exchange{key: id, slot: id, projectID: c.session.Active()}
		c.exchanges[id] = ex
	}
	ex.text = msg.RetryText
	ex.store = c.store
	ex.done, ex.pushed, ex.awaitingPush = false, false, false

	c.store.Replace(ex.slot, func(m *chat.Message) {
		m.Status = chat.StatusPending
		m.Content = chat.ThinkingContent
	})
	c.log.Info("Retrying turn %s for project %s", ex.key, ex.projectID)
	c.dispatch(ex)
	return true
}

func (c *ChatController) dispatch(ex *exchange) {
	c.session.SetSending(ex.projectID, true)
	c.setPhase(ex.projectID, process.StateSent)

	ex.channel = c.channel
	ex.pushed = c.channel.State() == channel.StateOpen
	c.order = append(remove(c.order, ex), ex)

	c.channel.Send(channel.Turn{
		ProjectID: ex.projectID,
		Text:      ex.text,
		ClientID:  ex.key.String(),
	}, func(o channel.Outcome) { c.onOutcome(ex, o) })
}

func (c *ChatController) onOutcome(ex *exchange, o channel.Outcome) {
	if o.PublishErr != nil {
		c.log.Debug("Turn %s fell back after publish error: %v", ex.key, o.PublishErr)
	}
	if ex.done {
		c.log.Debug("Turn %s already settled, ignoring %s outcome", ex.key, o.Via)
		return
	}

	switch {
	case o.Via == channel.ViaPush:
		if ex.channel != c.channel || ex.channel.State() != channel.StateOpen {
			c.fail(ex, errChannelGone)
			return
		}
		ex.awaitingPush = true
		if c.opts.ReplyTimeout > 0 {
			ex.timer = c.loop.AfterFunc(c.opts.ReplyTimeout, func() {
				if !ex.done {
					c.fail(ex, errReplyTimeout)
				}
			})
		}
	case o.Err != nil:
		c.fail(ex, o.Err)
	default:
		r := o.Reply
		c.resolve(ex, resolution{
			messageID: r.MessageID.String(),
			content:   r.Reply,
			metadata:  r.Metadata(),
			createdAt: r.CreatedAt,
		})
	}
}

// resolve settles ex successfully. The placeholder becomes final, takes its
// durable id and metadata, and its text is revealed when the project is
// still on screen.
func (c *ChatController) resolve(ex *exchange, r resolution) {
	ex.done = true
	ex.awaitingPush = false
	ex.timer.Stop()

	if r.createdAt.IsZero() {
		r.createdAt = time.Now()
	}
	live := ex.store == c.store
	target := ex.store

	newID := ex.slot
	if r.messageID != "" {
		durable := chat.DurableID(r.messageID)
		if !target.Contains(durable) {
			newID = durable
		}
	}

	ok := target.Replace(ex.slot, func(m *chat.Message) {
		m.ID = newID
		m.Status = chat.StatusFinal
		m.Metadata = r.metadata
		m.CreatedAt = r.createdAt
		if live {
			m.Content = ""
		} else {
			m.Content = r.content
		}
	})
	if ok {
		ex.slot = newID
	}

	c.previews.Put(ex.projectID, chat.Preview{Role: chat.RoleAssistant, Content: r.content, CreatedAt: r.createdAt})
	c.session.SetSending(ex.projectID, false)
	c.setPhase(ex.projectID, process.StateResolved)
	c.order = remove(c.order, ex)

	if !live {
		c.log.Debug("Reply for project %s landed off screen", ex.projectID)
		return
	}
	slot := ex.slot
	c.reveal.Start(slot, r.content, func(prefix string) bool {
		if !target.Replace(slot, func(m *chat.Message) { m.Content = prefix }) {
			return false
		}
		if prefix == r.content {
			c.emitReply(target, slot)
		}
		return true
	})
}

func (c *ChatController) emitReply(store *chat.Store, id chat.ID) {
	if msg, ok := store.Get(id); ok {
		c.emit(Update{Kind: UpdateReply, ProjectID: store.ProjectID(), Message: msg})
	}
}

// fail marks ex errored and keeps its text for a retry.
func (c *ChatController) fail(ex *exchange, err error) {
	ex.done = true
	ex.awaitingPush = false
	ex.timer.Stop()

	ex.store.Replace(ex.slot, func(m *chat.Message) {
		m.Status = chat.StatusErrored
		m.Content = chat.FailedContent
		m.RetryText = ex.text
	})
	c.session.SetSending(ex.projectID, false)
	c.setPhase(ex.projectID, process.StateFailed)
	c.order = remove(c.order, ex)

	c.log.Warn("Turn %s for project %s failed: %v", ex.key, ex.projectID, err)
	if ex.store == c.store {
		c.raiseNotice(failedNotice)
	}
}

func (c *ChatController) onChannelEvent(ch *channel.Channel) func(channel.Event) {
	return func(ev channel.Event) {
		if ch != c.channel {
			return
		}
		switch ev.Kind {
		case channel.EventState:
			c.emit(Update{Kind: UpdateChannel, ProjectID: ev.ProjectID, Channel: ev.State})
			if ev.State == channel.StateClosed {
				c.failPushPending(ch, errChannelGone)
			}
		case channel.EventConnected:
			c.log.Debug("Push channel ready for project %s", ev.ProjectID)
		case channel.EventThinking:
			c.log.Debug("Assistant is thinking for project %s", ev.ProjectID)
		case channel.EventError:
			c.onPushError(ch, ev.Detail)
		case channel.EventAssistantMessage:
			c.onPushReply(ch, ev.Reply)
		}
	}
}

func (c *ChatController) onPushError(ch *channel.Channel, detail string) {
	if ex := c.oldestPushPending(ch); ex != nil {
		c.fail(ex, fmt.Errorf("%w: %s", errAssistantError, detail))
		return
	}
	if detail == "" {
		detail = "The assistant reported an error."
	}
	c.raiseNotice(detail)
}

// onPushReply matches a pushed assistant message to its turn. Replies for a
// settled turn and replies already in the timeline are dropped.
func (c *ChatController) onPushReply(ch *channel.Channel, r *channel.Reply) {
	res := resolution{
		messageID: r.MessageID,
		content:   r.Content,
		metadata:  r.Metadata,
		createdAt: r.CreatedAt,
	}

	if r.ClientID != "" {
		if ex, ok := c.exchanges[chat.ParseID(r.ClientID)]; ok {
			if ex.done {
				c.log.Debug("Duplicate reply %s for settled turn %s", r.MessageID, ex.key)
				return
			}
			c.resolve(ex, res)
			return
		}
	} else if ex := c.oldestPushPending(ch); ex != nil {
		c.resolve(ex, res)
		return
	}

	if r.MessageID != "" && c.store.Contains(chat.DurableID(r.MessageID)) {
		c.log.Debug("Duplicate reply %s already in timeline", r.MessageID)
		return
	}

	id := chat.NewLocalID()
	if r.MessageID != "" {
		id = chat.DurableID(r.MessageID)
	}
	msg := chat.NewAssistantMessage(id, r.Content, res.createdAt, r.Metadata)
	if c.store.Append(msg) {
		c.previews.Put(c.store.ProjectID(), chat.PreviewFromMessage(msg))
		c.emitReply(c.store, msg.ID)
	}
}

func (c *ChatController) oldestPushPending(ch *channel.Channel) *exchange {
	for _, ex := range c.order {
		if !ex.done && ex.channel == ch && ex.pushed {
			return ex
		}
	}
	return nil
}

// failPushPending fails turns whose reply can only come over ch.
func (c *ChatController) failPushPending(ch *channel.Channel, err error) {
	for _, ex := range append([]*exchange(nil), c.order...) {
		if !ex.done && ex.channel == ch && ex.awaitingPush {
			c.fail(ex, err)
		}
	}
}

func remove(list []*exchange, ex *exchange) []*exchange {
	for i, e := range list {
		if e == ex {
			return append(list[:i:i], list[i+1:]...)
		}
	}
	return list
}
