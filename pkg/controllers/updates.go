package controllers

import (
	"github.com/killallgit/atelier/pkg/channel"
	"github.com/killallgit/atelier/pkg/chat"
)

// UpdateKind says what changed.
type UpdateKind int

const (
	UpdateMessage UpdateKind = iota
	UpdateNotice
	UpdateChannel
	UpdateProject
	UpdateHistory
	// UpdateReply carries an assistant reply once its whole text is on
	// screen.
	UpdateReply
)

// Update is delivered to subscribers on the controller's event loop.
// Subscribers must not block and must not call back into the controller.
type Update struct {
	Kind      UpdateKind
	ProjectID string
	Message   chat.Message
	Notice    string
	Channel   channel.State
}

type subscriber func(Update)

// Subscribe registers fn for every update and returns a function that
// removes it.
func (c *ChatController) Subscribe(fn func(Update)) func() {
	var id int
	_ = c.loop.Call(func() {
		c.nextSub++
		id = c.nextSub
		c.subscribers[id] = fn
	})
	return func() {
		_ = c.loop.Call(func() { delete(c.subscribers, id) })
	}
}

func (c *ChatController) emit(u Update) {
	for _, fn := range c.subscribers {
		fn(u)
	}
}

// raiseNotice shows text until it is replaced or auto-dismissed.
func (c *ChatController) raiseNotice(text string) {
	c.noticeTimer.Stop()
	c.notice = text
	c.log.Info("Notice: %s", text)
	c.emit(Update{Kind: UpdateNotice, ProjectID: c.session.Active(), Notice: text})

	c.noticeTimer = c.loop.AfterFunc(c.opts.NoticeDismissAfter, func() {
		c.notice = ""
		c.noticeTimer = nil
		c.emit(Update{Kind: UpdateNotice, ProjectID: c.session.Active()})
	})
}

func (c *ChatController) clearNotice() {
	c.noticeTimer.Stop()
	c.noticeTimer = nil
	c.notice = ""
}
