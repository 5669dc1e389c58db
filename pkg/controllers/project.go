package controllers

import (
	"context"
	"fmt"
	"strings"

	"github.com/killallgit/atelier/pkg/api"
	"github.com/killallgit/atelier/pkg/channel"
	"github.com/killallgit/atelier/pkg/chat"
	"github.com/killallgit/atelier/pkg/process"
	"github.com/killallgit/atelier/pkg/session"
	"golang.org/x/sync/errgroup"
)

// Bootstrap signs in with the configured token, loads projects and previews
// concurrently, and opens the project restored from the link marker or the
// durable record.
func (c *ChatController) Bootstrap(ctx context.Context) error {
	backend := c.opts.Backend
	me, err := backend.Me(ctx)
	if err != nil {
		return fmt.Errorf("failed to sign in: %w", err)
	}
	userID := me.ID.String()

	var projects []api.Project
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		p, err := backend.ListProjects(gctx, userID)
		if err != nil {
			return err
		}
		projects = p
		return nil
	})
	g.Go(func() error {
		if err := c.previews.LoadAll(gctx, backend, userID); err != nil {
			c.log.Warn("Continuing without previews: %v", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}

	owned := make([]string, 0, len(projects))
	for _, p := range projects {
		owned = append(owned, p.ID.String())
	}
	restored, source := c.opts.Persistence.Restore(ctx, userID, owned)
	c.log.Info("Signed in as %s with %d projects, restoring %q from %s", me.Username, len(projects), restored, source)

	return c.loop.Call(func() {
		c.session = session.New(session.User{ID: userID, Username: me.Username, Email: me.Email}, c.opts.Token)
		c.projects = projects
		c.emit(Update{Kind: UpdateProject})
		if restored != "" {
			c.selectProject(restored)
		}
	})
}

// SelectProject makes id the active project. The old channel is closed, its
// reveals cancelled and its timeline discarded; previews survive.
func (c *ChatController) SelectProject(id string) error {
	var err error
	if callErr := c.loop.Call(func() {
		switch {
		case !c.session.LoggedIn():
			err = ErrNotSignedIn
		case !c.owns(id):
			err = fmt.Errorf("%w: %s", ErrUnknownProject, id)
		default:
			c.selectProject(id)
		}
	}); callErr != nil {
		return callErr
	}
	return err
}

func (c *ChatController) selectProject(id string) {
	if c.session.Active() == id && c.store != nil {
		return
	}
	c.teardown()

	c.session.SetActive(id)
	c.composer = ""
	c.store = chat.NewStore(id)
	c.store.OnChange(func(m chat.Message) {
		c.emit(Update{Kind: UpdateMessage, ProjectID: id, Message: m})
	})

	var ch *channel.Channel
	ch = channel.New(c.loop, c.opts.Dialer, c.opts.Backend, id, c.session.Token, func(ev channel.Event) {
		c.onChannelEvent(ch)(ev)
	})
	c.channel = ch
	if c.opts.Dialer != nil {
		ch.Open(c.ctx)
	}

	c.opts.Persistence.Remember(c.session.User.ID, id)
	c.emit(Update{Kind: UpdateProject, ProjectID: id})
	c.loadHistory(id)
}

// teardown releases everything tied to the active project.
func (c *ChatController) teardown() {
	c.reveal.CancelAll()
	c.store = nil
	if old := c.channel; old != nil {
		c.channel = nil
		old.Close()
		c.failPushPending(old, errChannelGone)
	}
	c.exchanges = make(map[chat.ID]*exchange)
	c.order = nil
	c.session.SetLoadingHistory(false)
}

func (c *ChatController) loadHistory(projectID string) {
	store := c.store
	c.session.SetLoadingHistory(true)

	go func() {
		msgs, err := c.opts.Backend.History(c.ctx, projectID)
		c.loop.Post(func() {
			if c.store != store {
				return
			}
			c.session.SetLoadingHistory(false)
			if err != nil {
				c.log.Error("Failed to load history for project %s: %v", projectID, err)
				c.raiseNotice("Could not load conversation history.")
				return
			}

			history := make([]chat.Message, 0, len(msgs))
			for _, m := range msgs {
				if msg, ok := m.ToChat(); ok {
					history = append(history, msg)
				}
			}
			added := store.Seed(history)
			if len(history) > 0 {
				c.previews.Set(projectID, chat.PreviewFromMessage(history[len(history)-1]))
			}
			c.log.Debug("Loaded %d history messages for project %s", added, projectID)
			c.emit(Update{Kind: UpdateHistory, ProjectID: projectID})
		})
	}()
}

// CreateProject creates a project on the backend and selects it.
func (c *ChatController) CreateProject(ctx context.Context, title, roomType string) (*api.Project, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, fmt.Errorf("project title is required")
	}
	user := c.User()
	if user.ID == "" {
		return nil, ErrNotSignedIn
	}

	p, err := c.opts.Backend.CreateProject(ctx, api.NewProject{User: api.ID(user.ID), Title: title, RoomType: roomType})
	if err != nil {
		return nil, err
	}
	if err := c.loop.Call(func() {
		c.projects = append(c.projects, *p)
		c.selectProject(p.ID.String())
	}); err != nil {
		return nil, err
	}
	return p, nil
}

// SelectOption records a select feedback event for the option at index
// (zero based) of an assistant message, then asks for that option as a new
// turn.
func (c *ChatController) SelectOption(id chat.ID, index int) bool {
	var ok bool
	_ = c.loop.Call(func() { ok = c.selectOption(id, index) })
	return ok
}

func (c *ChatController) selectOption(id chat.ID, index int) bool {
	if c.store == nil || c.session.InputBlocked() {
		return false
	}
	msg, found := c.store.Get(id)
	if !found || !msg.IsAssistant() || msg.Status != chat.StatusFinal || msg.Metadata == nil {
		return false
	}
	if index < 0 || index >= len(msg.Metadata.DesignOptions) {
		return false
	}
	option := msg.Metadata.DesignOptions[index]

	ev := api.FeedbackEvent{
		User:      api.ID(c.session.User.ID),
		Project:   api.ID(c.session.Active()),
		EventType: api.FeedbackSelect,
		Payload: map[string]any{
			"selected_option_index": index + 1,
			"title":                 option.Title,
		},
	}
	if v := msg.Metadata.VersionID; v != "" {
		version := api.ID(v)
		ev.DesignVersion = &version
	}
	c.recordFeedback(ev)

	return c.submit(fmt.Sprintf("Let's go with option %d: %s", index+1, option.Title))
}

// SaveDesign saves the current design as a version, marks the latest
// assistant reply as saved, records a save event and continues the
// conversation.
func (c *ChatController) SaveDesign() bool {
	var ok bool
	_ = c.loop.Call(func() { ok = c.saveDesign() })
	return ok
}

func (c *ChatController) saveDesign() bool {
	if c.store == nil || c.session.InputBlocked() {
		return false
	}
	latest, found := c.store.LastFinalAssistant()
	if !found {
		return false
	}

	store := c.store
	projectID := c.session.Active()
	userID := c.session.User.ID
	notes := ""
	if p, ok := c.project(projectID); ok {
		notes = p.Title
	}

	go func() {
		v, err := c.opts.Backend.SaveVersion(c.ctx, projectID, api.NewVersion{Notes: notes})
		c.loop.Post(func() {
			if err != nil {
				c.log.Error("Failed to save design for project %s: %v", projectID, err)
				if store == c.store {
					c.raiseNotice("Could not save the design.")
				}
				return
			}

			store.Replace(latest.ID, func(m *chat.Message) {
				if m.Metadata == nil {
					m.Metadata = &chat.Metadata{}
				} else {
					m.Metadata = m.Metadata.Clone()
				}
				m.Metadata.Saved = true
				m.Metadata.VersionID = v.ID.String()
			})

			version := v.ID
			c.recordFeedback(api.FeedbackEvent{
				User:          api.ID(userID),
				Project:       api.ID(projectID),
				DesignVersion: &version,
				EventType:     api.FeedbackSave,
				Payload:       map[string]any{"version_number": v.VersionNumber},
			})

			if store != c.store {
				return
			}
			if !c.submit(fmt.Sprintf("I saved this design as version %d.", v.VersionNumber)) {
				c.log.Debug("Skipped follow-up turn after save for project %s", projectID)
			}
		})
	}()
	return true
}

// recordFeedback sends ev in the background. A failure raises a notice and
// never rolls back local state.
func (c *ChatController) recordFeedback(ev api.FeedbackEvent) {
	store := c.store
	go func() {
		if err := c.opts.Backend.RecordFeedback(c.ctx, ev); err != nil {
			c.log.Warn("Failed to record %s feedback: %v", ev.EventType, err)
			c.loop.Post(func() {
				if store == c.store {
					c.raiseNotice("Could not record your feedback.")
				}
			})
		}
	}()
}

// Logout clears the session, the previews and the durable record. The
// backend logout is best effort.
func (c *ChatController) Logout(ctx context.Context) error {
	var userID string
	if err := c.loop.Call(func() {
		userID = c.session.User.ID
		c.teardown()
		c.clearNotice()
		c.projects = nil
		c.phases = make(map[string]process.State)
		c.composer = ""
		c.session.Reset()
		c.previews.Clear()
		c.emit(Update{Kind: UpdateProject})
	}); err != nil {
		return err
	}
	if userID == "" {
		return nil
	}

	if err := c.opts.Backend.Logout(ctx); err != nil {
		c.log.Warn("Backend logout failed: %v", err)
	}
	return c.opts.Persistence.Logout(ctx, userID)
}

func (c *ChatController) owns(id string) bool {
	_, ok := c.project(id)
	return ok
}
