package controllers

import (
	"context"
	"time"

	"github.com/killallgit/atelier/pkg/api"
	"github.com/killallgit/atelier/pkg/channel"
	"github.com/killallgit/atelier/pkg/chat"
	"github.com/killallgit/atelier/pkg/config"
	"github.com/killallgit/atelier/pkg/session"
)

// Backend is every backend call the controller makes. *api.Client
// satisfies it.
type Backend interface {
	Me(ctx context.Context) (*api.User, error)
	Logout(ctx context.Context) error
	ListProjects(ctx context.Context, userID string) ([]api.Project, error)
	CreateProject(ctx context.Context, p api.NewProject) (*api.Project, error)
	History(ctx context.Context, projectID string) ([]api.Message, error)
	Previews(ctx context.Context, userID string) (map[string]chat.Preview, error)
	Chat(ctx context.Context, projectID, message string) (*api.ChatReply, error)
	RecordFeedback(ctx context.Context, ev api.FeedbackEvent) error
	SaveVersion(ctx context.Context, projectID string, v api.NewVersion) (*api.Version, error)
}

// Options wires a ChatController.
type Options struct {
	Backend     Backend
	Dialer      channel.Dialer // nil keeps every turn on the fallback path
	Persistence *session.Persistence
	Token       string

	RevealBudget       time.Duration
	RevealMinInterval  time.Duration
	NoticeDismissAfter time.Duration
	ReplyTimeout       time.Duration // zero waits for pushed replies forever
}

// OptionsFromConfig fills timings from cfg.
func OptionsFromConfig(cfg *config.Config, backend Backend, dialer channel.Dialer, persistence *session.Persistence) Options {
	if !cfg.Channel.Enabled {
		dialer = nil
	}
	return Options{
		Backend:            backend,
		Dialer:             dialer,
		Persistence:        persistence,
		Token:              cfg.Auth.Token,
		RevealBudget:       cfg.Reveal.Budget,
		RevealMinInterval:  cfg.Reveal.MinInterval,
		NoticeDismissAfter: cfg.Notice.DismissAfter,
		ReplyTimeout:       cfg.Channel.ReplyTimeout,
	}
}

func (o *Options) applyDefaults() {
	if o.RevealBudget <= 0 {
		o.RevealBudget = 2 * time.Second
	}
	if o.RevealMinInterval <= 0 {
		o.RevealMinInterval = 30 * time.Millisecond
	}
	if o.NoticeDismissAfter <= 0 {
		o.NoticeDismissAfter = 4 * time.Second
	}
	if o.Persistence == nil {
		loc, _ := session.ParseLocation("")
		o.Persistence = session.NewPersistence(session.NewMemoryRecord(), loc)
	}
}
