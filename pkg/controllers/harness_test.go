package controllers_test

import (
	"context"
	"sync"
	"time"

	"github.com/killallgit/atelier/pkg/api"
	"github.com/killallgit/atelier/pkg/channel"
	"github.com/killallgit/atelier/pkg/chat"
	"github.com/killallgit/atelier/pkg/controllers"
	"github.com/killallgit/atelier/pkg/session"
	. "github.com/onsi/gomega"
	"github.com/stretchr/testify/mock"
)

type harness struct {
	backend     *MockBackend
	dialer      *fakeDialer
	record      *session.MemoryRecord
	location    *session.Location
	persistence *session.Persistence
	ctrl        *controllers.ChatController
	opts        controllers.Options

	mu      sync.Mutex
	updates []controllers.Update
}

var testProjects = []api.Project{
	{ID: "5", User: "42", Title: "Bedroom refresh", RoomType: "bedroom"},
	{ID: "7", User: "42", Title: "Home office", RoomType: "office"},
}

func newHarness(push bool) *harness {
	h := &harness{
		backend: &MockBackend{},
		record:  session.NewMemoryRecord(),
	}
	if push {
		h.dialer = newFakeDialer()
	}
	h.opts = controllers.Options{
		Backend:            h.backend,
		Token:              "tok",
		RevealBudget:       20 * time.Millisecond,
		RevealMinInterval:  time.Millisecond,
		NoticeDismissAfter: time.Second,
	}
	if h.dialer != nil {
		h.opts.Dialer = h.dialer
	}
	return h
}

// start registers default expectations after any test-specific ones, then
// signs in.
func (h *harness) start(link string) {
	var err error
	h.location, err = session.ParseLocation(link)
	Expect(err).NotTo(HaveOccurred())
	h.persistence = session.NewPersistence(h.record, h.location)
	h.opts.Persistence = h.persistence

	h.backend.On("Me").Return(&api.User{ID: "42", Username: "ada"}, nil).Maybe()
	h.backend.On("ListProjects", "42").Return(testProjects, nil).Maybe()
	h.backend.On("Previews", "42").Return(map[string]chat.Preview{}, nil).Maybe()
	h.backend.On("History", mock.Anything).Return([]api.Message{}, nil).Maybe()
	h.backend.On("RecordFeedback", mock.Anything).Return(nil).Maybe()

	h.ctrl = controllers.NewChatController(h.opts)
	h.ctrl.Subscribe(func(u controllers.Update) {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.updates = append(h.updates, u)
	})
	Expect(h.ctrl.Bootstrap(context.Background())).To(Succeed())
	Eventually(h.ctrl.LoadingHistory).Should(BeFalse())
}

func (h *harness) stop() {
	if h.ctrl != nil {
		h.ctrl.Close()
	}
}

func (h *harness) waitOpen() *fakeConn {
	Eventually(h.ctrl.ChannelState).Should(Equal(channel.StateOpen))
	return h.dialer.latest(h.ctrl.ActiveProject())
}

// assistantStatuses returns the status history of the assistant slot created by the
// first pending placeholder.
func (h *harness) assistantStatuses() []chat.Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []chat.Status
	for _, u := range h.updates {
		if u.Kind == controllers.UpdateMessage && u.Message.IsAssistant() {
			out = append(out, u.Message.Status)
		}
	}
	return out
}

// replies returns every reply announced as fully shown.
func (h *harness) replies() []chat.Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []chat.Message
	for _, u := range h.updates {
		if u.Kind == controllers.UpdateReply {
			out = append(out, u.Message)
		}
	}
	return out
}

func (h *harness) message(i int) func() chat.Message {
	return func() chat.Message {
		msgs := h.ctrl.Messages()
		if i >= len(msgs) {
			return chat.Message{}
		}
		return msgs[i]
	}
}

func chatReply(id, text string) *api.ChatReply {
	return &api.ChatReply{
		Reply:     text,
		MessageID: api.ID(id),
		DesignOptions: []chat.DesignOption{
			{Title: "Warm minimal"},
			{Title: "Deep botanical"},
		},
		ResolvedContext: map[string]any{"room_type": "bedroom"},
		VersionID:       "3",
	}
}

func countRole(msgs []chat.Message, role chat.Role) int {
	n := 0
	for _, m := range msgs {
		if m.Role == role {
			n++
		}
	}
	return n
}
