package headless

import (
	"strings"

	"github.com/killallgit/atelier/pkg/chat"
	"github.com/killallgit/atelier/pkg/controllers"
	"github.com/killallgit/atelier/pkg/logger"
	"github.com/killallgit/atelier/pkg/tui"
)

// updateHandler prints controller updates as they arrive. It runs on the
// controller's loop, so it only writes and signals; it never calls back
// into the controller.
//
// A reply being revealed is printed word by word as its text grows and is
// finished with its options once the whole text is on screen.
type updateHandler struct {
	out      *Output
	render   *tui.Renderer
	history  chan string
	lastNote string

	active  string
	streams map[chat.ID]int // words printed so far
}

func newUpdateHandler(out *Output, render *tui.Renderer, active string) *updateHandler {
	return &updateHandler{
		out:     out,
		render:  render,
		history: make(chan string, 1),
		active:  active,
		streams: make(map[chat.ID]int),
	}
}

func (h *updateHandler) OnUpdate(u controllers.Update) {
	switch u.Kind {
	case controllers.UpdateProject:
		if u.ProjectID != "" && u.ProjectID != h.active {
			h.endStreams()
			h.active = u.ProjectID
		}
	case controllers.UpdateReply:
		if u.ProjectID != h.active {
			return
		}
		if _, ok := h.streams[u.Message.ID]; ok {
			h.onChunk(u.Message)
			h.onComplete(u.Message)
			return
		}
		h.out.Println(h.render.Message(0, u.Message))
	case controllers.UpdateMessage:
		if u.ProjectID != h.active || !u.Message.IsAssistant() {
			return
		}
		h.onMessage(u.Message)
	case controllers.UpdateNotice:
		if u.Notice != "" && u.Notice != h.lastNote {
			h.out.Println(h.render.Notice(u.Notice))
		}
		h.lastNote = u.Notice
	case controllers.UpdateChannel:
		logger.Debug("Push channel for project %s is %s", u.ProjectID, u.Channel)
	case controllers.UpdateHistory:
		select {
		case h.history <- u.ProjectID:
		default:
		}
	}
}

func (h *updateHandler) onMessage(msg chat.Message) {
	switch {
	case msg.IsErrored():
		delete(h.streams, msg.ID)
		h.out.Println(h.render.Message(0, msg))
	case msg.Status != chat.StatusFinal:
	case msg.Content == "":
		// A resolved slot is emptied before its text is revealed.
		if _, ok := h.streams[msg.ID]; !ok {
			h.streams[msg.ID] = 0
		}
	default:
		if _, ok := h.streams[msg.ID]; ok {
			h.onChunk(msg)
		}
	}
}

// onChunk prints the words of msg not printed yet.
func (h *updateHandler) onChunk(msg chat.Message) {
	printed := h.streams[msg.ID]
	words := strings.Fields(msg.Content)
	if len(words) <= printed {
		return
	}
	var b strings.Builder
	if printed == 0 {
		b.WriteString(h.render.Header(msg))
	}
	for _, w := range words[printed:] {
		b.WriteString(" ")
		b.WriteString(h.render.Word(msg, w))
	}
	h.out.Printf("%s", b.String())
	h.streams[msg.ID] = len(words)
}

func (h *updateHandler) onComplete(msg chat.Message) {
	if h.streams[msg.ID] == 0 {
		h.out.Printf("%s", h.render.Header(msg))
	}
	delete(h.streams, msg.ID)
	h.out.Println(h.render.Details(msg))
}

// endStreams closes any partly printed line when its reveal is abandoned.
func (h *updateHandler) endStreams() {
	for id, printed := range h.streams {
		if printed > 0 {
			h.out.Println("")
		}
		delete(h.streams, id)
	}
}

// historyLoaded signals each project whose history finished loading.
func (h *updateHandler) historyLoaded() <-chan string {
	return h.history
}
