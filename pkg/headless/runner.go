package headless

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/killallgit/atelier/pkg/api"
	"github.com/killallgit/atelier/pkg/chat"
	"github.com/killallgit/atelier/pkg/controllers"
	"github.com/killallgit/atelier/pkg/logger"
	"github.com/killallgit/atelier/pkg/tui"
)

// Controller is the part of the chat controller the REPL drives.
// *controllers.ChatController satisfies it.
type Controller interface {
	Subscribe(fn func(controllers.Update)) func()
	Send(text string) bool
	Retry(id chat.ID) bool
	SelectProject(id string) error
	CreateProject(ctx context.Context, title, roomType string) (*api.Project, error)
	SelectOption(id chat.ID, index int) bool
	SaveDesign() bool
	Logout(ctx context.Context) error
	Messages() []chat.Message
	Projects() []api.Project
	Previews() map[string]chat.Preview
	ActiveProject() string
	Status() controllers.Status
}

var errQuit = errors.New("quit")

const helpText = `Commands:
  /projects              list your projects
  /open <id>             switch to a project
  /new <title> [| room]  create a project and open it
  /history               show the conversation
  /option <n>            pick design option n from the latest reply
  /save                  save the latest design as a version
  /context               show what the designer understood
  /retry                 resend the last failed message
  /status                show connection and session state
  /logout                sign out and forget the last project
  /quit                  leave
Anything else is sent to the designer.`

// runner executes REPL lines against a controller.
type runner struct {
	ctrl   Controller
	out    *Output
	render *tui.Renderer
}

func newRunner(ctrl Controller, out *Output, render *tui.Renderer) *runner {
	return &runner{ctrl: ctrl, out: out, render: render}
}

// handle runs one input line. It returns errQuit when the session should
// end.
func (r *runner) handle(ctx context.Context, line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	if !strings.HasPrefix(line, "/") {
		r.send(line)
		return nil
	}

	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)
	logger.Debug("REPL command %s %q", cmd, arg)

	switch cmd {
	case "/help", "/?":
		r.out.Println(helpText)
	case "/projects":
		r.out.Println(r.render.Projects(r.ctrl.Projects(), r.ctrl.Previews(), r.ctrl.ActiveProject()))
	case "/open":
		if arg == "" {
			r.out.Println("usage: /open <project id>")
			return nil
		}
		if err := r.ctrl.SelectProject(arg); err != nil {
			r.out.Error(err.Error())
			return nil
		}
		r.out.Println(r.render.Status(r.ctrl.Status()))
	case "/new":
		r.create(ctx, arg)
	case "/history":
		r.out.Println(r.render.Timeline(r.ctrl.Messages()))
	case "/option":
		r.option(arg)
	case "/save":
		if !r.ctrl.SaveDesign() {
			r.out.Println("Nothing to save yet.")
		}
	case "/context":
		r.context()
	case "/retry":
		r.retry()
	case "/status":
		r.out.Println(r.render.Status(r.ctrl.Status()))
	case "/logout":
		if err := r.ctrl.Logout(ctx); err != nil {
			r.out.Error(err.Error())
		}
		r.out.Println("Signed out.")
		return errQuit
	case "/quit", "/exit":
		return errQuit
	default:
		r.out.Printf("Unknown command %s. Type /help for the list.\n", cmd)
	}
	return nil
}

func (r *runner) send(text string) {
	if r.ctrl.Send(text) {
		return
	}
	st := r.ctrl.Status()
	switch {
	case st.ProjectID == "":
		r.out.Println("Open or create a project first.")
	case st.LoadingHistory:
		r.out.Println("Still loading the conversation, try again in a moment.")
	case st.Sending:
		r.out.Println("Still waiting for the last reply.")
	}
}

func (r *runner) create(ctx context.Context, arg string) {
	title, room, _ := strings.Cut(arg, "|")
	title = strings.TrimSpace(title)
	if title == "" {
		r.out.Println("usage: /new <title> [| room type]")
		return
	}
	p, err := r.ctrl.CreateProject(ctx, title, strings.TrimSpace(room))
	if err != nil {
		r.out.Error(fmt.Sprintf("could not create project: %v", err))
		return
	}
	r.out.Printf("Created project %s (%s).\n", p.ID, p.Title)
}

func (r *runner) option(arg string) {
	n, err := strconv.Atoi(arg)
	if err != nil || n < 1 {
		r.out.Println("usage: /option <n>")
		return
	}
	msg, ok := chat.LatestWithOptions(r.ctrl.Messages())
	if !ok {
		r.out.Println("No design options to choose from.")
		return
	}
	if !r.ctrl.SelectOption(msg.ID, n-1) {
		r.out.Printf("Option %d is not available.\n", n)
	}
}

func (r *runner) context() {
	msg, ok := latestFinalReply(r.ctrl.Messages())
	if !ok {
		r.out.Println("No reply yet.")
		return
	}
	out, err := r.render.Context(msg.Metadata)
	if err != nil {
		r.out.Error(err.Error())
		return
	}
	r.out.Println(out)
}

func (r *runner) retry() {
	msg, ok := chat.LatestRetryable(r.ctrl.Messages())
	if !ok {
		r.out.Println("Nothing to retry.")
		return
	}
	if !r.ctrl.Retry(msg.ID) {
		r.out.Println("Cannot retry right now.")
	}
}

func latestFinalReply(msgs []chat.Message) (chat.Message, bool) {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].IsAssistant() && msgs[i].Status == chat.StatusFinal {
			return msgs[i], true
		}
	}
	return chat.Message{}, false
}
