// Package headless is a line-oriented chat client over the controller.
package headless

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/killallgit/atelier/pkg/api"
	"github.com/killallgit/atelier/pkg/controllers"
	"github.com/killallgit/atelier/pkg/logger"
	"github.com/killallgit/atelier/pkg/process"
	"github.com/killallgit/atelier/pkg/tui"
)

// HealthChecker reports whether the backend is reachable.
type HealthChecker interface {
	Health(ctx context.Context) (*api.Health, error)
}

// Options configures Run.
type Options struct {
	In     io.Reader
	Out    io.Writer
	Width  int
	Health HealthChecker // optional
}

// settlePoll is how often Run checks whether the controller is free for the
// next queued line.
const settlePoll = 20 * time.Millisecond

// Run drives ctrl from lines read on opts.In until /quit, end of input or
// ctx is done. The controller must already be bootstrapped.
//
// Lines that start a turn wait until the previous turn has been answered
// and revealed, so piped input is sent in order instead of being refused.
// At end of input Run returns once nothing is outstanding.
func Run(ctx context.Context, ctrl Controller, opts Options) error {
	out := NewOutput(opts.Out)
	render := tui.NewRenderer(opts.Width)

	if opts.Health != nil {
		if h, err := opts.Health.Health(ctx); err != nil {
			out.Println(render.Notice(fmt.Sprintf("Backend unreachable: %v", err)))
		} else {
			logger.Info("Backend health: %s", h.Status)
		}
	}

	handler := newUpdateHandler(out, render, ctrl.ActiveProject())
	unsubscribe := ctrl.Subscribe(handler.OnUpdate)
	defer unsubscribe()

	r := newRunner(ctrl, out, render)
	out.Println(render.Status(ctrl.Status()))
	out.Println("Type /help for commands.")

	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(opts.In)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr <- scanner.Err()
	}()

	tick := time.NewTicker(settlePoll)
	defer tick.Stop()

	var queue []string
	eof := false
	for {
		for len(queue) > 0 && (!needsIdle(queue[0]) || idle(ctrl.Status())) {
			line := queue[0]
			queue = queue[1:]
			if err := r.handle(ctx, line); err != nil {
				if errors.Is(err, errQuit) {
					return nil
				}
				return err
			}
		}
		if eof && len(queue) == 0 && idle(ctrl.Status()) {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-readErr:
			if err != nil {
				return fmt.Errorf("failed to read input: %w", err)
			}
			eof = true
			readErr = nil
		case projectID := <-handler.historyLoaded():
			if projectID == ctrl.ActiveProject() {
				out.Println(render.Timeline(ctrl.Messages()))
			}
		case line := <-lines:
			if isQuit(line) {
				return nil
			}
			queue = append(queue, line)
		case <-tick.C:
		}
	}
}

// idle reports whether a new turn can start: nothing is loading, sending or
// still being revealed.
func idle(st controllers.Status) bool {
	return !st.LoadingHistory && !st.Sending && st.Phase != process.StateRevealing
}

// needsIdle reports whether line acts on the latest reply and so has to wait
// for it.
func needsIdle(line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}
	if !strings.HasPrefix(line, "/") {
		return true
	}
	cmd, _, _ := strings.Cut(line, " ")
	switch cmd {
	case "/option", "/save", "/retry", "/context":
		return true
	}
	return false
}

func isQuit(line string) bool {
	switch strings.TrimSpace(line) {
	case "/quit", "/exit":
		return true
	}
	return false
}
