// Package reveal types out a finished assistant reply word by word.
package reveal

import (
	"strings"
	"time"

	"github.com/killallgit/atelier/pkg/chat"
	"github.com/killallgit/atelier/pkg/eventloop"
	"github.com/killallgit/atelier/pkg/logger"
)

// Timers schedules callbacks on the event loop.
type Timers interface {
	AfterFunc(d time.Duration, fn func()) *eventloop.Timer
}

// WriteFunc stores the revealed prefix. Returning false means the target
// message is gone and the reveal should stop.
type WriteFunc func(content string) bool

// Interval returns the tick cadence for a text of wordCount words:
// max(minimum, budget/wordCount).
func Interval(budget, minimum time.Duration, wordCount int) time.Duration {
	if wordCount <= 0 {
		return minimum
	}
	step := budget / time.Duration(wordCount)
	if step < minimum {
		return minimum
	}
	return step
}

type task struct {
	text     string
	words    []string
	next     int
	interval time.Duration
	write    WriteFunc
	timer    *eventloop.Timer
}

// Scheduler owns at most one running reveal per message id. It must only be
// used from the event loop.
type Scheduler struct {
	timers      Timers
	budget      time.Duration
	minInterval time.Duration
	active      map[chat.ID]*task
	log         *logger.Logger
}

func NewScheduler(timers Timers, budget, minInterval time.Duration) *Scheduler {
	return &Scheduler{
		timers:      timers,
		budget:      budget,
		minInterval: minInterval,
		active:      make(map[chat.ID]*task),
		log:         logger.WithComponent("reveal"),
	}
}

// Start reveals text into the message identified by id, cancelling any reveal
// already running for that id. The first word is written immediately and
// the last write is text itself, so line breaks survive the reveal.
func (s *Scheduler) Start(id chat.ID, text string, write WriteFunc) {
	s.Cancel(id)

	words := strings.Fields(text)
	if len(words) == 0 {
		write(text)
		return
	}

	t := &task{
		text:     text,
		words:    words,
		interval: Interval(s.budget, s.minInterval, len(words)),
		write:    write,
	}
	s.active[id] = t
	s.log.Debug("Reveal %s: %d words every %s", id, len(words), t.interval)
	s.step(id, t)
}

func (s *Scheduler) step(id chat.ID, t *task) {
	if s.active[id] != t {
		return
	}

	t.next++
	prefix := strings.Join(t.words[:t.next], " ")
	if t.next >= len(t.words) {
		prefix = t.text
	}
	if !t.write(prefix) {
		s.log.Debug("Reveal %s stopped, message gone", id)
		delete(s.active, id)
		return
	}
	if t.next >= len(t.words) {
		delete(s.active, id)
		return
	}

	t.timer = s.timers.AfterFunc(t.interval, func() { s.step(id, t) })
}

// Cancel stops the reveal for id. The message keeps whatever prefix was last
// written.
func (s *Scheduler) Cancel(id chat.ID) {
	t, ok := s.active[id]
	if !ok {
		return
	}
	t.timer.Stop()
	delete(s.active, id)
}

// CancelAll stops every running reveal.
func (s *Scheduler) CancelAll() {
	for id := range s.active {
		s.Cancel(id)
	}
}

// Active reports whether a reveal is running for id.
func (s *Scheduler) Active(id chat.ID) bool {
	_, ok := s.active[id]
	return ok
}

// ActiveCount returns the number of running reveals.
func (s *Scheduler) ActiveCount() int {
	return len(s.active)
}
