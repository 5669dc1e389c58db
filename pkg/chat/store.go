package chat

import (
	"github.com/killallgit/atelier/pkg/logger"
)

// ChangeFunc observes a message slot after it was appended or replaced.
type ChangeFunc func(msg Message)

// Store is the ordered timeline of one project. Messages keep their insertion
// slot forever; Replace mutates a slot in place and may re-key it from a local
// to a durable id.
//
// A Store is confined to the event loop and is not safe for concurrent use.
type Store struct {
	projectID string
	messages  []Message
	index     map[ID]int
	onChange  ChangeFunc
	log       *logger.Logger
}

func NewStore(projectID string) *Store {
	return &Store{
		projectID: projectID,
		index:     make(map[ID]int),
		log:       logger.WithComponent("message_store"),
	}
}

func (s *Store) ProjectID() string {
	return s.projectID
}

// OnChange registers the observer notified after every mutation.
func (s *Store) OnChange(fn ChangeFunc) {
	s.onChange = fn
}

// Append adds msg at the end. A message whose id is already present is
// rejected so a timeline never holds the same message twice.
func (s *Store) Append(msg Message) bool {
	if msg.ID.IsZero() {
		msg.ID = NewLocalID()
	}
	if _, exists := s.index[msg.ID]; exists {
		s.log.Warn("Append ignored, message %s already in project %s", msg.ID, s.projectID)
		return false
	}

	s.index[msg.ID] = len(s.messages)
	s.messages = append(s.messages, msg)
	s.notify(msg)
	return true
}

// Replace applies update to the message identified by id. An absent id is a
// no-op: that happens when a late reply targets a timeline that was discarded.
func (s *Store) Replace(id ID, update func(*Message)) bool {
	pos, ok := s.index[id]
	if !ok {
		s.log.Debug("Replace ignored, message %s not in project %s", id, s.projectID)
		return false
	}

	next := s.messages[pos]
	update(&next)

	if next.ID != id {
		if other, taken := s.index[next.ID]; taken && other != pos {
			s.log.Warn("Replace ignored, %s would re-key onto existing message %s", id, next.ID)
			return false
		}
		delete(s.index, id)
		s.index[next.ID] = pos
	}

	s.messages[pos] = next
	s.notify(next)
	return true
}

// Seed places loaded history ahead of anything already in the timeline and
// skips messages that are already present.
func (s *Store) Seed(history []Message) int {
	merged := make([]Message, 0, len(history)+len(s.messages))
	seen := make(map[ID]bool, len(history))
	for _, msg := range history {
		if _, exists := s.index[msg.ID]; exists || seen[msg.ID] {
			continue
		}
		seen[msg.ID] = true
		merged = append(merged, msg)
	}
	added := len(merged)
	merged = append(merged, s.messages...)

	s.messages = merged
	s.index = make(map[ID]int, len(merged))
	for i, msg := range merged {
		s.index[msg.ID] = i
	}
	for _, msg := range merged[:added] {
		s.notify(msg)
	}
	return added
}

func (s *Store) Get(id ID) (Message, bool) {
	pos, ok := s.index[id]
	if !ok {
		return Message{}, false
	}
	return s.messages[pos], true
}

func (s *Store) Contains(id ID) bool {
	_, ok := s.index[id]
	return ok
}

// List returns a copy of the timeline in insertion order.
func (s *Store) List() []Message {
	result := make([]Message, len(s.messages))
	copy(result, s.messages)
	return result
}

func (s *Store) Len() int {
	return len(s.messages)
}

func (s *Store) Last() (Message, bool) {
	if len(s.messages) == 0 {
		return Message{}, false
	}
	return s.messages[len(s.messages)-1], true
}

// LastFinalAssistant returns the most recent resolved assistant message.
func (s *Store) LastFinalAssistant() (Message, bool) {
	for i := len(s.messages) - 1; i >= 0; i-- {
		msg := s.messages[i]
		if msg.IsAssistant() && msg.Status == StatusFinal {
			return msg, true
		}
	}
	return Message{}, false
}

func (s *Store) CountByRole(role Role) int {
	n := 0
	for _, msg := range s.messages {
		if msg.Role == role {
			n++
		}
	}
	return n
}

func (s *Store) notify(msg Message) {
	if s.onChange != nil {
		s.onChange(msg)
	}
}
