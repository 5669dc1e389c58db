package chat

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Status tracks a locally originated placeholder. Messages loaded from the
// backend are always final.
type Status string

const (
	StatusFinal   Status = "final"
	StatusPending Status = "pending"
	StatusErrored Status = "errored"
)

const (
	// ThinkingContent is shown in an assistant placeholder while its turn is in flight.
	ThinkingContent = "Thinking…"

	// FailedContent replaces the placeholder content when the exchange fails.
	FailedContent = "Sorry, something went wrong. Please try again."
)

type idKind uint8

const (
	kindLocal idKind = iota + 1
	kindDurable
)

// ID identifies a message within one project timeline. It is either a local
// id minted before the backend answered or a durable id assigned by the
// backend. IDs are comparable and usable as map keys.
type ID struct {
	kind  idKind
	value string
}

// NewLocalID mints a fresh local id.
func NewLocalID() ID {
	return ID{kind: kindLocal, value: uuid.NewString()}
}

// DurableID wraps a backend-assigned id.
func DurableID(v string) ID {
	return ID{kind: kindDurable, value: v}
}

// ParseID is the inverse of String.
func ParseID(s string) ID {
	if v, ok := strings.CutPrefix(s, "local:"); ok {
		return ID{kind: kindLocal, value: v}
	}
	return DurableID(s)
}

func (id ID) IsLocal() bool   { return id.kind == kindLocal }
func (id ID) IsDurable() bool { return id.kind == kindDurable }
func (id ID) IsZero() bool    { return id.kind == 0 }

// Value returns the raw id without its namespace.
func (id ID) Value() string { return id.value }

func (id ID) String() string {
	if id.kind == kindLocal {
		return "local:" + id.value
	}
	return id.value
}

// DesignOption is one concrete design proposal attached to an assistant reply.
type DesignOption struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	ImagePrompt string `json:"image_prompt,omitempty"`
}

// Metadata is the structured payload of a resolved assistant message.
type Metadata struct {
	DesignOptions   []DesignOption `json:"design_options,omitempty"`
	ResolvedContext map[string]any `json:"resolved_context,omitempty"`
	VersionID       string         `json:"version_id,omitempty"`
	Saved           bool           `json:"saved,omitempty"`
}

// Clone returns a copy that can be mutated without touching m.
func (m *Metadata) Clone() *Metadata {
	if m == nil {
		return nil
	}
	out := *m
	out.DesignOptions = append([]DesignOption(nil), m.DesignOptions...)
	if m.ResolvedContext != nil {
		out.ResolvedContext = make(map[string]any, len(m.ResolvedContext))
		for k, v := range m.ResolvedContext {
			out.ResolvedContext[k] = v
		}
	}
	return &out
}

type Message struct {
	ID        ID
	Role      Role
	Content   string
	CreatedAt time.Time
	Status    Status
	Metadata  *Metadata
	RetryText string
}

func NewUserMessage(content string) Message {
	return Message{
		ID:        NewLocalID(),
		Role:      RoleUser,
		Content:   strings.TrimSpace(content),
		CreatedAt: time.Now(),
		Status:    StatusFinal,
	}
}

// NewPlaceholder creates the pending assistant entry for an in-flight turn.
func NewPlaceholder(retryText string) Message {
	return Message{
		ID:        NewLocalID(),
		Role:      RoleAssistant,
		Content:   ThinkingContent,
		CreatedAt: time.Now(),
		Status:    StatusPending,
		RetryText: retryText,
	}
}

// NewAssistantMessage builds a final assistant message as delivered by the backend.
func NewAssistantMessage(id ID, content string, createdAt time.Time, meta *Metadata) Message {
	return Message{
		ID:        id,
		Role:      RoleAssistant,
		Content:   content,
		CreatedAt: createdAt,
		Status:    StatusFinal,
		Metadata:  meta,
	}
}

func (m Message) IsUser() bool      { return m.Role == RoleUser }
func (m Message) IsAssistant() bool { return m.Role == RoleAssistant }
func (m Message) IsPending() bool   { return m.Status == StatusPending }
func (m Message) IsErrored() bool   { return m.Status == StatusErrored }

// Retryable reports whether the message is a failed placeholder that can be resent.
func (m Message) Retryable() bool {
	return m.IsAssistant() && m.IsErrored() && m.RetryText != ""
}

func (m Message) IsEmpty() bool {
	return strings.TrimSpace(m.Content) == ""
}

// LatestWithOptions returns the newest final reply that offers design
// options.
func LatestWithOptions(msgs []Message) (Message, bool) {
	for i := len(msgs) - 1; i >= 0; i-- {
		m := msgs[i]
		if m.IsAssistant() && m.Status == StatusFinal && m.Metadata != nil && len(m.Metadata.DesignOptions) > 0 {
			return m, true
		}
	}
	return Message{}, false
}

// LatestRetryable returns the newest failed turn that can be sent again.
func LatestRetryable(msgs []Message) (Message, bool) {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Retryable() {
			return msgs[i], true
		}
	}
	return Message{}, false
}
