package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/killallgit/atelier/pkg/chat"
)

// ID is a backend primary key. The backend sends integers, but clients treat
// ids as opaque strings.
type ID string

func (id ID) String() string { return string(id) }

func (id ID) MarshalJSON() ([]byte, error) {
	if id == "" {
		return []byte("null"), nil
	}
	if n, err := strconv.ParseInt(string(id), 10, 64); err == nil {
		return []byte(strconv.FormatInt(n, 10)), nil
	}
	return json.Marshal(string(id))
}

func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*id = ""
	case len(data) > 0 && data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
	default:
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("invalid id %s: %w", data, err)
		}
		*id = ID(n.String())
	}
	return nil
}

type User struct {
	ID       ID     `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

type Project struct {
	ID        ID        `json:"id"`
	User      ID        `json:"user"`
	Title     string    `json:"title"`
	RoomType  string    `json:"room_type"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewProject is the body of a project creation request.
type NewProject struct {
	User     ID     `json:"user"`
	Title    string `json:"title"`
	RoomType string `json:"room_type"`
}

// MessageMetadata is the metadata_json blob stored with an assistant message.
type MessageMetadata struct {
	DesignOptions   []chat.DesignOption `json:"design_options,omitempty"`
	ResolvedContext map[string]any      `json:"resolved_context,omitempty"`
	VersionID       ID                  `json:"version_id,omitempty"`
}

// ToChat converts wire metadata. Empty metadata becomes nil.
func (m *MessageMetadata) ToChat() *chat.Metadata {
	if m == nil || (len(m.DesignOptions) == 0 && len(m.ResolvedContext) == 0 && m.VersionID == "") {
		return nil
	}
	return &chat.Metadata{
		DesignOptions:   m.DesignOptions,
		ResolvedContext: m.ResolvedContext,
		VersionID:       m.VersionID.String(),
	}
}

// Message is one entry of a project's stored history.
type Message struct {
	ID        ID               `json:"id"`
	Role      string           `json:"role"`
	Content   string           `json:"content"`
	Metadata  *MessageMetadata `json:"metadata_json,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
}

// ToChat converts a stored message to a final timeline entry. System
// messages are not shown and report false.
func (m Message) ToChat() (chat.Message, bool) {
	var role chat.Role
	switch m.Role {
	case "user":
		role = chat.RoleUser
	case "assistant":
		role = chat.RoleAssistant
	default:
		return chat.Message{}, false
	}
	return chat.Message{
		ID:        chat.DurableID(m.ID.String()),
		Role:      role,
		Content:   m.Content,
		CreatedAt: m.CreatedAt,
		Status:    chat.StatusFinal,
		Metadata:  m.Metadata.ToChat(),
	}, true
}

// ProjectPreview is the latest message of one project.
type ProjectPreview struct {
	ProjectID ID        `json:"project_id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// ChatRequest is the body of a fallback turn and, with a type and client id,
// of a pushed turn.
type ChatRequest struct {
	ProjectID ID     `json:"project_id"`
	Message   string `json:"message"`
}

// ChatReply is the fallback turn response.
type ChatReply struct {
	Reply           string              `json:"reply"`
	DesignOptions   []chat.DesignOption `json:"design_options"`
	ResolvedContext map[string]any      `json:"resolved_context"`
	VersionID       ID                  `json:"version_id"`
	MessageID       ID                  `json:"message_id"`
	CreatedAt       time.Time           `json:"created_at"`
}

// Metadata returns the reply's metadata in timeline form.
func (r ChatReply) Metadata() *chat.Metadata {
	return (&MessageMetadata{
		DesignOptions:   r.DesignOptions,
		ResolvedContext: r.ResolvedContext,
		VersionID:       r.VersionID,
	}).ToChat()
}

// Feedback event types.
const (
	FeedbackSelect = "select"
	FeedbackSave   = "save"
)

// FeedbackEvent records a user's reaction to a design.
type FeedbackEvent struct {
	User          ID             `json:"user"`
	Project       ID             `json:"project"`
	DesignVersion *ID            `json:"design_version"`
	EventType     string         `json:"event_type"`
	Payload       map[string]any `json:"payload_json"`
}

// NewVersion is the body of a design save.
type NewVersion struct {
	Notes string `json:"notes,omitempty"`
}

// Version is a saved design version.
type Version struct {
	ID            ID        `json:"id"`
	Project       ID        `json:"project"`
	VersionNumber int       `json:"version_number"`
	Notes         string    `json:"notes"`
	CreatedAt     time.Time `json:"created_at"`
}

// Health is the backend liveness response.
type Health struct {
	Status string `json:"status"`
}
