package channel

import (
	"time"

	"github.com/killallgit/atelier/pkg/api"
)

// Frame types carried on the push socket.
const (
	FrameConnected        = "connected"
	FrameThinking         = "thinking"
	FrameError            = "error"
	FrameAssistantMessage = "assistant_message"
	FrameUserMessage      = "user_message"
)

// Frame is one JSON message on the push socket, in either direction.
type Frame struct {
	Type      string               `json:"type"`
	ProjectID api.ID               `json:"project_id,omitempty"`
	Message   string               `json:"message,omitempty"`
	ClientID  string               `json:"client_id,omitempty"`
	MessageID api.ID               `json:"message_id,omitempty"`
	Content   string               `json:"content,omitempty"`
	Metadata  *api.MessageMetadata `json:"metadata_json,omitempty"`
	CreatedAt *time.Time           `json:"created_at,omitempty"`
	Detail    string               `json:"detail,omitempty"`
}

// UserMessage builds the outbound frame for a pushed turn.
func UserMessage(projectID, text, clientID string) Frame {
	return Frame{
		Type:      FrameUserMessage,
		ProjectID: api.ID(projectID),
		Message:   text,
		ClientID:  clientID,
	}
}
