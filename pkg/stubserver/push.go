package stubserver

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/killallgit/atelier/pkg/api"
	"github.com/killallgit/atelier/pkg/channel"
)

func (s *Server) push(c *gin.Context) {
	if c.Query("token") != s.token {
		c.JSON(http.StatusUnauthorized, gin.H{"detail": "Invalid token."})
		return
	}
	projectID := api.ID(c.Query("project_id"))

	s.mu.Lock()
	_, ok := s.project(projectID)
	s.mu.Unlock()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"detail": "Not found."})
		return
	}

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn("Upgrade failed: %v", err)
		return
	}
	sock := &socket{conn: conn, projectID: projectID}

	s.mu.Lock()
	s.sockets[sock] = struct{}{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.sockets, sock)
		s.mu.Unlock()
		conn.Close()
	}()

	if err := sock.send(channel.Frame{Type: channel.FrameConnected, ProjectID: projectID}); err != nil {
		return
	}

	for {
		var f channel.Frame
		if err := conn.ReadJSON(&f); err != nil {
			return
		}
		if f.Type != channel.FrameUserMessage {
			continue
		}

		s.mu.Lock()
		s.pushTurns++
		hold := s.holdPush
		if hold {
			s.held = append(s.held, heldTurn{sock: sock, frame: f})
		}
		s.mu.Unlock()

		_ = sock.send(channel.Frame{Type: channel.FrameThinking, ProjectID: projectID})
		if !hold {
			s.answer(sock, f)
		}
	}
}

func (s *Server) answer(sock *socket, f channel.Frame) {
	reply, ok := s.runTurn(sock.projectID, f.Message)
	if !ok {
		_ = sock.send(channel.Frame{Type: channel.FrameError, Detail: "project not found"})
		return
	}

	s.mu.Lock()
	dup, omit := s.duplicatePush, s.omitClientID
	s.mu.Unlock()

	out := channel.Frame{
		Type:      channel.FrameAssistantMessage,
		ProjectID: sock.projectID,
		MessageID: reply.ID,
		Content:   reply.Content,
		Metadata:  reply.Metadata,
		CreatedAt: &reply.CreatedAt,
	}
	if !omit {
		out.ClientID = f.ClientID
	}
	_ = sock.send(out)
	if dup {
		_ = sock.send(out)
	}
}

// ReleasePush answers every held turn.
func (s *Server) ReleasePush() int {
	s.mu.Lock()
	held := s.held
	s.held = nil
	s.mu.Unlock()

	for _, h := range held {
		s.answer(h.sock, h.frame)
	}
	return len(held)
}

// FailHeldPush answers every held turn with an error frame.
func (s *Server) FailHeldPush(detail string) int {
	s.mu.Lock()
	held := s.held
	s.held = nil
	s.mu.Unlock()

	for _, h := range held {
		_ = h.sock.send(channel.Frame{Type: channel.FrameError, Detail: detail})
	}
	return len(held)
}

// Broadcast sends a frame to every socket open for projectID.
func (s *Server) Broadcast(projectID api.ID, f channel.Frame) int {
	s.mu.Lock()
	var targets []*socket
	for sock := range s.sockets {
		if sock.projectID == projectID {
			targets = append(targets, sock)
		}
	}
	s.mu.Unlock()

	for _, sock := range targets {
		_ = sock.send(f)
	}
	return len(targets)
}

// OpenSockets counts connected push sockets.
func (s *Server) OpenSockets() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sockets)
}

// DropSockets closes every push socket from the server side.
func (s *Server) DropSockets() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for sock := range s.sockets {
		sock.conn.Close()
	}
}
