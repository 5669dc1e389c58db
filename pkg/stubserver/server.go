// Package stubserver is an in-memory stand-in for the design assistant
// backend. It serves the REST routes and the push socket, and exposes knobs
// to inject faults from tests.
package stubserver

import (
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/killallgit/atelier/pkg/api"
	"github.com/killallgit/atelier/pkg/channel"
	"github.com/killallgit/atelier/pkg/chat"
	"github.com/killallgit/atelier/pkg/logger"
)

// Replier produces the assistant reply for a turn.
type Replier func(project api.Project, message string) (content string, meta *api.MessageMetadata)

// Server holds all backend state in memory.
type Server struct {
	mu sync.Mutex

	engine   *gin.Engine
	upgrader websocket.Upgrader
	log      *logger.Logger

	token    string
	user     api.User
	nextID   int
	projects []api.Project
	messages map[api.ID][]api.Message
	versions map[api.ID][]api.Version
	feedback []api.FeedbackEvent
	sockets  map[*socket]struct{}
	replier  Replier
	now      func() time.Time

	chatCalls     int
	pushTurns     int
	failChat      int
	failFeedback  bool
	failHistory   bool
	chatDelay     time.Duration
	historyDelay  time.Duration
	holdPush      bool
	duplicatePush bool
	omitClientID  bool
	held          []heldTurn
}

type heldTurn struct {
	sock  *socket
	frame channel.Frame
}

type socket struct {
	conn      *websocket.Conn
	projectID api.ID
	mu        sync.Mutex
}

func (s *socket) send(f channel.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(f)
}

// New creates a stub that accepts token and answers as user.
func New(token string, user api.User) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		token:    token,
		user:     user,
		nextID:   100,
		messages: make(map[api.ID][]api.Message),
		versions: make(map[api.ID][]api.Version),
		sockets:  make(map[*socket]struct{}),
		replier:  DefaultReplier,
		now:      time.Now,
		log:      logger.WithComponent("stubserver"),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}

	r := gin.New()
	r.Use(gin.Recovery())

	apiGroup := r.Group("/api")
	apiGroup.GET("/health", s.health)

	authed := apiGroup.Group("", s.requireToken)
	authed.GET("/auth/me", s.me)
	authed.POST("/auth/logout", s.logout)
	authed.GET("/projects/", s.listProjects)
	authed.POST("/projects/", s.createProject)
	authed.GET("/projects/previews/", s.previews)
	authed.GET("/projects/:id/messages/", s.history)
	authed.POST("/projects/:id/versions/", s.saveVersion)
	authed.POST("/agent/chat", s.chat)
	authed.POST("/feedback/", s.recordFeedback)

	r.GET("/ws/chat", s.push)

	s.engine = r
	return s
}

// Handler returns the HTTP handler serving every route.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves on addr until the listener fails.
func (s *Server) Run(addr string) error {
	s.log.Info("Stub backend listening on %s", addr)
	return s.engine.Run(addr)
}

// DefaultReplier proposes three design directions for any message.
func DefaultReplier(project api.Project, message string) (string, *api.MessageMetadata) {
	content := fmt.Sprintf("Here are three directions for your %s: %s", project.RoomType, message)
	return content, &api.MessageMetadata{
		DesignOptions: []chat.DesignOption{
			{Title: "Warm minimal", Description: "Oak, linen and soft white walls", ImagePrompt: "warm minimal " + project.RoomType},
			{Title: "Deep botanical", Description: "Sage green, rattan and brass", ImagePrompt: "botanical " + project.RoomType},
			{Title: "Coastal calm", Description: "Washed blues and pale timber", ImagePrompt: "coastal " + project.RoomType},
		},
		ResolvedContext: map[string]any{
			"room_type": project.RoomType,
			"request":   message,
		},
	}
}

func (s *Server) requireToken(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Token ") || strings.TrimPrefix(header, "Token ") != s.token {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "Invalid token."})
		return
	}
	c.Next()
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, api.Health{Status: "ok"})
}

func (s *Server) me(c *gin.Context) {
	c.JSON(http.StatusOK, s.user)
}

func (s *Server) logout(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"detail": "Logged out."})
}

func (s *Server) listProjects(c *gin.Context) {
	userID := api.ID(c.Query("user_id"))

	s.mu.Lock()
	defer s.mu.Unlock()
	out := []api.Project{}
	for _, p := range s.projects {
		if userID == "" || p.User == userID {
			out = append(out, p)
		}
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) createProject(c *gin.Context) {
	var req api.NewProject
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Title) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"title": []string{"This field is required."}})
		return
	}
	if req.User == "" {
		req.User = s.user.ID
	}
	c.JSON(http.StatusCreated, s.AddProject(req.User, req.Title, req.RoomType))
}

func (s *Server) previews(c *gin.Context) {
	userID := api.ID(c.Query("user_id"))

	s.mu.Lock()
	defer s.mu.Unlock()
	out := []api.ProjectPreview{}
	for _, p := range s.projects {
		if userID != "" && p.User != userID {
			continue
		}
		msgs := s.messages[p.ID]
		if len(msgs) == 0 {
			continue
		}
		last := msgs[len(msgs)-1]
		out = append(out, api.ProjectPreview{
			ProjectID: p.ID,
			Role:      last.Role,
			Content:   last.Content,
			CreatedAt: last.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) history(c *gin.Context) {
	id := api.ID(c.Param("id"))

	s.mu.Lock()
	fail, delay := s.failHistory, s.historyDelay
	_, ok := s.project(id)
	msgs := append([]api.Message{}, s.messages[id]...)
	s.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	if fail {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "history unavailable"})
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"detail": "Not found."})
		return
	}
	c.JSON(http.StatusOK, msgs)
}

func (s *Server) saveVersion(c *gin.Context) {
	id := api.ID(c.Param("id"))
	var req api.NewVersion
	_ = c.ShouldBindJSON(&req)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.project(id); !ok {
		c.JSON(http.StatusNotFound, gin.H{"detail": "Not found."})
		return
	}
	v := api.Version{
		ID:            s.newID(),
		Project:       id,
		VersionNumber: len(s.versions[id]) + 1,
		Notes:         req.Notes,
		CreatedAt:     s.now(),
	}
	s.versions[id] = append(s.versions[id], v)
	c.JSON(http.StatusCreated, v)
}

func (s *Server) chat(c *gin.Context) {
	var req api.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "invalid body"})
		return
	}

	s.mu.Lock()
	s.chatCalls++
	delay := s.chatDelay
	fail := s.failChat > 0
	if fail {
		s.failChat--
	}
	s.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	if fail {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "assistant unavailable"})
		return
	}

	reply, ok := s.runTurn(req.ProjectID, req.Message)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"detail": "Not found."})
		return
	}

	resp := api.ChatReply{
		Reply:     reply.Content,
		MessageID: reply.ID,
		CreatedAt: reply.CreatedAt,
	}
	if reply.Metadata != nil {
		resp.DesignOptions = reply.Metadata.DesignOptions
		resp.ResolvedContext = reply.Metadata.ResolvedContext
		resp.VersionID = reply.Metadata.VersionID
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) recordFeedback(c *gin.Context) {
	var ev api.FeedbackEvent
	if err := c.ShouldBindJSON(&ev); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "invalid body"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failFeedback {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "feedback unavailable"})
		return
	}
	s.feedback = append(s.feedback, ev)
	c.JSON(http.StatusCreated, gin.H{"id": s.newID(), "event_type": ev.EventType})
}

// runTurn stores the user message and the assistant reply.
func (s *Server) runTurn(projectID api.ID, text string) (api.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.project(projectID)
	if !ok {
		return api.Message{}, false
	}
	content, meta := s.replier(p, text)
	s.appendLocked(projectID, "user", text, nil)
	return s.appendLocked(projectID, "assistant", content, meta), true
}

func (s *Server) project(id api.ID) (api.Project, bool) {
	for _, p := range s.projects {
		if p.ID == id {
			return p, true
		}
	}
	return api.Project{}, false
}

func (s *Server) newID() api.ID {
	s.nextID++
	return api.ID(strconv.Itoa(s.nextID))
}

func (s *Server) appendLocked(projectID api.ID, role, content string, meta *api.MessageMetadata) api.Message {
	m := api.Message{
		ID:        s.newID(),
		Role:      role,
		Content:   content,
		Metadata:  meta,
		CreatedAt: s.now(),
	}
	s.messages[projectID] = append(s.messages[projectID], m)
	return m
}

// AddProject seeds a project owned by userID.
func (s *Server) AddProject(userID api.ID, title, roomType string) api.Project {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	p := api.Project{
		ID:        s.newID(),
		User:      userID,
		Title:     title,
		RoomType:  roomType,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.projects = append(s.projects, p)
	return p
}

// AddMessage seeds a stored message.
func (s *Server) AddMessage(projectID api.ID, role, content string) api.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendLocked(projectID, role, content, nil)
}

// Messages returns the stored history of a project.
func (s *Server) Messages(projectID api.ID) []api.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]api.Message{}, s.messages[projectID]...)
}

// Feedback returns every recorded feedback event.
func (s *Server) Feedback() []api.FeedbackEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]api.FeedbackEvent{}, s.feedback...)
}

// Versions returns the saved versions of a project.
func (s *Server) Versions(projectID api.ID) []api.Version {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]api.Version{}, s.versions[projectID]...)
}

// ChatCalls counts fallback turns received.
func (s *Server) ChatCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chatCalls
}

// PushTurns counts turns received over the socket.
func (s *Server) PushTurns() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pushTurns
}

// SetReplier replaces how replies are produced.
func (s *Server) SetReplier(r Replier) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replier = r
}

// FailChat makes the next n fallback turns answer 500.
func (s *Server) FailChat(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failChat = n
}

// FailFeedback makes feedback recording answer 500.
func (s *Server) FailFeedback(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failFeedback = fail
}

// FailHistory makes history loads answer 500.
func (s *Server) FailHistory(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failHistory = fail
}

// SetChatDelay delays every fallback reply.
func (s *Server) SetChatDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chatDelay = d
}

// SetHistoryDelay delays every history load.
func (s *Server) SetHistoryDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.historyDelay = d
}

// HoldPush keeps pushed turns unanswered until ReleasePush.
func (s *Server) HoldPush(hold bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.holdPush = hold
}

// DuplicatePush sends every pushed reply twice.
func (s *Server) DuplicatePush(dup bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.duplicatePush = dup
}

// OmitClientID drops the turn correlation from pushed replies.
func (s *Server) OmitClientID(omit bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.omitClientID = omit
}

// ProjectIDs returns every project id, sorted.
func (s *Server) ProjectIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.projects))
	for _, p := range s.projects {
		ids = append(ids, p.ID.String())
	}
	sort.Strings(ids)
	return ids
}

// Projects returns every project the stub holds.
func (s *Server) Projects() []api.Project {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]api.Project(nil), s.projects...)
}
