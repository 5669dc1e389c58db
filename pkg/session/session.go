// Package session holds the signed-in user's state and remembers the active
// project across restarts.
package session

// User is the signed-in account.
type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

// Session is created at login and reset at logout. It is confined to the
// controller's event loop and is not safe for concurrent use.
type Session struct {
	User  User
	Token string

	active         string
	sending        map[string]bool
	loadingHistory bool
}

func New(user User, token string) *Session {
	return &Session{
		User:    user,
		Token:   token,
		sending: make(map[string]bool),
	}
}

// LoggedIn reports whether the session carries a user.
func (s *Session) LoggedIn() bool {
	return s != nil && s.User.ID != ""
}

func (s *Session) Active() string {
	return s.active
}

// SetActive switches the active project and reports whether it changed.
func (s *Session) SetActive(projectID string) bool {
	if s.active == projectID {
		return false
	}
	s.active = projectID
	return true
}

// Sending reports whether an exchange is outstanding for projectID.
func (s *Session) Sending(projectID string) bool {
	return s.sending[projectID]
}

func (s *Session) SetSending(projectID string, sending bool) {
	if sending {
		s.sending[projectID] = true
		return
	}
	delete(s.sending, projectID)
}

func (s *Session) LoadingHistory() bool {
	return s.loadingHistory
}

func (s *Session) SetLoadingHistory(loading bool) {
	s.loadingHistory = loading
}

// InputBlocked reports whether a new turn for the active project must be
// refused.
func (s *Session) InputBlocked() bool {
	return s.active == "" || s.loadingHistory || s.sending[s.active]
}

// Reset drops everything tied to the signed-in user.
func (s *Session) Reset() {
	s.User = User{}
	s.Token = ""
	s.active = ""
	s.loadingHistory = false
	s.sending = make(map[string]bool)
}
