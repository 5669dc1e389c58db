package channel

import (
	"net/http"
	"testing"

	"github.com/gorilla/websocket"
)

// newEchoHandler accepts token "tok" and echoes every frame back.
func newEchoHandler(t *testing.T) http.Handler {
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("token") != "tok" || r.URL.Query().Get("project_id") == "" {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade: %v", err)
			return
		}
		defer conn.Close()
		for {
			var f Frame
			if err := conn.ReadJSON(&f); err != nil {
				return
			}
			if err := conn.WriteJSON(f); err != nil {
				return
			}
		}
	})
}
