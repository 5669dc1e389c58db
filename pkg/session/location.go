package session

import (
	"fmt"
	"net/url"
	"sync"
)

// MarkerParam is the query parameter of the shareable link that names the
// active project.
const MarkerParam = "p"

const defaultLink = "/app"

// Location is the shareable app link. Its marker is a projection of the
// durable record and is only read back at start-up.
type Location struct {
	mu  sync.RWMutex
	url *url.URL
}

// ParseLocation parses a shareable link. An empty link yields the bare app
// location.
func ParseLocation(link string) (*Location, error) {
	if link == "" {
		link = defaultLink
	}
	u, err := url.Parse(link)
	if err != nil {
		return nil, fmt.Errorf("invalid link %q: %w", link, err)
	}
	return &Location{url: u}, nil
}

// Marker returns the project named by the link, if any.
func (l *Location) Marker() (string, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	v := l.url.Query().Get(MarkerParam)
	return v, v != ""
}

// SetMarker points the link at projectID. An empty id removes the marker.
func (l *Location) SetMarker(projectID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	q := l.url.Query()
	if projectID == "" {
		q.Del(MarkerParam)
	} else {
		q.Set(MarkerParam, projectID)
	}
	l.url.RawQuery = q.Encode()
}

func (l *Location) String() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.url.String()
}
