package session

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/killallgit/atelier/pkg/logger"
)

// Source says where a restored project id came from.
type Source string

const (
	SourceNone   Source = ""
	SourceMarker Source = "marker"
	SourceRecord Source = "record"
	SourceFirst  Source = "first"
)

const saveTimeout = 10 * time.Second

type pendingSave struct {
	userID    string
	projectID string
}

// Persistence mirrors the active project into the durable record and the
// link marker. The record is written first and the marker follows from it,
// so the two never disagree about the latest choice.
type Persistence struct {
	record   Record
	location *Location
	log      *logger.Logger

	writeMu sync.Mutex

	mu      sync.Mutex
	idle    *sync.Cond
	next    *pendingSave
	running bool
}

func NewPersistence(record Record, location *Location) *Persistence {
	p := &Persistence{
		record:   record,
		location: location,
		log:      logger.WithComponent("session"),
	}
	p.idle = sync.NewCond(&p.mu)
	return p
}

// Location returns the link the marker is written to.
func (p *Persistence) Location() *Location {
	return p.location
}

// Save writes projectID to the user's record and then to the marker. The
// marker is left alone when the record write fails.
func (p *Persistence) Save(ctx context.Context, userID, projectID string) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	if err := p.record.Set(ctx, RecordKey(userID), projectID); err != nil {
		return fmt.Errorf("failed to save active project: %w", err)
	}
	p.location.SetMarker(projectID)
	p.log.Debug("Saved active project %s for user %s", projectID, userID)
	return nil
}

// Remember saves in the background. Rapid calls coalesce and the last one
// always wins.
func (p *Persistence) Remember(userID, projectID string) {
	p.mu.Lock()
	p.next = &pendingSave{userID: userID, projectID: projectID}
	if p.running {
		p.mu.Unlock()
		return
	}
	p.running = true
	p.mu.Unlock()

	go p.drain()
}

func (p *Persistence) drain() {
	for {
		p.mu.Lock()
		s := p.next
		p.next = nil
		if s == nil {
			p.running = false
			p.idle.Broadcast()
			p.mu.Unlock()
			return
		}
		p.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
		if err := p.Save(ctx, s.userID, s.projectID); err != nil {
			p.log.Warn("%v", err)
		}
		cancel()
	}
}

// Flush blocks until every background save has been written.
func (p *Persistence) Flush() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for p.running {
		p.idle.Wait()
	}
}

// Restore picks the project to open at start-up: the marker if it names an
// owned project, else the record if it does, else the first owned project.
func (p *Persistence) Restore(ctx context.Context, userID string, owned []string) (string, Source) {
	if id, ok := p.location.Marker(); ok && slices.Contains(owned, id) {
		return id, SourceMarker
	}

	id, err := p.record.Get(ctx, RecordKey(userID))
	switch {
	case err == nil && slices.Contains(owned, id):
		return id, SourceRecord
	case err == nil:
		p.log.Debug("Recorded project %s is no longer owned by user %s", id, userID)
	case !errors.Is(err, ErrNotFound):
		p.log.Warn("Could not read active project for user %s: %v", userID, err)
	}

	if len(owned) > 0 {
		return owned[0], SourceFirst
	}
	return "", SourceNone
}

// Logout forgets the user's record. The marker is left in place.
func (p *Persistence) Logout(ctx context.Context, userID string) error {
	p.Flush()

	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	if err := p.record.Delete(ctx, RecordKey(userID)); err != nil {
		return fmt.Errorf("failed to clear active project: %w", err)
	}
	return nil
}
