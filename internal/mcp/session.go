package mcp

import (
	"context"
	"sync"
	"time"

	"awrlens/internal/awr"
)

// DefaultViewTTL is how long an untouched report view is kept.
var DefaultViewTTL = 10 * time.Minute

type viewEntry struct {
	view     *awr.DetailView
	lastUsed time.Time
}

// Session holds one detail view per report the agent is looking at, so
// repeated analyze calls on a report share last-trigger-wins ordering.
// Views idle for longer than the TTL are closed, cancelling their fetches.
type Session struct {
	ctx    context.Context
	client *awr.Client

	mu    sync.Mutex
	ttl   time.Duration
	views map[int64]*viewEntry
	now   func() time.Time
}

// NewSession returns an empty session whose views live under ctx.
func NewSession(ctx context.Context, client *awr.Client) *Session {
	return &Session{
		ctx:    ctx,
		client: client,
		ttl:    DefaultViewTTL,
		views:  make(map[int64]*viewEntry),
		now:    time.Now,
	}
}

// SetTTL changes the idle limit for views.
func (s *Session) SetTTL(ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ttl = ttl
}

// View returns the view for id, creating it on first use.
func (s *Session) View(id int64) *awr.DetailView {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked()
	e, ok := s.views[id]
	if !ok {
		e = &viewEntry{view: awr.NewDetailView(s.ctx, s.client, id)}
		s.views[id] = e
	}
	e.lastUsed = s.now()
	return e.view
}

// Forget closes and drops the view for id, for example after a delete.
func (s *Session) Forget(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.views[id]; ok {
		e.view.Close()
		delete(s.views, id)
	}
}

// Len is the number of live views.
func (s *Session) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.views)
}

// Close closes every view.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, e := range s.views {
		e.view.Close()
		delete(s.views, id)
	}
}

func (s *Session) sweepLocked() {
	if s.ttl <= 0 {
		return
	}
	cutoff := s.now().Add(-s.ttl)
	for id, e := range s.views {
		if e.lastUsed.Before(cutoff) {
			e.view.Close()
			delete(s.views, id)
		}
	}
}
