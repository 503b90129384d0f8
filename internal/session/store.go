// Package session implements the Session Store (C3): an in-memory,
// mutex-guarded map from session ID to a scrape session's progress
// snapshot, polled over HTTP by the client instead of pushed.
package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a scrape session.
type Status string

const (
	StatusScraping  Status = "scraping"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// SiteProgress is one entry of a magnet-search session's ordered per-site
// breakdown. Site names are free strings from the plugin; unknown sites
// are recorded as-is.
type SiteProgress struct {
	SiteName    string `json:"site_name"`
	Status      string `json:"status"`
	ResultCount int    `json:"result_count"`
	Error       string `json:"error,omitempty"`
}

// Snapshot is the progress state of a single scrape session, shaped the
// way the progress-polling endpoints serve it. Every field that can only
// move forward (the counters, Completed) is mutated exclusively through
// Store.Mutate, which holds the write lock for the whole callback — that
// structurally prevents two goroutines racing to decrement a counter or
// resurrect a completed session.
type Snapshot struct {
	SessionID string `json:"session_id"`
	Status    Status `json:"status"`

	Current      int  `json:"current"`
	Total        int  `json:"total"`
	SuccessCount int  `json:"success_count"`
	FailedCount  int  `json:"failed_count"`
	Completed    bool `json:"completed"`

	Message     string `json:"message"`
	CurrentItem string `json:"current_item,omitempty"`
	ItemStatus  string `json:"item_status,omitempty"`

	// Concurrent marks a parallel batch; ProcessingItems is the set of
	// items currently in flight, kept in insertion order.
	Concurrent      bool     `json:"concurrent"`
	ProcessingItems []string `json:"processing_items,omitempty"`

	// Magnet-search sessions only.
	Sites   []SiteProgress `json:"sites,omitempty"`
	Results interface{}    `json:"results,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	cancel func()
}

// AddProcessingItem inserts name into the in-flight set if absent.
func (s *Snapshot) AddProcessingItem(name string) {
	for _, existing := range s.ProcessingItems {
		if existing == name {
			return
		}
	}
	s.ProcessingItems = append(s.ProcessingItems, name)
}

// RemoveProcessingItem drops name from the in-flight set.
func (s *Snapshot) RemoveProcessingItem(name string) {
	for i, existing := range s.ProcessingItems {
		if existing == name {
			s.ProcessingItems = append(s.ProcessingItems[:i], s.ProcessingItems[i+1:]...)
			return
		}
	}
}

// UpdateSite updates the named site's entry in arrival order, appending it
// on first sight.
func (s *Snapshot) UpdateSite(site SiteProgress) {
	for i := range s.Sites {
		if s.Sites[i].SiteName == site.SiteName {
			s.Sites[i] = site
			return
		}
	}
	s.Sites = append(s.Sites, site)
}

// Store holds every in-flight and recently-completed session.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Snapshot

	evictAfter  time.Duration
	stopJanitor chan struct{}
}

// NewStore builds a Store whose janitor evicts completed/failed sessions
// older than evictAfter. evictAfter of zero disables eviction. Eviction
// never touches an in-flight session regardless of age.
func NewStore(evictAfter time.Duration) *Store {
	s := &Store{
		sessions:    make(map[string]*Snapshot),
		evictAfter:  evictAfter,
		stopJanitor: make(chan struct{}),
	}
	if evictAfter > 0 {
		go s.runJanitor()
	}
	return s
}

// Create allocates a new session with a fresh UUID and returns its ID.
// cancel is invoked by Cancel to abort the underlying pipeline work; it may
// be nil if the session doesn't support cancellation.
func (s *Store) Create(total int, concurrent bool, cancel func()) string {
	id := uuid.NewString()
	now := time.Now()

	snapshot := &Snapshot{
		SessionID:  id,
		Status:     StatusScraping,
		Total:      total,
		Concurrent: concurrent,
		CreatedAt:  now,
		UpdatedAt:  now,
		cancel:     cancel,
	}

	s.mu.Lock()
	s.sessions[id] = snapshot
	s.mu.Unlock()

	return id
}

// Get returns a copy of the current snapshot for id, or nil if unknown.
// Slices are copied too, so a caller serializing the snapshot never
// observes a concurrent in-place mutation.
func (s *Store) Get(id string) *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot, ok := s.sessions[id]
	if !ok {
		return nil
	}
	copySnapshot := *snapshot
	if snapshot.ProcessingItems != nil {
		copySnapshot.ProcessingItems = append([]string(nil), snapshot.ProcessingItems...)
	}
	if snapshot.Sites != nil {
		copySnapshot.Sites = append([]SiteProgress(nil), snapshot.Sites...)
	}
	return &copySnapshot
}

// Mutate is the sole write path onto a session's snapshot. fn is called
// with the write lock held, so it is the only place counters or status
// may change, and every change is observed atomically by readers. A
// completed snapshot is never handed to fn again.
func (s *Store) Mutate(id string, fn func(*Snapshot)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot, ok := s.sessions[id]
	if !ok {
		return false
	}
	if snapshot.Completed {
		return true
	}
	fn(snapshot)
	snapshot.UpdatedAt = time.Now()
	return true
}

// Cancel fails the session with message "cancelled" and invokes its cancel
// callback, if any. Cancelling an already-terminal session is a no-op.
func (s *Store) Cancel(id string) bool {
	var cancel func()
	ok := s.Mutate(id, func(snap *Snapshot) {
		snap.Status = StatusFailed
		snap.Message = "cancelled"
		snap.Completed = true
		now := time.Now()
		snap.CompletedAt = &now
		cancel = snap.cancel
	})
	if cancel != nil {
		cancel()
	}
	return ok
}

// Complete marks a session completed. Calling Complete on an already
// terminal session is a no-op, preserving whichever terminal status was
// reached first.
func (s *Store) Complete(id string) bool {
	return s.Mutate(id, func(snap *Snapshot) {
		snap.Status = StatusCompleted
		snap.Completed = true
		now := time.Now()
		snap.CompletedAt = &now
	})
}

// Fail marks a session failed with a diagnostic message. A background task
// that panics or hits an unrecoverable error transitions its session this
// way before unwinding. Calling Fail on an already terminal session is a
// no-op, preserving whichever terminal status was reached first.
func (s *Store) Fail(id, message string) bool {
	return s.Mutate(id, func(snap *Snapshot) {
		snap.Status = StatusFailed
		snap.Message = message
		snap.Completed = true
		now := time.Now()
		snap.CompletedAt = &now
	})
}

func (s *Store) runJanitor() {
	ticker := time.NewTicker(s.evictAfter / 4)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.evictExpired()
		case <-s.stopJanitor:
			return
		}
	}
}

func (s *Store) evictExpired() {
	cutoff := time.Now().Add(-s.evictAfter)

	s.mu.Lock()
	defer s.mu.Unlock()

	for id, snap := range s.sessions {
		if snap.Completed && snap.CompletedAt != nil && snap.CompletedAt.Before(cutoff) {
			delete(s.sessions, id)
		}
	}
}

// Close stops the janitor goroutine.
func (s *Store) Close() {
	close(s.stopJanitor)
}
