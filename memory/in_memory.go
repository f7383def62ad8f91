package memory

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/forgemesh/forgemesh/logging"
)

// Entry is one recorded event. ID and CreatedAt are assigned by the store
// when left empty.
type Entry struct {
	ID        string
	ProjectID string
	AgentID   string
	Topic     string
	Content   string
	Metadata  map[string]any
	CreatedAt time.Time
}

// Options configures a Store.
type Options struct {
	// QueueSize bounds the async write queue. A full queue drops new
	// entries with a warning instead of blocking the recorder.
	QueueSize int

	// Logger defaults to NoOpLogger.
	Logger logging.Logger
}

// Store is a process-local event history with asynchronous writes.
type Store struct {
	opts   Options
	logger logging.Logger

	queue chan Entry
	done  chan struct{}

	mu      sync.RWMutex
	entries map[string][]Entry // projectID -> entries in arrival order
	dropped int
}

// NewStore creates the store and starts its drain worker.
func NewStore(optFns ...func(o *Options)) *Store {
	opts := Options{
		QueueSize: 256,
		Logger:    logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	s := &Store{
		opts:    opts,
		logger:  opts.Logger,
		queue:   make(chan Entry, opts.QueueSize),
		done:    make(chan struct{}),
		entries: make(map[string][]Entry),
	}
	go s.drain()
	return s
}

// Record enqueues the entry without blocking. A full queue drops the entry;
// a closed store ignores it. Callers get no error because recording must
// never influence the outcome of the work being recorded.
func (s *Store) Record(e Entry) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	select {
	case s.queue <- e:
	default:
		s.mu.Lock()
		s.dropped++
		s.mu.Unlock()
		s.logger.Warn("memory queue full, dropping entry",
			"project_id", e.ProjectID,
			"topic", e.Topic,
		)
	}
}

// Query returns up to limit entries for the project whose content or topic
// contains the query substring, in arrival order. An empty query matches
// everything; limit <= 0 means no limit. Entries still in flight on the
// queue may not be visible yet.
func (s *Store) Query(projectID, query string, limit int) []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var results []Entry
	for _, e := range s.entries[projectID] {
		if limit > 0 && len(results) >= limit {
			break
		}
		if query == "" || strings.Contains(e.Content, query) || strings.Contains(e.Topic, query) {
			results = append(results, e)
		}
	}
	return results
}

// Dropped reports how many entries were discarded on a full queue.
func (s *Store) Dropped() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dropped
}

// DeleteProject discards the project's history and returns how many entries
// were removed.
func (s *Store) DeleteProject(projectID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.entries[projectID])
	delete(s.entries, projectID)
	return n
}

// Close stops the drain worker after flushing what is already queued.
// Record calls racing Close may be lost; that is acceptable for
// fire-and-forget history.
func (s *Store) Close() {
	close(s.queue)
	<-s.done
}

func (s *Store) drain() {
	defer close(s.done)
	for e := range s.queue {
		s.mu.Lock()
		s.entries[e.ProjectID] = append(s.entries[e.ProjectID], e)
		s.mu.Unlock()
	}
}
