package core

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/JonMunkholm/campa/internal/logging"
	"github.com/JonMunkholm/campa/internal/metrics"
)

// DefaultImportTimeout is the maximum duration of one import run.
const DefaultImportTimeout = 10 * time.Minute

// importRetention is how long a finished import stays queryable by id.
const importRetention = 5 * time.Minute

// Publisher receives snapshots after every mutation. live.Hub satisfies it.
type Publisher interface {
	Publish(topic string, payload any)
	Subscribed(topic string) bool
}

// ServiceOptions configures a Service. Zero values get defaults.
type ServiceOptions struct {
	Location      *time.Location
	Limiter       *ImportLimiter
	Publisher     Publisher
	Metrics       *metrics.Metrics
	Clock         func() time.Time
	ImportTimeout time.Duration
}

// Service holds the business rules for vehicle records, imports, exports and
// the catalog. It is safe for concurrent use.
type Service struct {
	store         RecordStore
	loc           *time.Location
	clock         func() time.Time
	limiter       *ImportLimiter
	pub           Publisher
	metrics       *metrics.Metrics
	importTimeout time.Duration

	mu      sync.RWMutex
	imports map[string]*activeImport
}

// NewService creates a Service on top of store.
func NewService(store RecordStore, opts ServiceOptions) *Service {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Limiter == nil {
		opts.Limiter = NewImportLimiter(DefaultMaxConcurrentImports, DefaultImportWait)
	}
	if opts.ImportTimeout <= 0 {
		opts.ImportTimeout = DefaultImportTimeout
	}

	return &Service{
		store:         store,
		loc:           opts.Location,
		clock:         opts.Clock,
		limiter:       opts.Limiter,
		pub:           opts.Publisher,
		metrics:       opts.Metrics,
		importTimeout: opts.ImportTimeout,
		imports:       make(map[string]*activeImport),
	}
}

// Location returns the zone used to read and write dates.
func (s *Service) Location() *time.Location {
	return s.loc
}

// Limiter returns the import limiter, for status reporting and shutdown.
func (s *Service) Limiter() *ImportLimiter {
	return s.limiter
}

func (s *Service) now() time.Time {
	return s.clock()
}

func (s *Service) log(ctx context.Context) *slog.Logger {
	return logging.FromContext(ctx)
}

// activeImport tracks one asynchronous import.
type activeImport struct {
	ID        string
	FileName  string
	Cancel    context.CancelFunc
	Done      chan struct{}
	StartedAt time.Time

	mu        sync.Mutex
	progress  ImportProgress
	result    Result
	summary   ImportSummary
	listeners []chan ImportProgress
}

func (imp *activeImport) setProgress(update func(p *ImportProgress)) {
	imp.mu.Lock()
	update(&imp.progress)
	snapshot := imp.progress
	listeners := imp.listeners
	imp.mu.Unlock()

	for _, ch := range listeners {
		select {
		case ch <- snapshot:
		default:
			// Listener is slow, skip this update
		}
	}
}

// finish stores the outcome, closes every listener and releases waiters.
func (imp *activeImport) finish(res Result, summary ImportSummary) {
	imp.mu.Lock()
	imp.result = res
	imp.summary = summary
	for _, ch := range imp.listeners {
		close(ch)
	}
	imp.listeners = nil
	imp.mu.Unlock()

	close(imp.Done)
}

func (s *Service) lookupImport(importID string) (*activeImport, error) {
	s.mu.RLock()
	imp, ok := s.imports[importID]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrImportNotFound
	}
	return imp, nil
}

// cleanup removes the import from tracking after a delay.
func (s *Service) cleanup(importID string, delay time.Duration) {
	time.AfterFunc(delay, func() {
		s.mu.Lock()
		delete(s.imports, importID)
		s.mu.Unlock()
	})
}
