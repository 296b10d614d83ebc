package history

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/gray-logic-patchbay/internal/graph"
)

const (
	// DefaultBufferSize is the queue size used when JournalOptions.BufferSize is not positive.
	DefaultBufferSize = 256

	// maxBatch bounds how many entries share one transaction.
	maxBatch = 128

	writeTimeout         = 5 * time.Second
	defaultPruneInterval = time.Hour
)

// Logger defines the logging interface used by the journal.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// JournalOptions configures a Journal.
type JournalOptions struct {
	Repository Repository
	BufferSize int

	// Retention is how long entries are kept. Zero keeps them forever.
	Retention time.Duration

	// PruneInterval is how often expired entries are deleted (default 1h).
	PruneInterval time.Duration

	Logger Logger
}

// Journal records graph notifications through a Repository.
type Journal struct {
	repo          Repository
	logger        Logger
	retention     time.Duration
	pruneInterval time.Duration

	queue   chan Entry
	dropped atomic.Uint64
	written atomic.Uint64

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewJournal creates a journal. Call Start to begin writing.
func NewJournal(opts JournalOptions) *Journal {
	size := opts.BufferSize
	if size <= 0 {
		size = DefaultBufferSize
	}
	interval := opts.PruneInterval
	if interval <= 0 {
		interval = defaultPruneInterval
	}
	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}
	return &Journal{
		repo:          opts.Repository,
		logger:        logger,
		retention:     opts.Retention,
		pruneInterval: interval,
		queue:         make(chan Entry, size),
	}
}

// Notifier returns the graph.Notifier to attach to the model.
func (j *Journal) Notifier() graph.Notifier {
	return graph.EventFunc(j.record)
}

// Dropped returns the number of notifications lost to a full queue.
func (j *Journal) Dropped() uint64 { return j.dropped.Load() }

// Written returns the number of entries stored.
func (j *Journal) Written() uint64 { return j.written.Load() }

func (j *Journal) record(ev graph.Event) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return
	}
	select {
	case j.queue <- Entry{RecordedAt: time.Now().UTC(), Event: ev}:
	default:
		j.dropped.Add(1)
	}
}

// Start runs the writer until ctx is cancelled or Stop is called. Either way
// entries already queued are written before it exits.
func (j *Journal) Start(ctx context.Context) {
	j.wg.Add(1)
	go func() {
		defer j.wg.Done()
		j.run(ctx)
	}()
}

// Stop writes whatever is queued and waits for the writer to exit.
func (j *Journal) Stop() {
	j.mu.Lock()
	if !j.closed {
		j.closed = true
		close(j.queue)
	}
	j.mu.Unlock()
	j.wg.Wait()
}

func (j *Journal) run(ctx context.Context) {
	ticker := time.NewTicker(j.pruneInterval)
	defer ticker.Stop()

	j.prune()
	for {
		select {
		case <-ctx.Done():
			j.drain()
			return
		case <-ticker.C:
			j.prune()
		case e, ok := <-j.queue:
			if !ok {
				return
			}
			j.write(j.batch(e))
		}
	}
}

// drain writes everything already queued.
func (j *Journal) drain() {
	for {
		select {
		case e, ok := <-j.queue:
			if !ok {
				return
			}
			j.write(j.batch(e))
		default:
			return
		}
	}
}

// batch collects e plus whatever else is already queued.
func (j *Journal) batch(first Entry) []Entry {
	entries := []Entry{first}
	for len(entries) < maxBatch {
		select {
		case e, ok := <-j.queue:
			if !ok {
				return entries
			}
			entries = append(entries, e)
		default:
			return entries
		}
	}
	return entries
}

func (j *Journal) write(entries []Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	if err := j.repo.Append(ctx, entries); err != nil {
		j.logger.Error("writing graph history failed", "entries", len(entries), "error", err)
		return
	}
	j.written.Add(uint64(len(entries)))
}

func (j *Journal) prune() {
	if j.retention <= 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	n, err := j.repo.Prune(ctx, time.Now().Add(-j.retention))
	if err != nil {
		j.logger.Warn("pruning graph history failed", "error", err)
		return
	}
	if n > 0 {
		j.logger.Debug("graph history pruned", "entries", n)
	}
}
