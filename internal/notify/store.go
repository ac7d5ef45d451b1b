package notify

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/vibepanel/vibepanel/internal/logging"
	"github.com/vibepanel/vibepanel/internal/publish"
	"github.com/vibepanel/vibepanel/internal/storage/sqlite"
)

const (
	// DefaultMaxHistory is the retention limit when none is configured.
	DefaultMaxHistory = 100
	defaultAppName    = "Unknown"
	persistAttempts   = 3
	persistBackoff    = 20 * time.Millisecond
	persistTimeout    = 5 * time.Second
)

var (
	// ErrNotFound is returned for an unknown notification id.
	ErrNotFound = errors.New("notification not found")
	// ErrAlreadyDismissed is returned when dismissing a dismissed notification.
	ErrAlreadyDismissed = errors.New("notification already dismissed")
)

// Persister stores the history. *sqlite.History implements it.
type Persister interface {
	Load(ctx context.Context) (sqlite.State, error)
	Save(ctx context.Context, r sqlite.Row, nextID uint32, evicted []uint32) error
	Dismiss(ctx context.Context, id uint32) error
	Delete(ctx context.Context, ids []uint32) error
	Clear(ctx context.Context, nextID uint32) error
	SetDND(ctx context.Context, on bool) error
	Replace(ctx context.Context, st sqlite.State) error
}

// Observer receives persistence outcomes.
type Observer interface {
	PersistenceWrite(op string, err error)
}

// Options configure retention and defaults.
type Options struct {
	MaxHistory int
	// MaxAge drops records older than this; zero keeps them until evicted.
	MaxAge     time.Duration
	DefaultDND bool
}

// Store is the notification history. All methods are safe for concurrent use.
//
// Mutations are applied in memory first and then persisted. A failed write is
// retried; if it still fails the method returns a *sqlite.PersistenceError
// while the in-memory change stands, and the next successful write rewrites
// the whole history.
type Store struct {
	mu      sync.Mutex
	records []Record // oldest first
	nextID  uint32
	dnd     bool
	dirty   bool

	opts      Options
	persister Persister
	holder    *publish.Holder[View]
	version   uint64
	closed    chan Closed
	logger    logging.Logger
	observer  Observer
	now       func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithPersister sets the history backend. Without one the store is memory only.
func WithPersister(p Persister) Option {
	return func(s *Store) { s.persister = p }
}

// WithLogger sets the logger.
func WithLogger(l logging.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithObserver sets a persistence observer.
func WithObserver(o Observer) Option {
	return func(s *Store) { s.observer = o }
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Open creates a Store and restores the persisted history. Restored records
// are flagged so they are not presented again.
func Open(ctx context.Context, opts Options, options ...Option) (*Store, error) {
	if opts.MaxHistory <= 0 {
		opts.MaxHistory = DefaultMaxHistory
	}
	s := &Store{
		opts:   opts,
		nextID: 1,
		dnd:    opts.DefaultDND,
		holder: publish.NewHolder(View{DND: opts.DefaultDND}),
		closed: make(chan Closed, 64),
		logger: logging.Nop(),
		now:    time.Now,
	}
	for _, o := range options {
		o(s)
	}

	if s.persister != nil {
		st, err := s.persister.Load(ctx)
		if err != nil {
			return nil, fmt.Errorf("notify: restore history: %w", err)
		}
		for _, r := range st.Rows {
			rec := fromRow(r)
			rec.Restored = true
			s.records = append(s.records, rec)
		}
		if st.DNDSet {
			s.dnd = st.DND
		}
		if st.NextID > 0 {
			s.nextID = st.NextID
		}
		for _, r := range s.records {
			if r.ID >= s.nextID {
				s.nextID = nextAfter(r.ID)
			}
		}
		s.logger.Debug("restored notification history", "count", len(s.records), "dnd", s.dnd)
	}

	s.mu.Lock()
	evicted := s.evictLocked()
	if len(evicted) > 0 {
		s.persistLocked("delete notifications", func(ctx context.Context) error {
			return s.persister.Delete(ctx, evicted)
		})
	}
	s.publishLocked()
	s.mu.Unlock()
	return s, nil
}

func nextAfter(id uint32) uint32 {
	id++
	if id == 0 {
		id = 1
	}
	return id
}

// Holder returns the publisher of the store's view.
func (s *Store) Holder() *publish.Holder[View] {
	return s.holder
}

// Closed delivers notifications that left the active set. Events are dropped
// when the reader falls behind.
func (s *Store) Closed() <-chan Closed {
	return s.closed
}

// SetOptions replaces the retention options and applies them immediately.
func (s *Store) SetOptions(opts Options) error {
	if opts.MaxHistory <= 0 {
		opts.MaxHistory = DefaultMaxHistory
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opts = opts
	evicted := s.evictLocked()
	if len(evicted) == 0 {
		return nil
	}
	s.publishLocked()
	return s.persistLocked("delete notifications", func(ctx context.Context) error {
		return s.persister.Delete(ctx, evicted)
	})
}

// Append records a notification. A non-zero ID that is in the history
// replaces that record; any other ID is reassigned.
func (s *Store) Append(rec Record) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.AppName == "" {
		rec.AppName = defaultAppName
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = s.now()
	}
	rec.Silent = s.dnd
	rec.Restored = false
	rec.Dismissed = false

	if i := s.indexLocked(rec.ID); rec.ID != 0 && i >= 0 {
		s.records = slices.Delete(s.records, i, i+1)
	} else {
		rec.ID = s.nextID
		s.nextID = nextAfter(s.nextID)
	}
	rec = rec.clone()
	s.records = append(s.records, rec)
	evicted := s.evictLocked()
	s.publishLocked()

	nextID := s.nextID
	err := s.persistLocked("save notification", func(ctx context.Context) error {
		return s.persister.Save(ctx, toRow(rec), nextID, evicted)
	})
	return rec, err
}

// evictLocked drops records beyond the retention limits and returns their ids.
func (s *Store) evictLocked() []uint32 {
	var evicted []uint32
	if s.opts.MaxAge > 0 {
		cutoff := s.now().Add(-s.opts.MaxAge)
		kept := s.records[:0]
		for _, r := range s.records {
			if r.Timestamp.Before(cutoff) {
				evicted = append(evicted, r.ID)
				continue
			}
			kept = append(kept, r)
		}
		s.records = kept
	}
	if over := len(s.records) - s.opts.MaxHistory; over > 0 {
		slices.SortStableFunc(s.records, func(a, b Record) int {
			return a.Timestamp.Compare(b.Timestamp)
		})
		for _, r := range s.records[:over] {
			evicted = append(evicted, r.ID)
		}
		s.records = slices.Delete(s.records, 0, over)
	}
	return evicted
}

// Prune applies the age limit and returns the number of dropped records.
func (s *Store) Prune() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	evicted := s.evictLocked()
	if len(evicted) == 0 {
		return 0, nil
	}
	s.publishLocked()
	return len(evicted), s.persistLocked("delete notifications", func(ctx context.Context) error {
		return s.persister.Delete(ctx, evicted)
	})
}

func (s *Store) indexLocked(id uint32) int {
	return slices.IndexFunc(s.records, func(r Record) bool { return r.ID == id })
}

// Get returns a copy of the record with id.
func (s *Store) Get(id uint32) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexLocked(id)
	if i < 0 {
		return Record{}, false
	}
	return s.records[i].clone(), true
}

// Dismiss marks a notification as dismissed by the user.
func (s *Store) Dismiss(id uint32) error {
	return s.Close(id, ReasonDismissed)
}

// Close marks a notification as dismissed with reason.
func (s *Store) Close(id uint32, reason CloseReason) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexLocked(id)
	if i < 0 {
		return fmt.Errorf("notify: dismiss %d: %w", id, ErrNotFound)
	}
	if s.records[i].Dismissed {
		return fmt.Errorf("notify: dismiss %d: %w", id, ErrAlreadyDismissed)
	}
	s.records[i].Dismissed = true
	s.publishLocked()
	s.emitLocked(Closed{ID: id, Reason: reason})

	return s.persistLocked("dismiss notification", func(ctx context.Context) error {
		return s.persister.Dismiss(ctx, id)
	})
}

// ClearAll deletes the whole history with a single persistence operation.
func (s *Store) ClearAll() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.records) == 0 {
		return nil
	}
	for _, r := range s.records {
		if !r.Dismissed {
			s.emitLocked(Closed{ID: r.ID, Reason: ReasonDismissed})
		}
	}
	s.records = nil
	s.publishLocked()

	nextID := s.nextID
	return s.persistLocked("clear notifications", func(ctx context.Context) error {
		return s.persister.Clear(ctx, nextID)
	})
}

// List returns matching records, newest first.
func (s *Store) List(f Filter) []Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Record
	for i := len(s.records) - 1; i >= 0; i-- {
		if !f.match(s.records[i]) {
			continue
		}
		out = append(out, s.records[i].clone())
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	slices.SortStableFunc(out, func(a, b Record) int {
		return b.Timestamp.Compare(a.Timestamp)
	})
	return out
}

// SetDND turns do-not-disturb on or off.
func (s *Store) SetDND(on bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dnd == on {
		return nil
	}
	s.dnd = on
	s.publishLocked()
	return s.persistLocked("set dnd", func(ctx context.Context) error {
		return s.persister.SetDND(ctx, on)
	})
}

// DND reports whether do-not-disturb is on.
func (s *Store) DND() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dnd
}

func (s *Store) emitLocked(c Closed) {
	select {
	case s.closed <- c:
	default:
		s.logger.Debug("dropped close event", "id", c.ID)
	}
}

func (s *Store) publishLocked() {
	v := View{DND: s.dnd, Records: make([]Record, 0, len(s.records))}
	for i := len(s.records) - 1; i >= 0; i-- {
		r := s.records[i].clone()
		if !r.Dismissed {
			v.Active++
		}
		v.Records = append(v.Records, r)
	}
	slices.SortStableFunc(v.Records, func(a, b Record) int {
		return b.Timestamp.Compare(a.Timestamp)
	})
	s.version++
	s.holder.Store(v, s.version)
}

// persistLocked runs write with retries. While the store is dirty from an
// earlier failure the whole history is written instead.
func (s *Store) persistLocked(op string, write func(ctx context.Context) error) error {
	if s.persister == nil {
		return nil
	}
	if s.dirty {
		op = "resync history"
		st := s.stateLocked()
		write = func(ctx context.Context) error {
			return s.persister.Replace(ctx, st)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	backoff := retry.WithMaxRetries(persistAttempts-1, retry.NewExponential(persistBackoff))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := write(ctx); err != nil {
			if errors.Is(err, sqlite.ErrNotificationNotFound) || errors.Is(err, sqlite.ErrInvalidNotificationID) {
				return err
			}
			return retry.RetryableError(err)
		}
		return nil
	})
	if s.observer != nil {
		s.observer.PersistenceWrite(op, err)
	}
	if err != nil {
		s.dirty = true
		s.logger.Warn("notification history write failed, will resync", "op", op, "attempts", persistAttempts, "error", err)
		var pe *sqlite.PersistenceError
		if errors.As(err, &pe) {
			return err
		}
		return &sqlite.PersistenceError{Op: op, Err: err}
	}
	s.dirty = false
	return nil
}

func (s *Store) stateLocked() sqlite.State {
	st := sqlite.State{DND: s.dnd, DNDSet: true, NextID: s.nextID}
	for _, r := range s.records {
		st.Rows = append(st.Rows, toRow(r))
	}
	return st
}
