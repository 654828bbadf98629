package records

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"

	"github.com/lazypower/sanctum/internal/fault"
	"github.com/lazypower/sanctum/internal/keylock"
	"github.com/lazypower/sanctum/internal/metrics"
	"github.com/lazypower/sanctum/internal/tenant"
)

// Options tunes a Store. Zero values fall back to defaults.
type Options struct {
	// IOTimeout bounds how long a call waits for the user's lock.
	IOTimeout time.Duration
	// AnalyticsTTL is how long a computed analytics result is reused.
	AnalyticsTTL time.Duration
}

func (o Options) withDefaults() Options {
	if o.IOTimeout <= 0 {
		o.IOTimeout = 10 * time.Second
	}
	if o.AnalyticsTTL <= 0 {
		o.AnalyticsTTL = time.Minute
	}
	return o
}

type handle struct {
	db       *DB
	lastUsed time.Time
}

// Store hands out each user's database. Handles are opened lazily, kept
// open, and closed by Evict or EvictIdle.
//
// Every operation holds the user's lock in shared mode, so several requests
// for one user run side by side (SQLite orders their writes) while an erase,
// which takes the lock exclusively, waits for them and they wait for it.
type Store struct {
	dir     *tenant.Directory
	locks   *keylock.Locker
	metrics *metrics.Metrics
	logger  *slog.Logger
	opts    Options
	now     func() time.Time

	mu      sync.Mutex
	handles map[string]*handle
	opening singleflight.Group

	analytics *cache.Cache
	// generation counts writes per user so a result computed across a
	// write is not memoized. Guarded by mu, as are the memo's Set and
	// Delete calls.
	generation map[string]uint64

	// analyzed, when set, runs between computing analytics and memoizing
	// them.
	analyzed func(userID string)
}

// New creates a Store. locks must be the same Locker the brain store and the
// lifecycle manager use.
func New(dir *tenant.Directory, locks *keylock.Locker, m *metrics.Metrics, opts Options) *Store {
	opts = opts.withDefaults()
	return &Store{
		dir:       dir,
		locks:     locks,
		metrics:   m,
		logger:    slog.Default().With("component", "records"),
		opts:      opts,
		now:       func() time.Time { return time.Now().UTC() },
		handles:   make(map[string]*handle),
		analytics: cache.New(opts.AnalyticsTTL, 2*opts.AnalyticsTTL),

		generation: make(map[string]uint64),
	}
}

// with runs fn against the user's database under the shared user lock.
// Once the lock is held fn runs detached from caller cancellation.
func (s *Store) with(ctx context.Context, op, userID string, fn func(ctx context.Context, db *DB) error) (err error) {
	start := time.Now()
	defer func() { s.metrics.Observe("records", op, start, err) }()

	if err := tenant.ValidateUserID(userID); err != nil {
		return err
	}
	lctx, cancel := context.WithTimeout(ctx, s.opts.IOTimeout)
	unlock, err := s.locks.RLock(lctx, userID)
	cancel()
	if err != nil {
		return fault.Write("lock records", userID, err)
	}
	defer unlock()

	ctx = context.WithoutCancel(ctx)
	db, err := s.handle(ctx, userID)
	if err != nil {
		return err
	}
	return fn(ctx, db)
}

// write is with for mutating operations: it drops the user's memoized
// analytics and reports storage failures as retryable write faults.
func (s *Store) write(ctx context.Context, op, userID string, fn func(ctx context.Context, db *DB) error) error {
	return s.with(ctx, op, userID, func(ctx context.Context, db *DB) error {
		defer s.ForgetAnalytics(userID)
		err := fn(ctx, db)
		if err == nil || errors.Is(err, ErrInvalidInput) || errors.Is(err, ErrNotFound) {
			return err
		}
		return fault.Write(op, userID, err)
	})
}

func (s *Store) handle(ctx context.Context, userID string) (*DB, error) {
	if db := s.cached(userID); db != nil {
		return db, nil
	}
	v, err, _ := s.opening.Do(userID, func() (any, error) {
		if db := s.cached(userID); db != nil {
			return db, nil
		}
		h, err := s.dir.Ensure(ctx, userID)
		if err != nil {
			return nil, err
		}
		db, err := Open(ctx, h.DBPath(), tenant.FileMode)
		if err != nil {
			return nil, fault.Provisioning("open records", userID, err)
		}
		s.mu.Lock()
		s.handles[userID] = &handle{db: db, lastUsed: s.now()}
		s.mu.Unlock()
		s.metrics.HandleOpened()
		s.logger.Debug("records opened", "user_id", userID, "path", db.Path)
		return db, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*DB), nil
}

func (s *Store) cached(userID string) *DB {
	s.mu.Lock()
	defer s.mu.Unlock()
	if h, ok := s.handles[userID]; ok {
		h.lastUsed = s.now()
		return h.db
	}
	return nil
}

// Init opens (creating if needed) the user's database.
func (s *Store) Init(ctx context.Context, userID string) error {
	return s.with(ctx, "init", userID, func(context.Context, *DB) error { return nil })
}

// Exists reports whether the user's database file is present and is a
// SQLite database. It reads the file header only and never opens or
// creates anything.
func (s *Store) Exists(userID string) (bool, error) {
	h, err := s.dir.Open(userID)
	if errors.Is(err, tenant.ErrNotProvisioned) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return IsDatabase(h.DBPath())
}

// Evict closes and forgets the user's handle. The caller must hold the
// user's lock exclusively.
func (s *Store) Evict(userID string) error {
	s.ForgetAnalytics(userID)
	s.mu.Lock()
	h, ok := s.handles[userID]
	delete(s.handles, userID)
	s.mu.Unlock()
	if !ok {
		return nil
	}
	s.metrics.HandleClosed()
	if err := h.db.Close(); err != nil {
		return fmt.Errorf("close records for %s: %w", userID, err)
	}
	return nil
}

// EvictIdle closes handles unused for longer than idle. Handles in use are
// skipped. It returns how many were closed.
func (s *Store) EvictIdle(idle time.Duration) int {
	cutoff := s.now().Add(-idle)
	s.mu.Lock()
	var stale []string
	for userID, h := range s.handles {
		if h.lastUsed.Before(cutoff) {
			stale = append(stale, userID)
		}
	}
	s.mu.Unlock()

	closed := 0
	for _, userID := range stale {
		unlock, ok := s.locks.TryLock(userID)
		if !ok {
			continue
		}
		s.mu.Lock()
		h, still := s.handles[userID]
		idleNow := still && h.lastUsed.Before(cutoff)
		s.mu.Unlock()
		if idleNow {
			if err := s.Evict(userID); err != nil {
				s.logger.Warn("close idle records", "user_id", userID, "err", err)
			}
			closed++
		}
		unlock()
	}
	return closed
}

// OpenHandles reports how many user databases are currently open.
func (s *Store) OpenHandles() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.handles)
}

// Close closes every open handle.
func (s *Store) Close() error {
	s.mu.Lock()
	handles := s.handles
	s.handles = make(map[string]*handle)
	s.mu.Unlock()

	var errs []error
	for userID, h := range handles {
		s.metrics.HandleClosed()
		if err := h.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close records for %s: %w", userID, err))
		}
	}
	s.analytics.Flush()
	return errors.Join(errs...)
}

// ForgetAnalytics drops the memoized analytics of one user.
func (s *Store) ForgetAnalytics(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.generation[userID]++

	prefix := userID + "/"
	for key := range s.analytics.Items() {
		if strings.HasPrefix(key, prefix) {
			s.analytics.Delete(key)
		}
	}
}

func (s *Store) AddDailyLog(ctx context.Context, userID string, l DailyLog) (out DailyLog, err error) {
	err = s.write(ctx, "add_daily_log", userID, func(ctx context.Context, db *DB) error {
		out, err = db.AddDailyLog(ctx, l, s.now())
		return err
	})
	return out, err
}

// AddHabitEntry records a habit for a date and returns it with its streak.
func (s *Store) AddHabitEntry(ctx context.Context, userID string, h HabitEntry) (out HabitEntry, err error) {
	err = s.write(ctx, "add_habit_entry", userID, func(ctx context.Context, db *DB) error {
		out, err = db.AddHabitEntry(ctx, h, s.now())
		return err
	})
	return out, err
}

func (s *Store) AddGoal(ctx context.Context, userID string, g Goal) (out Goal, err error) {
	err = s.write(ctx, "add_goal", userID, func(ctx context.Context, db *DB) error {
		out, err = db.AddGoal(ctx, g, s.now())
		return err
	})
	return out, err
}

func (s *Store) UpdateGoalProgress(ctx context.Context, userID string, goalID int64, progress int) (out Goal, err error) {
	err = s.write(ctx, "update_goal_progress", userID, func(ctx context.Context, db *DB) error {
		out, err = db.UpdateGoalProgress(ctx, goalID, progress, s.now())
		return err
	})
	return out, err
}

// ListGoals returns the user's goals with status, or all when status is "".
func (s *Store) ListGoals(ctx context.Context, userID, status string) (goals []Goal, err error) {
	err = s.with(ctx, "list_goals", userID, func(ctx context.Context, db *DB) error {
		goals, err = db.ListGoals(ctx, status)
		return err
	})
	return goals, err
}

func (s *Store) AddProductivityEntry(ctx context.Context, userID string, p ProductivityEntry) (out ProductivityEntry, err error) {
	err = s.write(ctx, "add_productivity_entry", userID, func(ctx context.Context, db *DB) error {
		out, err = db.AddProductivityEntry(ctx, p, s.now())
		return err
	})
	return out, err
}

func (s *Store) AddChatTurn(ctx context.Context, userID string, c ChatTurn) (out ChatTurn, err error) {
	err = s.write(ctx, "add_chat_turn", userID, func(ctx context.Context, db *DB) error {
		out, err = db.AddChatTurn(ctx, c, s.now())
		return err
	})
	return out, err
}

// RecentChat returns up to limit of the user's latest chat turns, oldest first.
func (s *Store) RecentChat(ctx context.Context, userID string, limit int) (turns []ChatTurn, err error) {
	if limit <= 0 {
		limit = 50
	}
	err = s.with(ctx, "recent_chat", userID, func(ctx context.Context, db *DB) error {
		turns, err = db.RecentChat(ctx, limit)
		return err
	})
	return turns, err
}

func (s *Store) CacheMetric(ctx context.Context, userID string, m Metric) (out Metric, err error) {
	err = s.write(ctx, "cache_metric", userID, func(ctx context.Context, db *DB) error {
		out, err = db.CacheMetric(ctx, m, s.now())
		return err
	})
	return out, err
}

func (s *Store) CachedMetrics(ctx context.Context, userID, name string) (metrics []Metric, err error) {
	err = s.with(ctx, "cached_metrics", userID, func(ctx context.Context, db *DB) error {
		metrics, err = db.CachedMetrics(ctx, name)
		return err
	})
	return metrics, err
}

// QueryRecentAnalytics summarizes the user's records over the trailing
// windowDays. Results are reused until the user's next write or the
// analytics TTL, whichever comes first.
func (s *Store) QueryRecentAnalytics(ctx context.Context, userID string, windowDays int) (*Analytics, error) {
	key := fmt.Sprintf("%s/%d", userID, windowDays)
	if v, ok := s.analytics.Get(key); ok {
		return v.(*Analytics), nil
	}

	s.mu.Lock()
	gen := s.generation[userID]
	s.mu.Unlock()

	var a *Analytics
	err := s.with(ctx, "query_recent_analytics", userID, func(ctx context.Context, db *DB) error {
		var err error
		a, err = db.RecentAnalytics(ctx, windowDays, s.now())
		return err
	})
	if err != nil {
		return nil, err
	}
	if s.analyzed != nil {
		s.analyzed(userID)
	}

	s.mu.Lock()
	if s.generation[userID] == gen {
		s.analytics.Set(key, a, cache.DefaultExpiration)
	}
	s.mu.Unlock()
	return a, nil
}
