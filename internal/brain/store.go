// Package brain owns the per-user learned-state document.
//
// Reads are lock-free: saves replace the file by atomic rename, so a reader
// sees either the previous or the next complete document. Every mutation runs
// load, mutate, recompute and save under the user's exclusive lock.
package brain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/lazypower/sanctum/internal/fault"
	"github.com/lazypower/sanctum/internal/keylock"
	"github.com/lazypower/sanctum/internal/metrics"
	"github.com/lazypower/sanctum/internal/tenant"
)

// ErrNotFound is returned by Peek when the user has no document.
var ErrNotFound = errors.New("brain document not found")

// Options tunes a Store. Zero values fall back to defaults.
type Options struct {
	// IOTimeout bounds how long a call waits for the user's lock.
	IOTimeout time.Duration
	// ConversationCap is the ring buffer size of conversation_context.
	ConversationCap int
	// PatternWindow is how many recent habit snapshots feed the averages.
	PatternWindow int
}

func (o Options) withDefaults() Options {
	if o.IOTimeout <= 0 {
		o.IOTimeout = 10 * time.Second
	}
	if o.ConversationCap <= 0 {
		o.ConversationCap = DefaultConversationCap
	}
	if o.PatternWindow <= 0 {
		o.PatternWindow = DefaultPatternWindow
	}
	return o
}

// Store loads and persists brain documents inside tenant units.
type Store struct {
	dir     *tenant.Directory
	locks   *keylock.Locker
	metrics *metrics.Metrics
	logger  *slog.Logger
	opts    Options
	now     func() time.Time

	// rename is os.Rename; tests swap it to simulate a failed commit.
	rename func(oldpath, newpath string) error
}

// New creates a Store. locks must be shared with every component that needs
// to exclude brain writers for a user (erasure in particular).
func New(dir *tenant.Directory, locks *keylock.Locker, m *metrics.Metrics, opts Options) *Store {
	return &Store{
		dir:     dir,
		locks:   locks,
		metrics: m,
		logger:  slog.Default().With("component", "brain"),
		opts:    opts.withDefaults(),
		now:     func() time.Time { return time.Now().UTC() },
		rename:  os.Rename,
	}
}

// Load returns the user's document, creating a default one when none exists.
// A document that fails to parse or names another user is quarantined and
// replaced by a fresh default; the caller never sees the bad content.
func (s *Store) Load(ctx context.Context, userID string) (doc *Document, err error) {
	start := time.Now()
	defer func() { s.metrics.Observe("brain", "load", start, err) }()

	if err := tenant.ValidateUserID(userID); err != nil {
		return nil, err
	}

	if h, err := s.dir.Open(userID); err == nil {
		if doc, err := s.read(h); err == nil {
			return doc, nil
		}
	}

	unlock, err := s.lock(ctx, userID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	_, doc, err = s.loadLocked(context.WithoutCancel(ctx), userID)
	return doc, err
}

// Peek reads the user's document without creating, repairing or
// quarantining anything. It returns ErrNotFound when there is no document and
// an integrity fault when the stored document is unusable.
func (s *Store) Peek(userID string) (*Document, error) {
	h, err := s.dir.Open(userID)
	if errors.Is(err, tenant.ErrNotProvisioned) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return s.read(h)
}

// Save persists doc as the user's document. The owner and last_updated
// fields are always overwritten; a caller-supplied user_id is never trusted.
func (s *Store) Save(ctx context.Context, userID string, doc *Document) (err error) {
	start := time.Now()
	defer func() { s.metrics.Observe("brain", "save", start, err) }()

	if err := tenant.ValidateUserID(userID); err != nil {
		return err
	}
	unlock, err := s.lock(ctx, userID)
	if err != nil {
		return err
	}
	defer unlock()

	h, err := s.dir.Ensure(context.WithoutCancel(ctx), userID)
	if err != nil {
		return err
	}
	return s.save(h, doc)
}

// Update runs fn against the current document and saves the result, all
// under the user's lock. Derived patterns are recomputed before the save.
// If fn returns an error nothing is written.
func (s *Store) Update(ctx context.Context, userID string, fn func(*Document) error) (doc *Document, err error) {
	start := time.Now()
	defer func() { s.metrics.Observe("brain", "update", start, err) }()

	if err := tenant.ValidateUserID(userID); err != nil {
		return nil, err
	}
	unlock, err := s.lock(ctx, userID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	// Past this point the write runs to completion even if the caller leaves.
	h, doc, err := s.loadLocked(context.WithoutCancel(ctx), userID)
	if err != nil {
		return nil, err
	}
	if err := fn(doc); err != nil {
		return nil, err
	}
	doc.recomputeHabitPatterns(s.opts.PatternWindow)
	if err := s.save(h, doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func (s *Store) lock(ctx context.Context, userID string) (keylock.Unlock, error) {
	lctx, cancel := context.WithTimeout(ctx, s.opts.IOTimeout)
	defer cancel()
	unlock, err := s.locks.Lock(lctx, userID)
	if err != nil {
		return nil, fault.Write("lock brain", userID, err)
	}
	return unlock, nil
}

// loadLocked is Load's slow path. The caller holds the user's lock.
func (s *Store) loadLocked(ctx context.Context, userID string) (*tenant.Handle, *Document, error) {
	h, err := s.dir.Ensure(ctx, userID)
	if err != nil {
		return nil, nil, err
	}

	doc, err := s.read(h)
	switch {
	case err == nil:
		return h, doc, nil
	case errors.Is(err, ErrNotFound):
	case errors.Is(err, fault.ErrIntegrity):
		s.metrics.Quarantined()
		dest, qerr := s.quarantine(h)
		if qerr != nil {
			return nil, nil, fault.Write("quarantine brain", userID, qerr)
		}
		s.logger.Warn("brain document quarantined", "user_id", userID, "reason", err, "quarantined_to", dest)
	default:
		return nil, nil, err
	}

	doc = NewDocument(userID, s.now())
	if err := s.write(h, doc); err != nil {
		return nil, nil, err
	}
	return h, doc, nil
}

func (s *Store) read(h *tenant.Handle) (*Document, error) {
	data, err := os.ReadFile(h.BrainPath())
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read brain: %w", err)
	}
	doc, err := decode(data)
	if err != nil {
		return nil, fault.Integrity("parse brain", h.UserID, err)
	}
	if doc.UserID != h.UserID {
		return nil, fault.Integrity("check brain owner", h.UserID, fmt.Errorf("document belongs to %q", doc.UserID))
	}
	return doc, nil
}

func (s *Store) save(h *tenant.Handle, doc *Document) error {
	doc.UserID = h.UserID
	doc.LastUpdated = s.now()
	doc.normalize()
	return s.write(h, doc)
}

// write commits doc with a temp-file-then-rename sequence in the unit. On
// any failure the temp file is removed and the previous document is intact.
func (s *Store) write(h *tenant.Handle, doc *Document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fault.Write("encode brain", h.UserID, err)
	}

	tmp, err := os.CreateTemp(h.Root, ".brain-*.tmp")
	if err != nil {
		return fault.Write("create temp brain", h.UserID, err)
	}
	committed := false
	defer func() {
		if !committed {
			os.Remove(tmp.Name())
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fault.Write("write temp brain", h.UserID, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fault.Write("sync temp brain", h.UserID, err)
	}
	if err := tmp.Close(); err != nil {
		return fault.Write("close temp brain", h.UserID, err)
	}
	if err := os.Chmod(tmp.Name(), tenant.FileMode); err != nil {
		return fault.Write("chmod temp brain", h.UserID, err)
	}
	if err := s.rename(tmp.Name(), h.BrainPath()); err != nil {
		return fault.Write("commit brain", h.UserID, err)
	}
	committed = true

	if err := os.Chmod(h.BrainPath(), tenant.FileMode); err != nil {
		s.logger.Warn("reset brain permissions", "user_id", h.UserID, "err", err)
	}
	tenant.SyncDir(h.Root)
	return nil
}

// quarantine moves the current document aside and returns its new path.
func (s *Store) quarantine(h *tenant.Handle) (string, error) {
	at := s.now()
	for seq := 0; ; seq++ {
		dest := h.QuarantinePath(at, seq)
		if _, err := os.Lstat(dest); err == nil {
			continue
		}
		if err := s.rename(h.BrainPath(), dest); err != nil {
			return "", err
		}
		return dest, nil
	}
}

// Quarantined lists the user's quarantined documents, for manual recovery.
func (s *Store) Quarantined(userID string) ([]string, error) {
	h, err := s.dir.Open(userID)
	if errors.Is(err, tenant.ErrNotProvisioned) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return h.Quarantined()
}
