// Package lifecycle provisions and erases whole user storage units and runs
// the background maintenance that keeps the data root tidy.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/lazypower/sanctum/internal/brain"
	"github.com/lazypower/sanctum/internal/fault"
	"github.com/lazypower/sanctum/internal/isolation"
	"github.com/lazypower/sanctum/internal/keylock"
	"github.com/lazypower/sanctum/internal/metrics"
	"github.com/lazypower/sanctum/internal/records"
	"github.com/lazypower/sanctum/internal/tenant"
)

// DeletionMethod describes how Erase removes a unit.
const DeletionMethod = "detach_then_remove"

// Options tunes a Manager. Zero durations disable the matching job.
type Options struct {
	// IOTimeout bounds how long Erase waits for the user's lock.
	IOTimeout time.Duration
	// SweepInterval is how often tombstones are purged and idle handles closed.
	SweepInterval time.Duration
	// IdleHandleTTL is how long a record handle may sit unused before the
	// sweep closes it.
	IdleHandleTTL time.Duration
	// VerifyInterval is how often every unit is audited.
	VerifyInterval time.Duration
}

// ProvisionReport describes a freshly provisioned unit.
type ProvisionReport struct {
	UserID             string            `json:"user_id"`
	SpaceCreated       bool              `json:"space_created"`
	BrainInitialized   bool              `json:"brain_initialized"`
	RecordsInitialized bool              `json:"records_initialized"`
	IsolationVerified  bool              `json:"isolation_verified"`
	Score              int               `json:"score"`
	Total              int               `json:"total"`
	DataLocation       string            `json:"data_location"`
	CreatedAt          time.Time         `json:"created_at"`
	Isolation          *isolation.Report `json:"isolation,omitempty"`
}

// EraseReport describes a completed erase. It is only returned on success.
type EraseReport struct {
	UserID         string    `json:"user_id"`
	AllDataDeleted bool      `json:"all_data_deleted"`
	Existed        bool      `json:"existed"`
	Includes       []string  `json:"includes"`
	DeletionMethod string    `json:"deletion_method"`
	DeletedAt      time.Time `json:"deleted_at"`
}

// Manager owns provisioning, erasure and maintenance.
type Manager struct {
	dir      *tenant.Directory
	locks    *keylock.Locker
	brain    *brain.Store
	records  *records.Store
	verifier *isolation.Verifier
	metrics  *metrics.Metrics
	logger   *slog.Logger
	opts     Options
	now      func() time.Time

	scheduler gocron.Scheduler
}

func New(dir *tenant.Directory, locks *keylock.Locker, b *brain.Store, r *records.Store, v *isolation.Verifier, m *metrics.Metrics, opts Options) *Manager {
	if opts.IOTimeout <= 0 {
		opts.IOTimeout = 10 * time.Second
	}
	return &Manager{
		dir:      dir,
		locks:    locks,
		brain:    b,
		records:  r,
		verifier: v,
		metrics:  m,
		logger:   slog.Default().With("component", "lifecycle"),
		opts:     opts,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Provision creates the user's unit, brain document and record database,
// then audits the result. It succeeds only if the audit passes; otherwise
// the report is returned alongside a provisioning fault.
func (m *Manager) Provision(ctx context.Context, userID string) (report *ProvisionReport, err error) {
	start := time.Now()
	defer func() { m.metrics.Observe("lifecycle", "provision", start, err) }()

	existed, err := m.dir.Exists(userID)
	if err != nil {
		if errors.Is(err, fault.ErrInvalidUser) {
			return nil, err
		}
		return nil, fault.Provisioning("check tenant", userID, err)
	}
	h, err := m.dir.Ensure(ctx, userID)
	if err != nil {
		return nil, err
	}

	report = &ProvisionReport{
		UserID:       userID,
		SpaceCreated: !existed,
		DataLocation: h.Root,
		CreatedAt:    h.CreatedAt,
	}

	if _, err := m.brain.Load(ctx, userID); err != nil {
		return report, fault.Provisioning("initialize brain", userID, err)
	}
	report.BrainInitialized = true

	if err := m.records.Init(ctx, userID); err != nil {
		return report, fault.Provisioning("initialize records", userID, err)
	}
	report.RecordsInitialized = true

	iso, err := m.verifier.Verify(ctx, userID)
	if err != nil {
		return report, fault.Provisioning("verify tenant", userID, err)
	}
	report.Isolation = iso
	report.Score = iso.Score
	report.Total = iso.Total
	report.IsolationVerified = iso.Verified
	if !iso.Verified {
		return report, fault.Provisioning("verify tenant", userID,
			fmt.Errorf("isolation checks failed: %s", strings.Join(iso.Failed(), ", ")))
	}

	if report.SpaceCreated {
		m.logger.Info("user provisioned", "user_id", userID, "path", h.Root)
	}
	return report, nil
}

// Erase removes everything stored for the user. On error the caller must
// assume nothing was removed and retry; no partial report is returned.
func (m *Manager) Erase(ctx context.Context, userID string) (report *EraseReport, err error) {
	start := time.Now()
	defer func() { m.metrics.Observe("lifecycle", "erase", start, err) }()

	if err := tenant.ValidateUserID(userID); err != nil {
		return nil, err
	}
	lctx, cancel := context.WithTimeout(ctx, m.opts.IOTimeout)
	unlock, err := m.locks.Lock(lctx, userID)
	cancel()
	if err != nil {
		return nil, fault.Erase("lock tenant", userID, err)
	}
	defer unlock()

	// The lock is held; finish even if the caller goes away.
	ctx = context.WithoutCancel(ctx)

	var includes []string
	if h, err := m.dir.Open(userID); err == nil {
		includes = contents(h.Root)
	}

	if err := m.records.Evict(userID); err != nil {
		m.logger.Warn("close records before erase", "user_id", userID, "err", err)
	}
	existed, err := m.dir.Destroy(ctx, userID)
	if err != nil {
		return nil, err
	}

	m.logger.Info("user erased", "user_id", userID, "existed", existed)
	return &EraseReport{
		UserID:         userID,
		AllDataDeleted: true,
		Existed:        existed,
		Includes:       includes,
		DeletionMethod: DeletionMethod,
		DeletedAt:      m.now(),
	}, nil
}

// contents lists the files in a unit relative to its root.
func contents(root string) []string {
	var files []string
	filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if rel, err := filepath.Rel(root, path); err == nil {
			files = append(files, rel)
		}
		return nil
	})
	sort.Strings(files)
	return files
}

// SweepResult summarizes one maintenance pass.
type SweepResult struct {
	TombstonesPurged int
	HandlesClosed    int
}

// Sweep purges erase tombstones and closes idle record handles.
func (m *Manager) Sweep(ctx context.Context) (SweepResult, error) {
	var res SweepResult
	n, err := m.dir.PurgeTombstones(ctx)
	res.TombstonesPurged = n
	if err != nil {
		return res, fmt.Errorf("purge tombstones: %w", err)
	}
	if m.opts.IdleHandleTTL > 0 {
		res.HandlesClosed = m.records.EvictIdle(m.opts.IdleHandleTTL)
	}
	return res, nil
}

// VerifyAll audits every provisioned unit and returns the reports of the
// units that failed. Nothing is repaired.
func (m *Manager) VerifyAll(ctx context.Context) ([]*isolation.Report, error) {
	users, err := m.dir.Users()
	if err != nil {
		return nil, err
	}
	var failed []*isolation.Report
	for _, userID := range users {
		r, err := m.verifier.Verify(ctx, userID)
		if err != nil {
			return failed, err
		}
		if !r.Verified {
			failed = append(failed, r)
		}
	}
	return failed, nil
}

// Start schedules the maintenance jobs. It runs a sweep immediately.
func (m *Manager) Start() error {
	s, err := gocron.NewScheduler(gocron.WithLocation(time.UTC))
	if err != nil {
		return fmt.Errorf("create scheduler: %w", err)
	}

	if m.opts.SweepInterval > 0 {
		_, err := s.NewJob(
			gocron.DurationJob(m.opts.SweepInterval),
			gocron.NewTask(m.runSweep),
			gocron.WithName("sweep"),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
			gocron.WithStartAt(gocron.WithStartImmediately()),
		)
		if err != nil {
			s.Shutdown()
			return fmt.Errorf("schedule sweep: %w", err)
		}
	}
	if m.opts.VerifyInterval > 0 {
		_, err := s.NewJob(
			gocron.DurationJob(m.opts.VerifyInterval),
			gocron.NewTask(m.runVerify),
			gocron.WithName("verify"),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		)
		if err != nil {
			s.Shutdown()
			return fmt.Errorf("schedule verify: %w", err)
		}
	}

	s.Start()
	m.scheduler = s
	m.logger.Info("maintenance started", "sweep_interval", m.opts.SweepInterval, "verify_interval", m.opts.VerifyInterval)
	return nil
}

// Stop waits for running jobs and stops the scheduler.
func (m *Manager) Stop() error {
	if m.scheduler == nil {
		return nil
	}
	err := m.scheduler.Shutdown()
	m.scheduler = nil
	return err
}

func (m *Manager) runSweep() {
	res, err := m.Sweep(context.Background())
	if err != nil {
		m.logger.Error("maintenance sweep", "err", err)
		return
	}
	if res.TombstonesPurged > 0 || res.HandlesClosed > 0 {
		m.logger.Info("maintenance sweep", "tombstones_purged", res.TombstonesPurged, "handles_closed", res.HandlesClosed)
	}
}

func (m *Manager) runVerify() {
	failed, err := m.VerifyAll(context.Background())
	if err != nil {
		m.logger.Error("verification sweep", "err", err)
	}
	for _, r := range failed {
		m.logger.Warn("isolation check failed", "user_id", r.UserID, "score", r.Score, "total", r.Total, "failed", r.Failed())
	}
}
