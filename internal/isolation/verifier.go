// Package isolation audits a user's storage unit. It only reads: a failed
// check is reported, never repaired.
package isolation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/lazypower/sanctum/internal/brain"
	"github.com/lazypower/sanctum/internal/metrics"
	"github.com/lazypower/sanctum/internal/records"
	"github.com/lazypower/sanctum/internal/tenant"
)

// Check names, in the order they run.
const (
	CheckDirectoryExists      = "directory_exists"
	CheckDirectoryPermissions = "directory_permissions"
	CheckBrainExists          = "brain_exists"
	CheckBrainUserIDMatch     = "brain_user_id_match"
	CheckDatabaseExists       = "database_exists"
)

// Check is the outcome of one audit step.
type Check struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail,omitempty"`
}

// Report is the result of Verify. Verified is true only when every check
// passed.
type Report struct {
	UserID               string    `json:"user_id"`
	UserDirectory        string    `json:"user_directory"`
	DirectoryExists      bool      `json:"directory_exists"`
	DirectoryPermissions string    `json:"directory_permissions,omitempty"`
	BrainFile            string    `json:"brain_file"`
	BrainExists          bool      `json:"brain_exists"`
	BrainUserIDMatch     bool      `json:"brain_user_id_match"`
	DatabaseFile         string    `json:"database_file"`
	DatabaseExists       bool      `json:"database_exists"`
	Checks               []Check   `json:"checks"`
	Score                int       `json:"score"`
	Total                int       `json:"total"`
	Verified             bool      `json:"verified"`
	VerifiedAt           time.Time `json:"verified_at"`
}

// Verifier runs the audit. It reads the medium directly on every call.
type Verifier struct {
	dir     *tenant.Directory
	brain   *brain.Store
	records *records.Store
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

func New(dir *tenant.Directory, b *brain.Store, r *records.Store, m *metrics.Metrics) *Verifier {
	return &Verifier{
		dir:     dir,
		brain:   b,
		records: r,
		metrics: m,
		logger:  slog.Default().With("component", "isolation"),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Verify audits the user's unit. It returns an error only for an invalid
// user id or a cancelled context; every storage problem is a failed check.
func (v *Verifier) Verify(ctx context.Context, userID string) (*Report, error) {
	root, err := v.dir.PathFor(userID)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("verify %s: %w", userID, err)
	}

	h := &tenant.Handle{UserID: userID, Root: root}
	r := &Report{
		UserID:        userID,
		UserDirectory: root,
		BrainFile:     h.BrainPath(),
		DatabaseFile:  h.DBPath(),
	}
	add := func(name string, passed bool, detail string) {
		r.Checks = append(r.Checks, Check{Name: name, Passed: passed, Detail: detail})
	}

	info, err := os.Lstat(root)
	switch {
	case err == nil && info.IsDir():
		r.DirectoryExists = true
		add(CheckDirectoryExists, true, "")
	case err == nil:
		add(CheckDirectoryExists, false, "not a directory")
	case errors.Is(err, os.ErrNotExist):
		add(CheckDirectoryExists, false, "missing")
	default:
		add(CheckDirectoryExists, false, err.Error())
	}

	if r.DirectoryExists {
		perm := info.Mode().Perm()
		r.DirectoryPermissions = fmt.Sprintf("%03o", perm)
		add(CheckDirectoryPermissions, perm == tenant.DirMode, "mode "+r.DirectoryPermissions)
	} else {
		add(CheckDirectoryPermissions, false, "no directory")
	}

	if bi, err := os.Stat(r.BrainFile); err == nil && bi.Mode().IsRegular() {
		r.BrainExists = true
		add(CheckBrainExists, true, "")
	} else {
		add(CheckBrainExists, false, "missing")
	}

	if r.BrainExists {
		doc, err := v.brain.Peek(userID)
		switch {
		case err != nil:
			add(CheckBrainUserIDMatch, false, err.Error())
		case doc.UserID != userID:
			add(CheckBrainUserIDMatch, false, fmt.Sprintf("document names %q", doc.UserID))
		default:
			r.BrainUserIDMatch = true
			add(CheckBrainUserIDMatch, true, "")
		}
	} else {
		add(CheckBrainUserIDMatch, false, "no document")
	}

	ok, err := v.records.Exists(userID)
	switch {
	case err != nil:
		add(CheckDatabaseExists, false, err.Error())
	case !ok:
		add(CheckDatabaseExists, false, "missing or not a database")
	default:
		r.DatabaseExists = true
		add(CheckDatabaseExists, true, "")
	}

	for _, c := range r.Checks {
		if c.Passed {
			r.Score++
		}
	}
	r.Total = len(r.Checks)
	r.Verified = r.Score == r.Total
	r.VerifiedAt = v.now()

	v.metrics.Verified(r.Score, r.Total)
	if !r.Verified {
		v.logger.Debug("isolation check failed", "user_id", userID, "score", r.Score, "total", r.Total)
	}
	return r, nil
}

// Failed lists the names of the checks that did not pass.
func (r *Report) Failed() []string {
	var names []string
	for _, c := range r.Checks {
		if !c.Passed {
			names = append(names, c.Name)
		}
	}
	return names
}
