// Package tenant allocates and guards the storage unit that holds one user's
// data. Every path inside a unit is derived here and nowhere else.
package tenant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/lazypower/sanctum/internal/fault"
	"github.com/lazypower/sanctum/internal/metrics"
)

const (
	// BrainFile and DatabaseFile are the two artifacts a unit holds.
	BrainFile    = "brain.json"
	DatabaseFile = "user_data.db"

	DirMode  os.FileMode = 0o700
	FileMode os.FileMode = 0o600

	dirPrefix       = "user_"
	markerFile      = "tenant.json"
	tombstonePrefix = ".erase"
)

// ErrNotProvisioned is returned by Open when the unit does not exist.
var ErrNotProvisioned = errors.New("tenant not provisioned")

var validUserID = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]{0,127}$`)

// ValidateUserID rejects ids that could escape or alias a storage unit.
func ValidateUserID(userID string) error {
	if !validUserID.MatchString(userID) {
		return fault.InvalidUser(userID, "must match "+validUserID.String())
	}
	return nil
}

// Handle is a provisioned storage unit.
type Handle struct {
	UserID    string
	Root      string
	CreatedAt time.Time
}

// BrainPath is the location of the user's brain document.
func (h *Handle) BrainPath() string { return filepath.Join(h.Root, BrainFile) }

// DBPath is the location of the user's record database.
func (h *Handle) DBPath() string { return filepath.Join(h.Root, DatabaseFile) }

// QuarantinePath names the place a bad brain document is moved to:
// brain_corrupted_<YYYYmmdd_HHMMSS>.json, with _<seq> appended when seq > 0.
func (h *Handle) QuarantinePath(at time.Time, seq int) string {
	base := strings.TrimSuffix(BrainFile, filepath.Ext(BrainFile))
	name := base + "_corrupted_" + at.Format("20060102_150405")
	if seq > 0 {
		name += fmt.Sprintf("_%d", seq)
	}
	return filepath.Join(h.Root, name+filepath.Ext(BrainFile))
}

// Quarantined lists the quarantined brain documents in the unit, oldest first.
func (h *Handle) Quarantined() ([]string, error) {
	base := strings.TrimSuffix(BrainFile, filepath.Ext(BrainFile))
	return filepath.Glob(filepath.Join(h.Root, base+"_corrupted_*"+filepath.Ext(BrainFile)))
}

type marker struct {
	UserID    string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Directory manages the per-user units below a single root.
type Directory struct {
	root    string
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	// rename and removeAll are the os functions; tests swap them to
	// simulate failed erases.
	rename    func(oldpath, newpath string) error
	removeAll func(path string) error
}

// New prepares root (owner-only) and returns a Directory over it.
func New(root string, m *metrics.Metrics) (*Directory, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve data root: %w", err)
	}
	if err := os.MkdirAll(abs, DirMode); err != nil {
		return nil, fault.Provisioning("create data root", "", err)
	}
	return &Directory{
		root:    abs,
		logger:  slog.Default().With("component", "tenant"),
		metrics: m,
		now:     time.Now,

		rename:    os.Rename,
		removeAll: os.RemoveAll,
	}, nil
}

// SetFileOps replaces the rename and remove functions Destroy and the
// tombstone purge use. A nil argument leaves that function unchanged. It is
// meant for tests that need an erase to fail partway and must not be called
// while the Directory is in use.
func (d *Directory) SetFileOps(rename func(oldpath, newpath string) error, removeAll func(path string) error) {
	if rename != nil {
		d.rename = rename
	}
	if removeAll != nil {
		d.removeAll = removeAll
	}
}

// Root returns the absolute data root.
func (d *Directory) Root() string { return d.root }

// PathFor derives the unit path for userID.
func (d *Directory) PathFor(userID string) (string, error) {
	if err := ValidateUserID(userID); err != nil {
		return "", err
	}
	p := filepath.Join(d.root, dirPrefix+userID)
	if filepath.Dir(p) != d.root {
		return "", fault.InvalidUser(userID, "path escapes data root")
	}
	return p, nil
}

// Ensure creates the unit for userID if absent and returns its handle.
// It is idempotent and always leaves the directory owner-only.
func (d *Directory) Ensure(ctx context.Context, userID string) (h *Handle, err error) {
	start := time.Now()
	defer func() { d.metrics.Observe("tenant", "ensure", start, err) }()

	path, err := d.PathFor(userID)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, fault.Provisioning("ensure tenant", userID, err)
	}

	created := false
	if err := os.Mkdir(path, DirMode); err != nil {
		if !errors.Is(err, os.ErrExist) {
			return nil, fault.Provisioning("create tenant dir", userID, err)
		}
		info, statErr := os.Lstat(path)
		if statErr != nil {
			return nil, fault.Provisioning("stat tenant dir", userID, statErr)
		}
		if !info.IsDir() {
			return nil, fault.Provisioning("stat tenant dir", userID, fmt.Errorf("%s is not a directory", path))
		}
	} else {
		created = true
	}
	// Mkdir is subject to umask.
	if err := os.Chmod(path, DirMode); err != nil {
		return nil, fault.Provisioning("chmod tenant dir", userID, err)
	}

	m, err := d.ensureMarker(path, userID)
	if err != nil {
		return nil, fault.Provisioning("write tenant marker", userID, err)
	}
	if created {
		d.logger.Info("tenant provisioned", "user_id", userID, "path", path)
	}
	return &Handle{UserID: userID, Root: path, CreatedAt: m.CreatedAt}, nil
}

// ensureMarker writes the marker if none exists. The link step makes the
// create-if-absent atomic, so racing callers agree on one created_at.
func (d *Directory) ensureMarker(dir, userID string) (marker, error) {
	path := filepath.Join(dir, markerFile)
	if m, err := readMarker(path); err == nil {
		return m, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return marker{}, err
	}

	m := marker{UserID: userID, CreatedAt: d.now().UTC()}
	data, err := json.Marshal(m)
	if err != nil {
		return marker{}, err
	}
	tmp, err := os.CreateTemp(dir, ".tenant-*.tmp")
	if err != nil {
		return marker{}, err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return marker{}, err
	}
	if err := tmp.Close(); err != nil {
		return marker{}, err
	}
	if err := os.Chmod(tmp.Name(), FileMode); err != nil {
		return marker{}, err
	}
	if err := os.Link(tmp.Name(), path); err != nil {
		if errors.Is(err, os.ErrExist) {
			return readMarker(path)
		}
		return marker{}, err
	}
	return m, nil
}

func readMarker(path string) (marker, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return marker{}, err
	}
	var m marker
	if err := json.Unmarshal(data, &m); err != nil {
		return marker{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return m, nil
}

// Open returns the handle of an existing unit without creating anything.
func (d *Directory) Open(userID string) (*Handle, error) {
	path, err := d.PathFor(userID)
	if err != nil {
		return nil, err
	}
	info, err := os.Lstat(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotProvisioned
	}
	if err != nil {
		return nil, fmt.Errorf("stat tenant dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", path)
	}
	h := &Handle{UserID: userID, Root: path}
	if m, err := readMarker(filepath.Join(path, markerFile)); err == nil {
		h.CreatedAt = m.CreatedAt
	}
	return h, nil
}

// Exists reports whether the unit for userID is present.
func (d *Directory) Exists(userID string) (bool, error) {
	_, err := d.Open(userID)
	if errors.Is(err, ErrNotProvisioned) {
		return false, nil
	}
	return err == nil, err
}

// Mode returns the permission bits of the unit directory.
func (d *Directory) Mode(userID string) (os.FileMode, error) {
	path, err := d.PathFor(userID)
	if err != nil {
		return 0, err
	}
	info, err := os.Lstat(path)
	if err != nil {
		return 0, err
	}
	return info.Mode().Perm(), nil
}

// Destroy removes the unit and everything beneath it. It reports false when
// there was nothing to remove.
//
// The unit is first renamed to a tombstone in the data root; if that fails
// nothing has been touched. Once renamed the unit is unreachable under its
// path, and a failure while deleting the tombstone is reported as an erase
// failure so the caller retries. Any retry purges leftover tombstones first.
func (d *Directory) Destroy(ctx context.Context, userID string) (existed bool, err error) {
	start := time.Now()
	defer func() { d.metrics.Observe("tenant", "destroy", start, err) }()

	path, err := d.PathFor(userID)
	if err != nil {
		return false, err
	}
	if err := ctx.Err(); err != nil {
		return false, fault.Erase("destroy tenant", userID, err)
	}

	purged, err := d.purge(func(owner string) bool { return owner == dirPrefix+userID })
	if err != nil {
		return false, fault.Erase("purge tombstones", userID, err)
	}

	if _, err := os.Lstat(path); errors.Is(err, os.ErrNotExist) {
		return purged > 0, nil
	} else if err != nil {
		return false, fault.Erase("stat tenant dir", userID, err)
	}

	tomb := filepath.Join(d.root, fmt.Sprintf("%s.%s%s.%d", tombstonePrefix, dirPrefix, userID, d.now().UnixNano()))
	if err := d.rename(path, tomb); err != nil {
		return false, fault.Erase("detach tenant dir", userID, err)
	}
	SyncDir(d.root)

	if err := d.removeAll(tomb); err != nil {
		d.logger.Warn("tenant detached but not fully removed", "user_id", userID, "tombstone", tomb, "err", err)
		return false, fault.Erase("remove tenant dir", userID, err)
	}
	d.logger.Info("tenant destroyed", "user_id", userID)
	return true, nil
}

// PurgeTombstones removes every leftover erase tombstone under the root.
func (d *Directory) PurgeTombstones(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return d.purge(func(string) bool { return true })
}

func (d *Directory) purge(match func(owner string) bool) (int, error) {
	entries, err := os.ReadDir(d.root)
	if err != nil {
		return 0, fmt.Errorf("list data root: %w", err)
	}
	n := 0
	for _, e := range entries {
		owner, ok := tombstoneOwner(e.Name())
		if !ok || !match(owner) {
			continue
		}
		if err := d.removeAll(filepath.Join(d.root, e.Name())); err != nil {
			return n, fmt.Errorf("remove tombstone %s: %w", e.Name(), err)
		}
		n++
	}
	d.metrics.Purged(n)
	return n, nil
}

// tombstoneOwner parses ".erase.user_<id>.<nanos>". User ids never contain
// dots, so the middle field is exact.
func tombstoneOwner(name string) (string, bool) {
	parts := strings.Split(name, ".")
	if len(parts) != 4 || parts[0] != "" || "."+parts[1] != tombstonePrefix {
		return "", false
	}
	return parts[2], true
}

// Users lists the ids of all provisioned units.
func (d *Directory) Users() ([]string, error) {
	entries, err := os.ReadDir(d.root)
	if err != nil {
		return nil, fmt.Errorf("list data root: %w", err)
	}
	var users []string
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), dirPrefix) {
			continue
		}
		id := strings.TrimPrefix(e.Name(), dirPrefix)
		if ValidateUserID(id) == nil {
			users = append(users, id)
		}
	}
	return users, nil
}

// SyncDir flushes directory metadata so a rename survives a crash. Errors are
// ignored: not every filesystem supports fsync on directories.
func SyncDir(dir string) {
	f, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = f.Sync()
	f.Close()
}
