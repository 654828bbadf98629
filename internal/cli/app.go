package cli

import (
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/lazypower/sanctum/internal/brain"
	"github.com/lazypower/sanctum/internal/config"
	"github.com/lazypower/sanctum/internal/isolation"
	"github.com/lazypower/sanctum/internal/keylock"
	"github.com/lazypower/sanctum/internal/lifecycle"
	"github.com/lazypower/sanctum/internal/logging"
	"github.com/lazypower/sanctum/internal/metrics"
	"github.com/lazypower/sanctum/internal/records"
	"github.com/lazypower/sanctum/internal/tenant"
)

// app is the wired storage stack shared by every command.
type app struct {
	cfg       *config.Config
	registry  *prometheus.Registry
	dir       *tenant.Directory
	brain     *brain.Store
	records   *records.Store
	verifier  *isolation.Verifier
	lifecycle *lifecycle.Manager
}

// loadConfig resolves the config file and flag overrides, then sets up
// logging.
func loadConfig() (*config.Config, error) {
	path, optional := configPath, false
	if path == "" {
		p, err := config.DefaultPath()
		if err != nil {
			return nil, err
		}
		path, optional = p, true
	}
	cfg, err := config.Load(path, optional)
	if err != nil {
		return nil, err
	}
	if dataDir != "" {
		cfg.Storage.DataDir = dataDir
	}
	if err := logging.Init(os.Stderr, cfg.Logging.Level, cfg.Logging.Format); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newApp(cfg *config.Config) (*app, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New(reg)
	}

	dir, err := tenant.New(cfg.Storage.DataDir, m)
	if err != nil {
		return nil, fmt.Errorf("open data dir: %w", err)
	}
	locks := keylock.New()
	if cfg.Metrics.Enabled {
		metrics.WatchLocks(reg, locks.Len)
	}
	b := brain.New(dir, locks, m, brain.Options{
		IOTimeout:       cfg.Storage.IOTimeout,
		ConversationCap: cfg.Storage.ConversationCap,
		PatternWindow:   cfg.Storage.PatternWindow,
	})
	r := records.New(dir, locks, m, records.Options{
		IOTimeout:    cfg.Storage.IOTimeout,
		AnalyticsTTL: cfg.Storage.AnalyticsTTL,
	})
	v := isolation.New(dir, b, r, m)

	opts := lifecycle.Options{
		IOTimeout:     cfg.Storage.IOTimeout,
		IdleHandleTTL: cfg.Storage.IdleHandleTTL,
	}
	if cfg.Maintenance.Enabled {
		opts.SweepInterval = cfg.Maintenance.SweepInterval
		opts.VerifyInterval = cfg.Maintenance.VerifyInterval
	}

	return &app{
		cfg:       cfg,
		registry:  reg,
		dir:       dir,
		brain:     b,
		records:   r,
		verifier:  v,
		lifecycle: lifecycle.New(dir, locks, b, r, v, m, opts),
	}, nil
}

// openApp loads the config and wires the stack.
func openApp() (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return newApp(cfg)
}

func (a *app) Close() error {
	a.lifecycle.Stop()
	return a.records.Close()
}
