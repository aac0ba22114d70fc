// Package doctor runs host preflight checks on a loaded shopworker
// configuration. Load only validates the document; doctor looks at the
// filesystem and the pool timings.
package doctor

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"

	"github.com/mattjoyce/shopworker/internal/config"
	"github.com/mattjoyce/shopworker/internal/lock"
	"github.com/mattjoyce/shopworker/internal/storage"
)

// maxSensibleWorkers is where a pool stops looking like a background helper.
const maxSensibleWorkers = 64

// Result holds the outcome of a validation run.
type Result struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

// Issue describes a single validation error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

// Doctor checks a loaded config against the host it will run on.
type Doctor struct {
	cfg *config.Config
}

func New(cfg *config.Config) *Doctor {
	return &Doctor{cfg: cfg}
}

// Validate runs all checks and returns a result.
func (d *Doctor) Validate() *Result {
	r := &Result{Valid: true}

	d.validatePool(r)
	d.validatePaths(r)
	d.validateAPI(r)
	d.checkRunningInstance(r)

	r.Valid = len(r.Errors) == 0
	return r
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) validatePool(r *Result) {
	pool := d.cfg.Pool
	if pool.Workers <= 0 {
		d.addError(r, "pool", "pool.workers", "pool.workers must be positive")
	} else if pool.Workers > maxSensibleWorkers {
		d.addWarning(r, "pool", "pool.workers",
			fmt.Sprintf("%d workers is unusually large for an in-process pool", pool.Workers))
	}
	if pool.TaskDelay >= pool.JoinTimeout {
		d.addWarning(r, "pool", "pool.join_timeout",
			fmt.Sprintf("join_timeout %s does not exceed task_delay %s; a simulate task in flight at shutdown will be abandoned",
				pool.JoinTimeout, pool.TaskDelay))
	}
}

func (d *Doctor) validatePaths(r *Result) {
	d.checkWritableDir(r, "lock.path", d.cfg.Lock.Path)
	if d.cfg.Journal.Enabled {
		d.checkWritableDir(r, "journal.path", d.cfg.Journal.Path)
		if err := storage.CheckLocalFilesystem(d.cfg.Journal.Path); err != nil {
			d.addError(r, "paths", "journal.path", err.Error())
		}
	}
	if d.cfg.Service.LogFile != "" {
		d.checkWritableDir(r, "service.log_file", d.cfg.Service.LogFile)
	}
}

// checkWritableDir verifies that the directory holding path exists (or can be
// created) and accepts new files.
func (d *Doctor) checkWritableDir(r *Result, field, path string) {
	if path == "" {
		d.addError(r, "paths", field, field+" is required")
		return
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		d.addError(r, "paths", field, fmt.Sprintf("cannot create %s: %v", dir, err))
		return
	}
	f, err := os.CreateTemp(dir, ".shopworker-doctor-*")
	if err != nil {
		d.addError(r, "paths", field, fmt.Sprintf("%s is not writable: %v", dir, err))
		return
	}
	name := f.Name()
	_ = f.Close()
	_ = os.Remove(name)
}

func (d *Doctor) validateAPI(r *Result) {
	api := d.cfg.API
	if !api.Enabled {
		return
	}

	host, _, err := net.SplitHostPort(api.Listen)
	if err != nil {
		d.addError(r, "api", "api.listen", fmt.Sprintf("invalid listen address %q: %v", api.Listen, err))
		return
	}
	if ip := net.ParseIP(host); host == "" || (ip != nil && !ip.IsLoopback()) {
		d.addWarning(r, "api", "api.listen",
			"API has no authentication; bind it to a loopback address or put it behind a proxy")
	}
	if !d.cfg.Journal.Enabled {
		d.addWarning(r, "api", "journal.enabled", "journal disabled; /tasks/log will return 404")
	}
}

// checkRunningInstance warns when another process already holds the lock.
func (d *Doctor) checkRunningInstance(r *Result) {
	if d.cfg.Lock.Path == "" {
		return
	}
	l, err := lock.AcquirePIDLock(d.cfg.Lock.Path)
	if err == nil {
		_ = l.Release()
		return
	}
	if errors.Is(err, lock.ErrLocked) {
		d.addWarning(r, "lock", "lock.path", fmt.Sprintf("an instance is already running: %v", err))
		return
	}
	d.addError(r, "lock", "lock.path", err.Error())
}
