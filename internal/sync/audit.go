package sync

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/torfstack/shore/internal/logging"
	"github.com/torfstack/shore/internal/remote"
)

// AuditFailure records an object the audit could not fully handle,
// either because the local check errored or the purge delete failed.
type AuditFailure struct {
	Key string
	Err error
}

// Report summarizes one audit pass.
type Report struct {
	Scanned  int
	Ghosts   []string
	Purged   []string
	Failures []AuditFailure
}

// Auditor walks the remote listing under the configured prefix and finds
// ghosts: objects whose mapped local path no longer exists. With purge
// enabled it deletes them, except keys that are currently in flight.
type Auditor struct {
	store  remote.Store
	mapper *remote.Mapper
	state  *State
	status func(string)

	// stat is swappable for tests that need to simulate local check
	// failures other than absence.
	stat func(string) (os.FileInfo, error)
}

func NewAuditor(store remote.Store, mapper *remote.Mapper, state *State, status func(string)) *Auditor {
	if state == nil {
		state = NewState()
	}
	if status == nil {
		status = logging.Info
	}
	return &Auditor{
		store:  store,
		mapper: mapper,
		state:  state,
		status: status,
		stat:   os.Stat,
	}
}

// Audit lists every object under the prefix and classifies it. A stat
// error other than absence is recorded as a failure and the object is
// never treated as a ghost: when in doubt, keep the data.
func (a *Auditor) Audit(ctx context.Context, purge bool) (Report, error) {
	report := Report{}

	prefix := a.mapper.Prefix()
	if prefix != "" {
		prefix += "/"
	}

	err := a.store.List(ctx, prefix, func(obj remote.Object) error {
		// The bare prefix marker maps to the root itself, nothing to check.
		if obj.Key == prefix {
			return nil
		}
		report.Scanned++

		localPath, err := a.mapper.ToLocalPath(obj.Key)
		if err != nil {
			report.Failures = append(report.Failures, AuditFailure{Key: obj.Key, Err: err})
			return nil
		}

		_, statErr := a.stat(localPath)
		switch {
		case statErr == nil:
			return nil
		case errors.Is(statErr, fs.ErrNotExist):
			// Ghost, handled below.
		default:
			report.Failures = append(report.Failures, AuditFailure{Key: obj.Key, Err: statErr})
			return nil
		}

		report.Ghosts = append(report.Ghosts, obj.Key)
		if !purge {
			return nil
		}
		if a.state.InFlight(obj.Key) {
			a.status(fmt.Sprintf("audit: skipping in-flight key '%s'", obj.Key))
			return nil
		}
		if err := a.store.Delete(ctx, obj.Key); err != nil {
			report.Failures = append(report.Failures, AuditFailure{Key: obj.Key, Err: err})
			return nil
		}
		report.Purged = append(report.Purged, obj.Key)
		a.status(fmt.Sprintf("audit: purged ghost '%s'", obj.Key))
		return nil
	})
	if err != nil {
		return report, fmt.Errorf("audit listing failed: %w", err)
	}

	a.status(fmt.Sprintf("audit complete: %d scanned, %d ghost(s), %d purged, %d failure(s)",
		report.Scanned, len(report.Ghosts), len(report.Purged), len(report.Failures)))
	return report, nil
}
