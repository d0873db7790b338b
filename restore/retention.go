// Copyright © 2024 OmniTI Labs
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package restore

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bluele/gcache"
	cgm "github.com/circonus-labs/circonus-gometrics"
	"github.com/google/uuid"
	"github.com/omniti-labs/omnipitr/compress"
	"github.com/omniti-labs/omnipitr/pg"
	"github.com/omniti-labs/omnipitr/wal"
	"github.com/pkg/errors"
	log "github.com/rs/zerolog/log"
)

// ControldataErrorMode selects what a failing pg_controldata does to
// retention.
const (
	ControldataBreak  = "break"
	ControldataIgnore = "ignore"
	ControldataHang   = "hang"
)

const (
	// controldataTTL keeps one pg_controldata result across the rapid-fire
	// passes of an idle restore loop.
	controldataTTL = 5 * time.Second

	// controldataSuspension is how long retention stays suspended after a
	// pg_controldata failure.  Restore requests keep being served meanwhile.
	controldataSuspension = 5 * time.Minute

	metricsSegmentsRemoved = "cleanup-segments-removed"
)

// controldataSuspended marks a poisoned cache entry.
type controldataSuspended struct {
	err error
}

// Retention removes archived segments the standby can no longer need: those
// lexicographically older than the REDO segment of the latest checkpoint (or
// an operator-supplied boundary).
type Retention struct {
	// ArchiveDir is the wal-archive directory being pruned.
	ArchiveDir string

	// Compression is how segments are stored in ArchiveDir; its extension is
	// stripped before name comparisons.
	Compression compress.Compression

	// Boundary, when set, overrides pg_controldata: every matching name
	// sorting strictly before it is removable.
	Boundary string

	DataDir         string
	ControldataPath string

	PauseTriggerPath string

	// RemoveAtATime caps one pass; 0 means no cap.
	RemoveAtATime int

	// Hook, when set, receives each victim as `<hook> pg_xlog/<segment>`
	// (run through the shell, cwd holding a staged, decompressed copy) and
	// must exit 0 before the archive copy is unlinked.
	Hook string

	ShellPath string
	TempDir   string
	Compress  compress.Paths

	// ErrorMode is one of the Controldata* constants; default is
	// ControldataIgnore, which suspends retention without hurting restore.
	ErrorMode string

	// Metrics is optional; nil disables instrumentation.
	Metrics *cgm.CirconusMetrics

	cacheOnce sync.Once
	cache     gcache.Cache

	// loaderCtx hands the current pass's context to the cache loader.
	loaderCtx context.Context
}

// initCache builds the pg_controldata read-through cache.  A failed
// invocation poisons the entry for the suspension window so an unreachable
// cluster does not get hammered once per second.
func (r *Retention) initCache() {
	r.cacheOnce.Do(func() {
		r.cache = gcache.New(1).
			LRU().
			LoaderExpireFunc(func(key interface{}) (interface{}, *time.Duration, error) {
				cd, err := pg.RunControlData(r.loaderCtx, r.ControldataPath, r.DataDir)
				if err != nil {
					log.Warn().Err(err).Dur("suspension", controldataSuspension).
						Msg("pg_controldata failed; suspending retention")
					ttl := controldataSuspension
					return controldataSuspended{err: err}, &ttl, nil
				}

				ttl := controldataTTL
				return cd, &ttl, nil
			}).
			Build()
	})
}

// Pass runs one removal pass.  It is a no-op while the removal-pause trigger
// exists.
func (r *Retention) Pass(ctx context.Context) error {
	if PauseTriggerExists(r.PauseTriggerPath) {
		log.Debug().Str("trigger", r.PauseTriggerPath).Msg("retention paused by trigger")
		return nil
	}

	boundary, err := r.boundary(ctx)
	if err != nil {
		return err
	}
	if boundary == "" {
		// Suspended in ignore mode
		return nil
	}

	victims, err := r.victims(boundary)
	if err != nil {
		return err
	}

	for _, victim := range victims {
		if err := r.removeOne(ctx, victim); err != nil {
			// Abandon the rest of the batch; already-removed segments stay
			// removed.
			return err
		}
	}

	return nil
}

// boundary resolves the removal boundary segment name.  "" with a nil error
// means retention is currently suspended.
func (r *Retention) boundary(ctx context.Context) (string, error) {
	if r.Boundary != "" {
		return r.Boundary, nil
	}

	r.initCache()
	r.loaderCtx = ctx

	for {
		v, err := r.cache.Get("controldata")
		if err != nil {
			return "", errors.Wrap(err, "unable to consult the controldata cache")
		}

		switch cd := v.(type) {
		case *pg.ControlData:
			return string(cd.RedoSegment()), nil
		case controldataSuspended:
			switch r.ErrorMode {
			case ControldataBreak:
				return "", errors.Wrap(cd.err, "pg_controldata failed")
			case ControldataHang:
				log.Warn().Msg("pg_controldata failed; hanging until it recovers")
				select {
				case <-ctx.Done():
					return "", errors.Wrap(ctx.Err(), "cancelled while hanging on pg_controldata")
				case <-time.After(controldataTTL):
				}
				continue
			default: // ControldataIgnore
				return "", nil
			}
		default:
			return "", errors.Errorf("unexpected controldata cache value: %T", v)
		}
	}
}

// victim pairs an archive entry with its canonical (extension-stripped)
// segment name.
type victim struct {
	stored   string
	segment  string
}

var victimRE = regexp.MustCompile(`^[0-9a-fA-F]{24}(\.[0-9a-fA-F]{8}\.backup)?$`)

// victims lists removable archive entries: names matching the WAL namespace
// (after stripping the configured compression extension) sorting strictly
// before the boundary, ascending, capped at RemoveAtATime.
func (r *Retention) victims(boundary string) ([]victim, error) {
	entries, err := os.ReadDir(r.ArchiveDir)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to list %q", r.ArchiveDir)
	}

	ext := r.Compression.Extension()
	var out []victim
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		segment := name
		if ext != "" {
			segment = strings.TrimSuffix(name, ext)
		}
		if !victimRE.MatchString(segment) {
			continue
		}
		if !wal.OlderThan(segment, boundary) {
			continue
		}
		out = append(out, victim{stored: name, segment: segment})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].segment < out[j].segment })

	if r.RemoveAtATime > 0 && len(out) > r.RemoveAtATime {
		out = out[:r.RemoveAtATime]
	}

	return out, nil
}

// removeOne routes the victim through the pre-removal hook (if configured)
// and unlinks the archive copy.
func (r *Retention) removeOne(ctx context.Context, v victim) error {
	storedPath := filepath.Join(r.ArchiveDir, v.stored)

	if r.Hook != "" {
		if err := r.runHook(ctx, storedPath, v.segment); err != nil {
			return err
		}
	}

	if err := os.Remove(storedPath); err != nil {
		return errors.Wrapf(err, "unable to remove %q", storedPath)
	}

	if r.Metrics != nil {
		r.Metrics.Increment(metricsSegmentsRemoved)
	}
	log.Info().Str("segment", v.stored).Msg("removed an unneeded segment")
	return nil
}

// runHook stages the (optionally decompressed) segment as
// <tmpdir>/pg_xlog/<segment> and runs `<hook> pg_xlog/<segment>` through the
// shell with the staging dir as cwd.
func (r *Retention) runHook(ctx context.Context, storedPath, segment string) error {
	stageRoot := filepath.Join(r.TempDir, "removal-"+uuid.NewString())
	stageDir := filepath.Join(stageRoot, "pg_xlog")
	if err := os.MkdirAll(stageDir, 0700); err != nil {
		return errors.Wrapf(err, "unable to create %q", stageDir)
	}
	defer os.RemoveAll(stageRoot)

	staged := filepath.Join(stageDir, segment)
	if r.Compression == compress.None {
		if err := copyFile(storedPath, staged); err != nil {
			return err
		}
	} else {
		argv, err := r.Compress.DecompressArgv(r.Compression)
		if err != nil {
			return err
		}
		command := fmt.Sprintf("%s < %s > %s",
			shellJoin(argv), shellQuote(storedPath), shellQuote(staged))
		cmd := exec.CommandContext(ctx, r.ShellPath, "-c", command)
		cmd.Stderr = os.Stderr
		if err := cmd.Run(); err != nil {
			return errors.Wrapf(err, "unable to stage %q for the removal hook", storedPath)
		}
	}

	command := fmt.Sprintf("%s %s", r.Hook, shellQuote("pg_xlog/"+segment))
	cmd := exec.CommandContext(ctx, r.ShellPath, "-c", command)
	cmd.Dir = stageRoot
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return errors.Wrapf(err, "pre-removal hook failed for %q", segment)
	}

	return nil
}

var shellBareRE = regexp.MustCompile(`^[A-Za-z0-9_@%+=:,./-]+$`)

func shellQuote(s string) string {
	if s != "" && shellBareRE.MatchString(s) {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func shellJoin(argv []string) string {
	quoted := make([]string, len(argv))
	for i := range argv {
		quoted[i] = shellQuote(argv[i])
	}
	return strings.Join(quoted, " ")
}
