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

// Package restore is the restore_command side of the toolkit: it
// block-waits for WAL segments to land in the archive, decompresses them on
// demand into the cluster, honors delivery delays and finish triggers, and
// garbage-collects segments the standby can no longer need.
package restore

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"time"

	cgm "github.com/circonus-labs/circonus-gometrics"
	"github.com/omniti-labs/omnipitr/compress"
	"github.com/omniti-labs/omnipitr/wal"
	"github.com/pkg/errors"
	log "github.com/rs/zerolog/log"
	"golang.org/x/sys/unix"
)

// Sentinel errors the command layer maps onto exit behavior.
var (
	// ErrImmediateFinish: the operator demanded termination (NOW trigger or
	// SIGUSR1); PostgreSQL sees a failure and enters promotion.
	ErrImmediateFinish = errors.New("immediate finish requested")

	// ErrSmartFinish: smart trigger set and the segment is not staged.
	ErrSmartFinish = errors.New("smart finish: segment not staged")

	// ErrHistoryUnavailable: a .history file is absent.  Exits non-zero but
	// is routine during timeline switches, so it is not logged as fatal.
	ErrHistoryUnavailable = errors.New("history file not present")

	// ErrStreamingReplication: segment absent and streaming replication is
	// configured; fail fast so PostgreSQL moves on to SR.
	ErrStreamingReplication = errors.New("segment not present; deferring to streaming replication")
)

const (
	metricsSegmentsRestored = "restore-segments-ok"
	metricsRestoreWaits     = "restore-wait-seconds"
)

// Worker serves one restore_command invocation.
type Worker struct {
	SourceDir         string
	SourceCompression compress.Compression

	DataDir string

	// RecoveryDelay holds segments back until they are at least this old,
	// keeping the standby a deliberate distance behind the primary.
	RecoveryDelay time.Duration

	FinishTriggerPath string

	StreamingReplication bool

	ShellPath string
	Compress  compress.Paths

	// Retention, when set, runs a removal pass while idling.
	Retention *Retention

	// RemoveBefore runs one retention pass before the first segment check.
	RemoveBefore bool

	// Metrics is optional; nil disables instrumentation.
	Metrics *cgm.CirconusMetrics

	// immediate is latched by SIGUSR1.
	immediate bool
}

// Run blocks until the segment is delivered, the operator requests
// termination, or delivery fails.  A nil return means the segment was
// written to destination and PostgreSQL may proceed.
func (w *Worker) Run(ctx context.Context, segment, destination string) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, unix.SIGUSR1)
	defer signal.Stop(sigCh)

	if err := wal.ValidateName(segment); err != nil {
		return err
	}

	if w.RemoveBefore && w.Retention != nil {
		w.retentionPass(ctx)
	}

	waitStart := time.Now()
	for {
		select {
		case <-sigCh:
			log.Info().Msg("received SIGUSR1; finishing immediately at the next check")
			w.immediate = true
		case <-ctx.Done():
			return errors.Wrap(ctx.Err(), "cancelled")
		default:
		}

		mode, err := CheckFinishTrigger(w.FinishTriggerPath)
		if err != nil {
			return err
		}
		if w.immediate {
			mode = FinishNow
		}
		if mode == FinishNow {
			return ErrImmediateFinish
		}

		srcPath := filepath.Join(w.SourceDir, segment+w.SourceCompression.Extension())
		fi, err := os.Stat(srcPath)
		switch {
		case err == nil:
			if w.RecoveryDelay > 0 {
				age := time.Since(fi.ModTime())
				if age < w.RecoveryDelay {
					log.Debug().Str("segment", segment).Dur("age", age).
						Dur("delay", w.RecoveryDelay).Msg("holding the segment back")
					w.sleep(ctx)
					continue
				}
			}

			if err := w.deliver(ctx, srcPath, destination); err != nil {
				return err
			}
			w.record(metricsRestoreWaits, time.Since(waitStart).Seconds())
			w.count(metricsSegmentsRestored)
			return nil

		case os.IsNotExist(err):
			if mode == FinishSmart {
				return ErrSmartFinish
			}
			if wal.IsHistoryFile(segment) {
				return ErrHistoryUnavailable
			}
			if w.StreamingReplication {
				return ErrStreamingReplication
			}

			w.sleep(ctx)
			if w.Retention != nil {
				w.retentionPass(ctx)
			}

		default:
			return errors.Wrapf(err, "unable to stat %q", srcPath)
		}
	}
}

// deliver copies or decompresses the archived segment into
// <data-dir>/<destination>.
func (w *Worker) deliver(ctx context.Context, srcPath, destination string) error {
	dstPath := destination
	if !filepath.IsAbs(dstPath) {
		dstPath = filepath.Join(w.DataDir, dstPath)
	}

	if w.SourceCompression == compress.None {
		if err := copyFile(srcPath, dstPath); err != nil {
			return err
		}
		log.Info().Str("source", srcPath).Str("destination", dstPath).Msg("segment delivered")
		return nil
	}

	argv, err := w.Compress.DecompressArgv(w.SourceCompression)
	if err != nil {
		return err
	}

	// The decompressor is bound to its files with shell redirections.
	command := fmt.Sprintf("%s < %s > %s",
		shellJoin(argv), shellQuote(srcPath), shellQuote(dstPath))
	cmd := exec.CommandContext(ctx, w.ShellPath, "-c", command)
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		os.Remove(dstPath)
		return errors.Wrapf(err, "unable to decompress %q", srcPath)
	}

	log.Info().Str("source", srcPath).Str("destination", dstPath).Msg("segment delivered")
	return nil
}

// sleep is the worker's 1-second idle pause.
func (w *Worker) sleep(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(1 * time.Second):
	}
}

// retentionPass runs one removal pass; retention problems never bring the
// worker down.
func (w *Worker) retentionPass(ctx context.Context) {
	if err := w.Retention.Pass(ctx); err != nil {
		log.Warn().Err(err).Msg("retention pass failed")
	}
}

func (w *Worker) count(metric string) {
	if w.Metrics != nil {
		w.Metrics.Increment(metric)
	}
}

func (w *Worker) record(metric string, value float64) {
	if w.Metrics != nil {
		w.Metrics.RecordValue(metric, value)
	}
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return errors.Wrapf(err, "unable to open %q", src)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return errors.Wrapf(err, "unable to create %q", dst)
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return errors.Wrapf(err, "unable to copy %q to %q", src, dst)
	}
	if err := out.Close(); err != nil {
		os.Remove(dst)
		return errors.Wrapf(err, "unable to close %q", dst)
	}

	return nil
}
