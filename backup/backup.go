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

// Package backup builds base backups: one tar stream of the data directory
// (and later the collected xlogs) teed through every configured compressor
// and digester into files, pipes, and SSH tunnels at once.  The master and
// slave engines share this skeleton and differ only in how they bracket the
// copy (pg_start_backup/pg_stop_backup vs pg_controldata snapshots).
package backup

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	cgm "github.com/circonus-labs/circonus-gometrics"
	"github.com/google/uuid"
	"github.com/omniti-labs/omnipitr/archive"
	"github.com/omniti-labs/omnipitr/compress"
	"github.com/omniti-labs/omnipitr/pipe"
	"github.com/pkg/errors"
	log "github.com/rs/zerolog/log"
)

// Artifact filetypes rendered through the filename template.
const (
	FiletypeData = "data"
	FiletypeXlog = "xlog"
)

const (
	metricsBackupsOK      = "backup-ok"
	metricsBackupsFailed  = "backup-failed"
	metricsArchiveSeconds = "backup-archive-seconds"
)

// Engine is the shared half of both backup modes.
type Engine struct {
	DataDir string
	TempDir string

	Hostname string
	Template Template

	// Compressions lists every format an artifact is produced in; None means
	// a plain tar.
	Compressions []compress.Compression

	// Digests lists digest algorithm names ("md5", "sha256", ...).
	Digests []string

	// Destinations receive the finished artifacts through the parallel
	// rsync/pipe fan-out.  Direct-kind destinations are instead fed in-stream
	// through an SSH tunnel while the tar is being produced.
	Destinations []archive.Destination

	ParallelJobs int
	SkipXlogs    bool

	TarPath       string
	TeePath       string
	ShellPath     string
	SSHPath       string
	RemoteCatPath string
	RsyncPath     string
	Compress      compress.Paths

	// Metrics is optional; nil disables instrumentation.
	Metrics *cgm.CirconusMetrics

	// StartTime stamps every rendered filename; the mode driver sets it once
	// when the backup begins.
	StartTime time.Time

	// artifacts collects everything produced locally, for delivery.
	artifacts []Artifact

	// digestLines accumulates finished digest lines per final digest
	// artifact, across the data and xlog passes.
	digestLines map[string][]string
}

// Artifact is one locally produced file awaiting delivery, tagged with the
// compression it belongs to so each destination only receives its own
// format.
type Artifact struct {
	Path        string
	Compression compress.Compression
}

type digestPart struct {
	finalPath    string
	capturePath  string
	artifactName string
	compression  compress.Compression
}

// MakeArchive runs one tar pass (filetype "data" or "xlog") through the
// whole compressor/digester tree.  tarMembers are the paths handed to tar;
// tarFlags carry the exclude and transform rules.
func (e *Engine) MakeArchive(ctx context.Context, filetype string, tarFlags, tarMembers []string) error {
	if len(e.Compressions) == 0 {
		return errors.New("no compressions configured")
	}

	start := time.Now()

	argv := append([]string{e.TarPath, "cf", "-"}, tarFlags...)
	argv = append(argv, tarMembers...)
	root := pipe.NewNode(argv...)

	var pending []digestPart

	workDir := filepath.Join(e.TempDir, "fifo-"+uuid.NewString())
	if err := os.MkdirAll(workDir, 0700); err != nil {
		return errors.Wrapf(err, "unable to create %q", workDir)
	}
	defer os.RemoveAll(workDir)

	for _, c := range e.Compressions {
		sink := root
		if c != compress.None {
			compArgv, err := e.Compress.CompressArgv(c)
			if err != nil {
				return err
			}
			sink = pipe.NewNode(compArgv...)
			root.PipeStdoutTo(sink)
		}

		name, err := e.Template.Render(e.Hostname, filetype, c, e.StartTime)
		if err != nil {
			return err
		}
		artifact := filepath.Join(e.TempDir, name)
		sink.WriteStdoutTo(artifact)
		e.artifacts = append(e.artifacts, Artifact{Path: artifact, Compression: c})

		for _, algo := range e.Digests {
			digestArgv, err := DigestArgv(algo)
			if err != nil {
				return err
			}

			digestName, err := e.Template.Render(e.Hostname, algo, c, e.StartTime)
			if err != nil {
				return err
			}

			capture := filepath.Join(workDir, fmt.Sprintf("digest-%s-%s%s", filetype, algo, c.Extension()))
			digestNode := pipe.NewNode(digestArgv...).WriteStdoutTo(capture)
			sink.PipeStdoutTo(digestNode)

			pending = append(pending, digestPart{
				finalPath:    filepath.Join(e.TempDir, digestName),
				capturePath:  capture,
				artifactName: name,
				compression:  c,
			})
		}

		// Delivered in-stream: the compressed artifact goes over an SSH
		// tunnel while it is being produced.
		for _, dest := range e.Destinations {
			if dest.Kind != archive.Direct || dest.Compression != c {
				continue
			}
			host, remotePath, found := strings.Cut(dest.Path, ":")
			if !found {
				return errors.Errorf("direct destination %q is not of the form [user@]host:/path", dest.Path)
			}
			tunnel := pipe.NewNode(e.SSHPath, host,
				fmt.Sprintf("%s > %s/%s", e.RemoteCatPath, remotePath, name))
			sink.PipeStdoutTo(tunnel)
		}
	}

	renderer := &pipe.Renderer{FIFODir: workDir, TeePath: e.TeePath}
	script, err := renderer.Render(root)
	if err != nil {
		return err
	}

	scriptPath := filepath.Join(workDir, "archive.sh")
	if err := os.WriteFile(scriptPath, []byte(script), 0700); err != nil {
		return errors.Wrapf(err, "unable to write %q", scriptPath)
	}

	log.Debug().Str("filetype", filetype).Str("script", script).Msg("running archive script")
	cmd := exec.CommandContext(ctx, e.ShellPath, scriptPath)
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		e.count(metricsBackupsFailed)
		return errors.Wrapf(err, "%s archive script failed", filetype)
	}

	if err := e.collectDigests(pending); err != nil {
		return err
	}

	e.record(metricsArchiveSeconds, time.Since(start).Seconds())
	log.Info().Str("filetype", filetype).Dur("elapsed", time.Since(start)).Msg("archive created")
	return nil
}

// collectDigests folds the raw in-stream digest captures of one archive
// pass into the final digest artifacts.  Digest programs report the stream
// as "-"; the artifact name is substituted so the file verifies with
// `md5sum -c` next to the artifacts.
func (e *Engine) collectDigests(pending []digestPart) error {
	if e.digestLines == nil {
		e.digestLines = make(map[string][]string)
	}

	touched := make(map[string]compress.Compression, len(pending))
	for _, part := range pending {
		buf, err := os.ReadFile(part.capturePath)
		if err != nil {
			return errors.Wrapf(err, "unable to read digest capture %q", part.capturePath)
		}
		fields := strings.Fields(string(buf))
		if len(fields) == 0 {
			return errors.Errorf("empty digest capture %q", part.capturePath)
		}
		e.digestLines[part.finalPath] = append(e.digestLines[part.finalPath],
			fmt.Sprintf("%s  %s\n", fields[0], part.artifactName))
		touched[part.finalPath] = part.compression
	}

	for final, comp := range touched {
		f, err := os.OpenFile(final, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
		if err != nil {
			return errors.Wrapf(err, "unable to write digest %q", final)
		}
		w := bufio.NewWriter(f)
		for _, line := range e.digestLines[final] {
			w.WriteString(line)
		}
		if err := w.Flush(); err != nil {
			f.Close()
			return errors.Wrapf(err, "unable to flush digest %q", final)
		}
		if err := f.Close(); err != nil {
			return errors.Wrapf(err, "unable to close digest %q", final)
		}

		if !e.hasArtifact(final) {
			e.artifacts = append(e.artifacts, Artifact{Path: final, Compression: comp})
		}
	}

	return nil
}

// Artifacts lists everything produced so far (tars plus finished digests).
func (e *Engine) Artifacts() []Artifact {
	return e.artifacts
}

func (e *Engine) hasArtifact(path string) bool {
	for _, a := range e.artifacts {
		if a.Path == path {
			return true
		}
	}
	return false
}

// DigestArgv maps an algorithm name onto its coreutils digest program.
func DigestArgv(algo string) ([]string, error) {
	switch strings.ToLower(algo) {
	case "md5":
		return []string{"md5sum"}, nil
	case "sha1", "sha224", "sha256", "sha384", "sha512":
		return []string{strings.ToLower(algo) + "sum"}, nil
	default:
		return nil, errors.Errorf("unsupported digest algorithm %q", algo)
	}
}

func (e *Engine) count(metric string) {
	if e.Metrics != nil {
		e.Metrics.Increment(metric)
	}
}

func (e *Engine) record(metric string, value float64) {
	if e.Metrics != nil {
		e.Metrics.RecordValue(metric, value)
	}
}
