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

package pg

import (
	"bufio"
	"bytes"
	"context"
	"os/exec"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Keys pg_controldata(1) must report for the toolkit to operate.  Anything
// else the program prints is retained verbatim in Fields but not interpreted.
const (
	ControlKeyCheckpoint  = "Latest checkpoint location"
	ControlKeyRedo        = "Latest checkpoint's REDO location"
	ControlKeyTimeline    = "Latest checkpoint's TimeLineID"
	ControlKeyMinRecovery = "Minimum recovery ending location"
)

// ControlData is one parsed snapshot of pg_controldata(1) output.
type ControlData struct {
	Fields map[string]string

	CheckpointLocation LSN
	RedoLocation       LSN
	TimelineID         TimelineID

	// MinimumRecoveryEnd is only meaningful on a hot standby.  Servers that do
	// not report it leave it at InvalidLSN.
	MinimumRecoveryEnd LSN
}

// RunControlData shells out to pg_controldata(1) against dataDir and parses
// its stdout.
func RunControlData(ctx context.Context, controldataPath, dataDir string) (*ControlData, error) {
	cmd := exec.CommandContext(ctx, controldataPath, dataDir)
	cmd.Env = append(cmd.Environ(), "LC_ALL=C", "LANG=C")
	out, err := cmd.Output()
	if err != nil {
		return nil, errors.Wrapf(err, "unable to run %q", controldataPath)
	}

	return ParseControlData(out)
}

// ParseControlData parses pg_controldata(1) output as "KEY: VALUE" pairs.
func ParseControlData(out []byte) (*ControlData, error) {
	cd := &ControlData{
		Fields:             make(map[string]string),
		CheckpointLocation: InvalidLSN,
		RedoLocation:       InvalidLSN,
		MinimumRecoveryEnd: InvalidLSN,
	}

	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		line := scanner.Text()
		idx := strings.Index(line, ":")
		if idx < 0 {
			continue
		}
		key := strings.TrimSpace(line[:idx])
		value := strings.TrimSpace(line[idx+1:])
		cd.Fields[key] = value
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "unable to scan pg_controldata output")
	}

	var parseErr error
	requiredLSN := func(key string) LSN {
		v, found := cd.Fields[key]
		if !found {
			parseErr = errors.Errorf("pg_controldata output is missing %q", key)
			return InvalidLSN
		}
		l, err := ParseLSN(v)
		if err != nil {
			parseErr = errors.Wrapf(err, "unable to parse %q", key)
			return InvalidLSN
		}
		return l
	}

	cd.CheckpointLocation = requiredLSN(ControlKeyCheckpoint)
	cd.RedoLocation = requiredLSN(ControlKeyRedo)

	if v, found := cd.Fields[ControlKeyTimeline]; found {
		tid, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return nil, errors.Wrapf(err, "unable to parse %q", ControlKeyTimeline)
		}
		cd.TimelineID = TimelineID(tid)
	} else {
		parseErr = errors.Errorf("pg_controldata output is missing %q", ControlKeyTimeline)
	}

	// Optional; "0/0" on primaries
	if v, found := cd.Fields[ControlKeyMinRecovery]; found {
		if l, err := ParseLSN(v); err == nil {
			cd.MinimumRecoveryEnd = l
		}
	}

	if parseErr != nil {
		return nil, parseErr
	}

	return cd, nil
}

// RedoSegment returns the WAL segment name replay must begin from.
func (cd *ControlData) RedoSegment() WALFilename {
	return cd.RedoLocation.WALFilename(cd.TimelineID)
}
