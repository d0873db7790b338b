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

// Package wal implements the WAL segment namespace: the 24 hex-character
// segment names, the .backup sentinels, and the per-timeline .history files
// that share the archive directory with them.
package wal

import (
	"os"
	"regexp"
	"sort"

	"github.com/omniti-labs/omnipitr/pg"
	"github.com/pkg/errors"
)

var (
	// 000000010000000000000001 or 000000010000000000000001.00000028.backup
	segmentRE = regexp.MustCompile(`^[0-9a-fA-F]{24}(\.[0-9a-fA-F]{8}\.backup)?$`)

	// 00000002.history
	historyRE = regexp.MustCompile(`^[0-9a-fA-F]{8}\.history$`)

	plainSegmentRE = regexp.MustCompile(`^[0-9a-fA-F]{24}$`)
)

// IsSegmentName reports whether name is a WAL segment or a .backup sentinel.
func IsSegmentName(name string) bool {
	return segmentRE.MatchString(name)
}

// IsPlainSegment reports whether name is a bare 24-hex segment (not a
// sentinel, not a history file).  Only these are required to be 16 MiB.
func IsPlainSegment(name string) bool {
	return plainSegmentRE.MatchString(name)
}

// IsBackupSentinel reports whether name is a <segment>.<offset>.backup file.
func IsBackupSentinel(name string) bool {
	return IsSegmentName(name) && !IsPlainSegment(name)
}

// IsHistoryFile reports whether name is a <timeline>.history file.
func IsHistoryFile(name string) bool {
	return historyRE.MatchString(name)
}

// ValidateName rejects anything that does not belong in the archive
// namespace.
func ValidateName(name string) error {
	if IsSegmentName(name) || IsHistoryFile(name) {
		return nil
	}
	return errors.Errorf("%q is not a WAL segment, .backup sentinel, or .history file", name)
}

// ValidateFile checks both the name and, for plain segments, the exact
// 16 MiB size.  Sentinels and history files are small ASCII files and carry
// no size requirement.
func ValidateFile(path, name string) error {
	if err := ValidateName(name); err != nil {
		return err
	}

	fi, err := os.Stat(path)
	if err != nil {
		return errors.Wrapf(err, "unable to stat %q", path)
	}

	if IsPlainSegment(name) && fi.Size() != int64(pg.WALSegmentSize) {
		return errors.Errorf("segment %q has size %d, want %d", name, fi.Size(), int64(pg.WALSegmentSize))
	}

	return nil
}

// Timeline returns the 8-hex-character timeline prefix of a segment name.
func Timeline(name string) string {
	if len(name) < 8 {
		return ""
	}
	return name[:8]
}

// SortNames orders segment names ascending.  Segment ordering is plain
// lexicographic ordering on the 24-character name.
func SortNames(names []string) {
	sort.Strings(names)
}

// OlderThan reports whether segment name sorts strictly before boundary.
// Both .backup sentinels and plain segments participate; comparison is
// lexicographic, which preserves the timeline prefix ordering.
func OlderThan(name, boundary string) bool {
	return name < boundary
}
