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

package backup

import (
	"fmt"
	"strings"
	"time"

	"github.com/omniti-labs/omnipitr/pg"
)

// SlaveLabel is the LABEL value for backups synthesized on a hot standby.
const SlaveLabel = "OmniPITR_Slave_Hot_Backup"

// labelTimeFormat renders timestamps in the server-local zone.
const labelTimeFormat = "2006-01-02 15:04:05 MST"

// Label carries the metadata written as backup_label and as the .backup
// marker inside the xlog archive.
type Label struct {
	StartLSN   pg.LSN
	StopLSN    pg.LSN
	Checkpoint pg.LSN
	Timeline   pg.TimelineID

	StartTime time.Time
	StopTime  time.Time

	Label string
}

// locationLine renders "LSN (file SEGMENTNAME)".
func (l Label) locationLine(lsn pg.LSN) string {
	return fmt.Sprintf("%s (file %s)", lsn.String(), lsn.WALFilename(l.Timeline))
}

// BackupLabel renders the backup_label file content.
func (l Label) BackupLabel() string {
	var b strings.Builder
	fmt.Fprintf(&b, "START WAL LOCATION: %s\n", l.locationLine(l.StartLSN))
	fmt.Fprintf(&b, "STOP WAL LOCATION: %s\n", l.locationLine(l.StopLSN))
	fmt.Fprintf(&b, "CHECKPOINT LOCATION: %s\n", l.Checkpoint.String())
	fmt.Fprintf(&b, "START TIME: %s\n", l.StartTime.Format(labelTimeFormat))
	fmt.Fprintf(&b, "STOP TIME: %s\n", l.StopTime.Format(labelTimeFormat))
	fmt.Fprintf(&b, "LABEL: %s\n", l.Label)
	return b.String()
}

// Sentinel renders the .backup marker content.  It is the backup_label with
// the stop side filled in, which for the synthesized slave label is the same
// set of fields.
func (l Label) Sentinel() string {
	return l.BackupLabel()
}

// SentinelName returns the marker's name in the WAL namespace:
// <start segment>.<start offset within segment:8>.backup
func (l Label) SentinelName() string {
	offsetInSegment := uint64(l.StartLSN) % uint64(pg.WALSegmentSize)
	return fmt.Sprintf("%s.%08X.backup", l.StartLSN.WALFilename(l.Timeline), offsetInSegment)
}

// ParseSentinelField extracts a field value from .backup sentinel content,
// e.g. ParseSentinelField(body, "STOP WAL LOCATION") → "0/2000100".
// Parenthesized "(file …)" suffixes are stripped.
func ParseSentinelField(body, key string) (string, bool) {
	for _, line := range strings.Split(body, "\n") {
		rest, found := strings.CutPrefix(line, key+":")
		if !found {
			continue
		}
		value := strings.TrimSpace(rest)
		if idx := strings.Index(value, "("); idx >= 0 {
			value = strings.TrimSpace(value[:idx])
		}
		return value, true
	}
	return "", false
}
