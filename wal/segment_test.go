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

package wal_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/kylelemons/godebug/pretty"
	"github.com/omniti-labs/omnipitr/pg"
	"github.com/omniti-labs/omnipitr/wal"
)

func TestNames(t *testing.T) {
	tests := []struct {
		in       string
		segment  bool
		plain    bool
		sentinel bool
		history  bool
	}{
		{in: "000000010000000000000001", segment: true, plain: true},
		{in: "0000000a00000000000000ff", segment: true, plain: true},
		{in: "000000010000000000000002.00000028.backup", segment: true, sentinel: true},
		{in: "00000002.history", history: true},
		{in: "000000010000000000000001.gz"},
		{in: "00000001000000000000000"},
		{in: "0000000100000000000000011"},
		{in: "backup_label"},
		{in: "000000010000000000000002.0000028.backup"},
		{in: "0000000g.history"},
	}

	for n, test := range tests {
		if got := wal.IsSegmentName(test.in); got != test.segment {
			t.Fatalf("%d: IsSegmentName(%q) = %v", n, test.in, got)
		}
		if got := wal.IsPlainSegment(test.in); got != test.plain {
			t.Fatalf("%d: IsPlainSegment(%q) = %v", n, test.in, got)
		}
		if got := wal.IsBackupSentinel(test.in); got != test.sentinel {
			t.Fatalf("%d: IsBackupSentinel(%q) = %v", n, test.in, got)
		}
		if got := wal.IsHistoryFile(test.in); got != test.history {
			t.Fatalf("%d: IsHistoryFile(%q) = %v", n, test.in, got)
		}

		wantErr := !test.segment && !test.history
		if err := wal.ValidateName(test.in); (err != nil) != wantErr {
			t.Fatalf("%d: ValidateName(%q) = %v", n, test.in, err)
		}
	}
}

func TestValidateFileSize(t *testing.T) {
	dir := t.TempDir()

	const name = "000000010000000000000001"
	path := filepath.Join(dir, name)

	if err := os.WriteFile(path, []byte("short"), 0644); err != nil {
		t.Fatalf("bad: %v", err)
	}
	if err := wal.ValidateFile(path, name); err == nil {
		t.Fatal("expected a size error for a short segment")
	}

	if err := os.Truncate(path, int64(pg.WALSegmentSize)); err != nil {
		t.Fatalf("bad: %v", err)
	}
	if err := wal.ValidateFile(path, name); err != nil {
		t.Fatalf("bad: %v", err)
	}

	// Sentinels carry no size requirement
	const sentinel = "000000010000000000000001.00000028.backup"
	sentinelPath := filepath.Join(dir, sentinel)
	if err := os.WriteFile(sentinelPath, []byte("START WAL LOCATION: 0/1\n"), 0644); err != nil {
		t.Fatalf("bad: %v", err)
	}
	if err := wal.ValidateFile(sentinelPath, sentinel); err != nil {
		t.Fatalf("bad: %v", err)
	}
}

func TestOrdering(t *testing.T) {
	names := []string{
		"000000010000000000000010",
		"000000010000000000000001",
		"00000002000000000000000A",
		"000000010000000000000002.00000028.backup",
	}
	wal.SortNames(names)

	want := []string{
		"000000010000000000000001",
		"000000010000000000000002.00000028.backup",
		"000000010000000000000010",
		"00000002000000000000000A",
	}
	if diff := pretty.Compare(want, names); diff != "" {
		t.Fatalf("sort diff: (-got +want)\n%s", diff)
	}

	if !wal.OlderThan("000000010000000000000001", "000000010000000000000005") {
		t.Fatal("expected 0001 < 0005")
	}
	if wal.OlderThan("000000010000000000000005", "000000010000000000000005") {
		t.Fatal("boundary itself is never older")
	}

	if diff := pretty.Compare("00000001", wal.Timeline("000000010000000000000005")); diff != "" {
		t.Fatalf("timeline diff: (-got +want)\n%s", diff)
	}
}
