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

package pg_test

import (
	"testing"

	"github.com/kylelemons/godebug/pretty"
	"github.com/omniti-labs/omnipitr/pg"
)

// Precompute the expected results from constants
func TestConstants(t *testing.T) {
	if diff := pretty.Compare(pg.WALSegmentSize, 16777216); diff != "" {
		t.Fatalf("WALSegmentSize diff: (-got +want)\n%s", diff)
	}

	if diff := pretty.Compare(pg.WALSegmentsPerXLogID, 256); diff != "" {
		t.Fatalf("WALSegmentsPerXLogID diff: (-got +want)\n%s", diff)
	}
}

func TestType(t *testing.T) {
	tests := []struct {
		in       string
		out      string
		num      uint64
		timeline pg.TimelineID
		filename pg.WALFilename
		id       pg.XLogID
		offset   pg.Offset
		segment  uint64
	}{
		{
			in:       "0/150E150",
			out:      "0/150E150",
			num:      22077776,
			filename: "000000010000000000000001",
			id:       0,
			offset:   22077776,
			segment:  1,
		},
		{
			in:       "00/152A9C0",
			out:      "0/152A9C0",
			num:      22194624,
			timeline: 1,
			filename: "000000010000000000000001",
			id:       0,
			offset:   22194624,
			segment:  1,
		},
		{
			in:       "00/272E4558",
			out:      "0/272E4558",
			num:      657343832,
			filename: "000000010000000000000027",
			id:       0,
			offset:   657343832,
			segment:  39,
		},
		{
			in:       "FF/362E4558",
			out:      "FF/362E4558",
			num:      1096125662552,
			timeline: 0xff,
			filename: "000000FF000000FF00000036",
			id:       255,
			offset:   909002072,
			segment:  65334,
		},
	}

	for n, test := range tests {
		n, test := n, test
		t.Run("", func(st *testing.T) {
			st.Parallel()

			l, err := pg.ParseLSN(test.in)
			if err != nil {
				st.Fatalf("bad: %v", err)
			}

			if diff := pretty.Compare(test.num, uint64(l)); diff != "" {
				st.Fatalf("%d: LSN diff: (-got +want)\n%s", n, diff)
			}

			if diff := pretty.Compare(test.id, l.ID()); diff != "" {
				st.Fatalf("%d: ID diff: (-got +want)\n%s", n, diff)
			}

			if diff := pretty.Compare(test.offset, l.ByteOffset()); diff != "" {
				st.Fatalf("%d: Offset diff: (-got +want)\n%s", n, diff)
			}

			if diff := pretty.Compare(test.segment, l.SegmentNumber()); diff != "" {
				st.Fatalf("%d: Segment diff: (-got +want)\n%s", n, diff)
			}

			if diff := pretty.Compare(test.out, l.String()); diff != "" {
				st.Fatalf("%d: String() diff: (-got +want)\n%s", n, diff)
			}

			// Test optional argument
			switch test.timeline {
			case 0:
				if diff := pretty.Compare(test.filename, l.WALFilename()); diff != "" {
					st.Fatalf("%d: WALFilename diff: (-got +want)\n%s", n, diff)
				}
			default:
				if diff := pretty.Compare(test.filename, l.WALFilename(test.timeline)); diff != "" {
					st.Fatalf("%d: WALFilename diff: (-got +want)\n%s", n, diff)
				}
			}
		})
	}
}

func TestParseWalfile(t *testing.T) {
	tests := []struct {
		in       pg.WALFilename
		timeline pg.TimelineID
		segment  uint64
		wantErr  bool
	}{
		{in: "000000010000000000000001", timeline: 1, segment: 1},
		{in: "000000FF000000FF00000036", timeline: 0xff, segment: 65334},
		{in: "00000001000000000000000", wantErr: true},
		{in: "zzzzzzzz0000000000000001", wantErr: true},
	}

	for n, test := range tests {
		tid, l, err := pg.ParseWalfile(test.in)
		if test.wantErr {
			if err == nil {
				t.Fatalf("%d: expected error for %q", n, test.in)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%d: bad: %v", n, err)
		}

		if diff := pretty.Compare(test.timeline, tid); diff != "" {
			t.Fatalf("%d: timeline diff: (-got +want)\n%s", n, diff)
		}

		if diff := pretty.Compare(test.segment, l.SegmentNumber()); diff != "" {
			t.Fatalf("%d: segment diff: (-got +want)\n%s", n, diff)
		}

		// Round trip back into a filename
		if diff := pretty.Compare(test.in, l.WALFilename(tid)); diff != "" {
			t.Fatalf("%d: round-trip diff: (-got +want)\n%s", n, diff)
		}
	}
}
