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
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/alecthomas/units"
	"github.com/pkg/errors"
)

type (
	// XLogID is the high 32 bits of an LSN (the "logical xlog" series).
	XLogID uint32

	// Offset is the byte offset portion of an LSN.
	Offset uint32

	// TimelineID is PostgreSQL's 32-bit lineage counter.  It is the 8
	// hex-character prefix of every WAL filename.
	TimelineID uint32

	// WALFilename is a hex-encoded tripple:
	//
	//   0000ABCD0012345600000078
	//   ^^^^^^^^
	//      |    ^^^^^^^^^^^^^^^^
	//      |        |
	//   TimelineID  |
	//      SegmentNumber split across two 8-char nibbles
	WALFilename string
)

// LSN is a Go implementation of PostgreSQL's Log Sequence Number (LSN):
// https://www.postgresql.org/docs/current/static/datatype-pg-lsn.html
type LSN uint64

const (
	InvalidTimelineID TimelineID = 0

	// Value representing an invalid LSN (used in error conditions)
	InvalidLSN = LSN(math.MaxUint64)

	// WALSegmentSize == PostgreSQL WAL File Size, 16MB by default.
	WALSegmentSize = 16 * units.MiB

	// #define XLogSegmentsPerXLogId   (UINT64CONST(0x100000000) / XLOG_SEG_SIZE)
	WALSegmentsPerXLogID uint64 = (1 << 32) / uint64(WALSegmentSize)
)

// NewLSN creates a new LSN from an xlog ID and offset
func NewLSN(id XLogID, off Offset) LSN {
	return LSN(uint64(id)<<32 | uint64(off))
}

// LSNCmp compares x and y and returns:
//
//   -1 if x <  y
//    0 if x == y
//   +1 if x >  y
func LSNCmp(x, y LSN) int {
	switch {
	case uint64(x) < uint64(y):
		return -1
	case uint64(x) == uint64(y):
		return 0
	default:
		return 1
	}
}

// ParseLSN returns a parsed LSN
func ParseLSN(in string) (LSN, error) {
	parts := strings.Split(in, "/")
	if len(parts) != 2 {
		return InvalidLSN, fmt.Errorf("invalid LSN: %q", in)
	}

	id, err := strconv.ParseUint(parts[0], 16, 32)
	if err != nil {
		return InvalidLSN, errors.Wrap(err, "unable to decode the xlog ID")
	}

	offset, err := strconv.ParseUint(parts[1], 16, 32)
	if err != nil {
		return InvalidLSN, errors.Wrap(err, "unable to decode the byte offset")
	}

	return NewLSN(XLogID(id), Offset(offset)), nil
}

// ParseWalfile returns a parsed timeline and LSN from a given WALFilename.
// The returned LSN points at the first byte of the segment.
func ParseWalfile(in WALFilename) (TimelineID, LSN, error) {
	if len(in) != 24 {
		return InvalidTimelineID, InvalidLSN, fmt.Errorf("WAL Filename incorrect: %+q", in)
	}

	timelineID, err := strconv.ParseUint(string(in)[:8], 16, 64)
	if err != nil {
		return InvalidTimelineID, InvalidLSN, errors.Wrap(err, "unable to decode the timeline ID")
	}

	xlogID, err := strconv.ParseUint(string(in)[8:16], 16, 64)
	if err != nil {
		return InvalidTimelineID, InvalidLSN, errors.Wrap(err, "unable to decode the xlog ID")
	}

	segment, err := strconv.ParseUint(string(in)[16:24], 16, 64)
	if err != nil {
		return InvalidTimelineID, InvalidLSN, errors.Wrap(err, "unable to decode the segment number")
	}

	return TimelineID(timelineID), NewLSN(XLogID(xlogID), Offset(segment*uint64(WALSegmentSize))), nil
}

// ID returns the numeric xlog ID of the LSN.
func (lsn LSN) ID() XLogID {
	return XLogID(uint32(lsn >> 32))
}

// ByteOffset returns the byte offset inside of a WAL segment.
func (lsn LSN) ByteOffset() Offset {
	return Offset(lsn)
}

// SegmentNumber returns the global WAL segment number containing the LSN.
func (lsn LSN) SegmentNumber() uint64 {
	return uint64(lsn) / uint64(WALSegmentSize)
}

// AddBytes adds bytes to a given LSN
func (lsn LSN) AddBytes(n units.Base2Bytes) LSN {
	return LSN(uint64(lsn) + uint64(n))
}

// String returns the string representation of an LSN.
func (lsn LSN) String() string {
	return fmt.Sprintf("%X/%X", uint32(lsn>>32), uint32(lsn))
}

// WALFilename returns the name of the WAL segment containing the LSN.  The
// timeline number is optional.  If the timeline is not specified, default to
// a timelineID of 1.
func (lsn LSN) WALFilename(timelineID ...TimelineID) WALFilename {
	var tid TimelineID
	switch len(timelineID) {
	case 0:
		tid = 1
	case 1:
		tid = timelineID[0]
	default:
		panic("only one timelineID supported")
	}

	walFilename := fmt.Sprintf("%08X%08X%08X", tid,
		lsn.SegmentNumber()/WALSegmentsPerXLogID,
		lsn.SegmentNumber()%WALSegmentsPerXLogID)
	return WALFilename(walFilename)
}
