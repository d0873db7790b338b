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

package archive

import (
	"crypto/md5"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"

	"github.com/goccy/go-json"
	"github.com/pkg/errors"
)

// State is the per-segment persistent record that makes repeated archive
// invocations for the same segment resumable.  Operations recorded here are
// never repeated; operations missing are re-attempted from scratch.
type State struct {
	Segment string `json:"segment"`

	// Compressed maps a compression name onto the hex md5 of the compressed
	// artifact sitting in the temp dir.
	Compressed map[string]string `json:"compressed"`

	// Sent maps a destination kind onto the set of destination paths the
	// segment has been fully delivered to.
	Sent map[string]map[string]bool `json:"sent"`
}

// NewState builds an empty record for a segment.
func NewState(segment string) *State {
	return &State{
		Segment:    segment,
		Compressed: make(map[string]string),
		Sent:       make(map[string]map[string]bool),
	}
}

// MarkCompressed records the digest of a freshly compressed artifact.
func (s *State) MarkCompressed(compression, hexMD5 string) {
	s.Compressed[compression] = hexMD5
}

// CompressedDigest returns the recorded digest for a compression, if any.
func (s *State) CompressedDigest(compression string) (string, bool) {
	digest, found := s.Compressed[compression]
	return digest, found
}

// MarkSent records a completed delivery.
func (s *State) MarkSent(kind, path string) {
	if s.Sent[kind] == nil {
		s.Sent[kind] = make(map[string]bool)
	}
	s.Sent[kind][path] = true
}

// WasSent reports whether a delivery already completed in a prior
// invocation.
func (s *State) WasSent(kind, path string) bool {
	return s.Sent[kind][path]
}

// Store persists States under state-dir/<segment>.
type Store struct {
	Dir string
}

// Load returns the stored record for a segment, or a fresh one when none
// exists yet.
func (st *Store) Load(segment string) (*State, error) {
	buf, err := os.ReadFile(st.path(segment))
	if os.IsNotExist(err) {
		return NewState(segment), nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "unable to read state for %q", segment)
	}

	s := NewState(segment)
	if err := json.Unmarshal(buf, s); err != nil {
		return nil, errors.Wrapf(err, "unable to decode state for %q", segment)
	}
	if s.Compressed == nil {
		s.Compressed = make(map[string]string)
	}
	if s.Sent == nil {
		s.Sent = make(map[string]map[string]bool)
	}

	return s, nil
}

// Save writes the record atomically (temp file + rename) so a crashed
// invocation never leaves a torn state file behind.
func (st *Store) Save(s *State) error {
	buf, err := json.Marshal(s)
	if err != nil {
		return errors.Wrapf(err, "unable to encode state for %q", s.Segment)
	}

	tmp, err := os.CreateTemp(st.Dir, ".state-")
	if err != nil {
		return errors.Wrap(err, "unable to create a temp state file")
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(buf); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return errors.Wrap(err, "unable to write the temp state file")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return errors.Wrap(err, "unable to close the temp state file")
	}

	if err := os.Rename(tmpName, st.path(s.Segment)); err != nil {
		os.Remove(tmpName)
		return errors.Wrapf(err, "unable to persist state for %q", s.Segment)
	}

	return nil
}

// Delete removes the record; deleting an absent record is not an error.
func (st *Store) Delete(segment string) error {
	err := os.Remove(st.path(segment))
	if err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "unable to delete state for %q", segment)
	}
	return nil
}

func (st *Store) path(segment string) string {
	return filepath.Join(st.Dir, segment)
}

// MD5File returns the hex md5 digest of a file's contents.
func MD5File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", errors.Wrapf(err, "unable to open %q", path)
	}
	defer f.Close()

	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", errors.Wrapf(err, "unable to digest %q", path)
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}
