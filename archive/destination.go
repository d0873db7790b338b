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
	"fmt"
	"strings"

	"github.com/omniti-labs/omnipitr/compress"
	"github.com/pkg/errors"
)

// Kind distinguishes how an artifact reaches a destination.
type Kind int

const (
	// Local is a directory on this host, written via rsync.
	Local Kind = iota

	// Remote is "[user@]host:/absolute/path", written via rsync-over-ssh.
	Remote

	// Pipe is an external program exec'd once per artifact with the artifact
	// fed on its stdin.
	Pipe

	// Direct is "[user@]host:/absolute/path" fed in-stream over an SSH tunnel
	// while the artifact is being produced.  Only the backup engine uses it.
	Direct
)

func (k Kind) String() string {
	switch k {
	case Local:
		return "local"
	case Remote:
		return "remote"
	case Pipe:
		return "pipe"
	case Direct:
		return "direct"
	default:
		panic(fmt.Sprintf("unknown destination kind: %d", int(k)))
	}
}

// Destination is one declared sink for archived segments.
type Destination struct {
	Kind        Kind
	Path        string
	Compression compress.Compression
}

// ParseDestination decodes one "[CMP=]path" flag value.
func ParseDestination(kind Kind, flagValue string) (Destination, error) {
	c, path, err := compress.SplitPrefixed(flagValue)
	if err != nil {
		return Destination{}, err
	}

	if (kind == Remote || kind == Direct) && !strings.Contains(path, ":") {
		return Destination{}, errors.Errorf("remote destination %q is not of the form [user@]host:/path", flagValue)
	}

	return Destination{Kind: kind, Path: path, Compression: c}, nil
}

// ParseDestinations decodes a repeated flag.
func ParseDestinations(kind Kind, flagValues []string) ([]Destination, error) {
	dsts := make([]Destination, 0, len(flagValues))
	for _, v := range flagValues {
		d, err := ParseDestination(kind, v)
		if err != nil {
			return nil, err
		}
		dsts = append(dsts, d)
	}
	return dsts, nil
}

// NeededCompressions returns the set of real compressions the destination
// list requires.  A destination using None costs nothing here.
func NeededCompressions(dsts []Destination) []compress.Compression {
	seen := make(map[compress.Compression]struct{}, len(dsts))
	out := make([]compress.Compression, 0, len(dsts))
	for _, d := range dsts {
		if d.Compression == compress.None {
			continue
		}
		if _, found := seen[d.Compression]; found {
			continue
		}
		seen[d.Compression] = struct{}{}
		out = append(out, d.Compression)
	}
	return out
}
