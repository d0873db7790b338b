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

// Package compress enumerates the supported compression formats and builds
// the argv for the external compressor/decompressor programs.  The toolkit
// never compresses in-process; it orchestrates gzip(1), bzip2(1), and
// lzma(1).
package compress

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// Compression identifies one of the supported formats.
type Compression int

const (
	None Compression = iota
	Gzip
	Bzip2
	Lzma
)

// All lists every supported format, None first.
var All = []Compression{None, Gzip, Bzip2, Lzma}

func (c Compression) String() string {
	switch c {
	case None:
		return "none"
	case Gzip:
		return "gzip"
	case Bzip2:
		return "bzip2"
	case Lzma:
		return "lzma"
	default:
		panic(fmt.Sprintf("unknown compression: %d", int(c)))
	}
}

// Extension returns the filename suffix for the format ("" for None).
func (c Compression) Extension() string {
	switch c {
	case None:
		return ""
	case Gzip:
		return ".gz"
	case Bzip2:
		return ".bz2"
	case Lzma:
		return ".lzma"
	default:
		panic(fmt.Sprintf("unknown compression: %d", int(c)))
	}
}

// Parse maps a format name onto its Compression.
func Parse(in string) (Compression, error) {
	switch strings.ToLower(in) {
	case "", "none":
		return None, nil
	case "gzip":
		return Gzip, nil
	case "bzip2":
		return Bzip2, nil
	case "lzma":
		return Lzma, nil
	default:
		return None, errors.Errorf("unsupported compression %q (supported: none, gzip, bzip2, lzma)", in)
	}
}

// ByExtension maps a filename suffix back onto its format.
func ByExtension(ext string) (Compression, error) {
	for _, c := range All {
		if c.Extension() == ext {
			return c, nil
		}
	}
	return None, errors.Errorf("no compression with extension %q", ext)
}

// SplitPrefixed parses the "[CMP=]value" syntax used by destination and
// source flags, e.g. "gzip=/var/lib/wal-archive".  A value without "=" is an
// uncompressed destination; an unrecognized prefix is an error.
func SplitPrefixed(in string) (Compression, string, error) {
	idx := strings.Index(in, "=")
	if idx < 0 {
		return None, in, nil
	}

	c, err := Parse(in[:idx])
	if err != nil {
		// "user@host:/path" style values legitimately contain "=" only when a
		// prefix was intended, so a bad prefix is a configuration error.
		return None, "", errors.Wrapf(err, "unable to parse destination %q", in)
	}

	value := in[idx+1:]
	if value == "" {
		return None, "", errors.Errorf("empty path in destination %q", in)
	}

	return c, value, nil
}

// Paths carries the external program locations plus the niceness policy.
type Paths struct {
	Gzip  string
	Bzip2 string
	Lzma  string
	Nice  string

	// NotNice disables nice(1)-wrapping of compressors.
	NotNice bool
}

// DefaultPaths resolves every program through $PATH.
func DefaultPaths() Paths {
	return Paths{
		Gzip:  "gzip",
		Bzip2: "bzip2",
		Lzma:  "lzma",
		Nice:  "nice",
	}
}

// Binary returns the configured program path for a format.
func (p Paths) Binary(c Compression) (string, error) {
	switch c {
	case Gzip:
		return p.Gzip, nil
	case Bzip2:
		return p.Bzip2, nil
	case Lzma:
		return p.Lzma, nil
	default:
		return "", errors.Errorf("no binary for compression %q", c)
	}
}

// CompressArgv builds the stdin-to-stdout compress command, nice-wrapped
// unless NotNice is set.
func (p Paths) CompressArgv(c Compression) ([]string, error) {
	bin, err := p.Binary(c)
	if err != nil {
		return nil, err
	}

	argv := []string{bin, "--stdout"}
	if !p.NotNice {
		argv = append([]string{p.Nice, "-n", "19"}, argv...)
	}
	return argv, nil
}

// DecompressArgv builds the stdin-to-stdout decompress command.  Decompression
// sits on the restore path and is never niced.
func (p Paths) DecompressArgv(c Compression) ([]string, error) {
	bin, err := p.Binary(c)
	if err != nil {
		return nil, err
	}
	return []string{bin, "--decompress", "--stdout"}, nil
}
