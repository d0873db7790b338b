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

package compress_test

import (
	"testing"

	"github.com/kylelemons/godebug/pretty"
	"github.com/omniti-labs/omnipitr/compress"
)

func TestParseAndExtensions(t *testing.T) {
	tests := []struct {
		in      string
		want    compress.Compression
		ext     string
		wantErr bool
	}{
		{in: "none", want: compress.None, ext: ""},
		{in: "", want: compress.None, ext: ""},
		{in: "gzip", want: compress.Gzip, ext: ".gz"},
		{in: "GZIP", want: compress.Gzip, ext: ".gz"},
		{in: "bzip2", want: compress.Bzip2, ext: ".bz2"},
		{in: "lzma", want: compress.Lzma, ext: ".lzma"},
		{in: "zstd", wantErr: true},
	}

	for n, test := range tests {
		c, err := compress.Parse(test.in)
		if test.wantErr {
			if err == nil {
				t.Fatalf("%d: expected error for %q", n, test.in)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%d: bad: %v", n, err)
		}
		if c != test.want {
			t.Fatalf("%d: Parse(%q) = %v", n, test.in, c)
		}
		if diff := pretty.Compare(test.ext, c.Extension()); diff != "" {
			t.Fatalf("%d: ext diff: (-got +want)\n%s", n, diff)
		}

		// Extension maps back
		back, err := compress.ByExtension(test.ext)
		if err != nil {
			t.Fatalf("%d: bad: %v", n, err)
		}
		// "" maps to None, which is also what "none" parses to
		if back != test.want {
			t.Fatalf("%d: ByExtension(%q) = %v", n, test.ext, back)
		}
	}
}

func TestSplitPrefixed(t *testing.T) {
	tests := []struct {
		in      string
		cmp     compress.Compression
		value   string
		wantErr bool
	}{
		{in: "/var/lib/wal-archive", cmp: compress.None, value: "/var/lib/wal-archive"},
		{in: "gzip=/var/lib/wal-archive", cmp: compress.Gzip, value: "/var/lib/wal-archive"},
		{in: "bzip2=user@host:/backups", cmp: compress.Bzip2, value: "user@host:/backups"},
		{in: "lzma=/usr/local/bin/feed-wal", cmp: compress.Lzma, value: "/usr/local/bin/feed-wal"},
		{in: "zstd=/a", wantErr: true},
		{in: "gzip=", wantErr: true},
	}

	for n, test := range tests {
		c, v, err := compress.SplitPrefixed(test.in)
		if test.wantErr {
			if err == nil {
				t.Fatalf("%d: expected error for %q", n, test.in)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%d: bad: %v", n, err)
		}
		if c != test.cmp || v != test.value {
			t.Fatalf("%d: SplitPrefixed(%q) = %v, %q", n, test.in, c, v)
		}
	}
}

func TestArgv(t *testing.T) {
	p := compress.DefaultPaths()

	argv, err := p.CompressArgv(compress.Gzip)
	if err != nil {
		t.Fatalf("bad: %v", err)
	}
	if diff := pretty.Compare([]string{"nice", "-n", "19", "gzip", "--stdout"}, argv); diff != "" {
		t.Fatalf("argv diff: (-got +want)\n%s", diff)
	}

	p.NotNice = true
	argv, err = p.CompressArgv(compress.Bzip2)
	if err != nil {
		t.Fatalf("bad: %v", err)
	}
	if diff := pretty.Compare([]string{"bzip2", "--stdout"}, argv); diff != "" {
		t.Fatalf("argv diff: (-got +want)\n%s", diff)
	}

	argv, err = p.DecompressArgv(compress.Lzma)
	if err != nil {
		t.Fatalf("bad: %v", err)
	}
	if diff := pretty.Compare([]string{"lzma", "--decompress", "--stdout"}, argv); diff != "" {
		t.Fatalf("argv diff: (-got +want)\n%s", diff)
	}

	if _, err := p.CompressArgv(compress.None); err == nil {
		t.Fatal("expected error compressing with None")
	}
}
