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

package archive_test

import (
	"testing"

	"github.com/kylelemons/godebug/pretty"
	"github.com/omniti-labs/omnipitr/archive"
	"github.com/omniti-labs/omnipitr/compress"
	"github.com/stretchr/testify/require"
)

func TestParseDestination(t *testing.T) {
	tests := []struct {
		kind    archive.Kind
		in      string
		want    archive.Destination
		wantErr bool
	}{
		{
			kind: archive.Local,
			in:   "/var/lib/wal-archive",
			want: archive.Destination{Kind: archive.Local, Path: "/var/lib/wal-archive"},
		},
		{
			kind: archive.Local,
			in:   "gzip=/var/lib/wal-archive",
			want: archive.Destination{Kind: archive.Local, Path: "/var/lib/wal-archive", Compression: compress.Gzip},
		},
		{
			kind: archive.Remote,
			in:   "bzip2=postgres@standby:/wal",
			want: archive.Destination{Kind: archive.Remote, Path: "postgres@standby:/wal", Compression: compress.Bzip2},
		},
		{
			kind: archive.Pipe,
			in:   "/usr/local/bin/feed-wal",
			want: archive.Destination{Kind: archive.Pipe, Path: "/usr/local/bin/feed-wal"},
		},
		{kind: archive.Remote, in: "/not/remote", wantErr: true},
		{kind: archive.Local, in: "zstd=/a", wantErr: true},
	}

	for n, test := range tests {
		got, err := archive.ParseDestination(test.kind, test.in)
		if test.wantErr {
			require.Error(t, err, "case %d", n)
			continue
		}
		require.NoError(t, err, "case %d", n)
		if diff := pretty.Compare(test.want, got); diff != "" {
			t.Fatalf("%d: destination diff: (-got +want)\n%s", n, diff)
		}
	}
}

func TestNeededCompressions(t *testing.T) {
	dsts := []archive.Destination{
		{Kind: archive.Local, Path: "/a", Compression: compress.None},
		{Kind: archive.Local, Path: "/b", Compression: compress.Gzip},
		{Kind: archive.Remote, Path: "h:/c", Compression: compress.Gzip},
		{Kind: archive.Pipe, Path: "/bin/feed", Compression: compress.Lzma},
	}

	got := archive.NeededCompressions(dsts)
	if diff := pretty.Compare([]compress.Compression{compress.Gzip, compress.Lzma}, got); diff != "" {
		t.Fatalf("compressions diff: (-got +want)\n%s", diff)
	}

	require.Empty(t, archive.NeededCompressions(nil))
}
