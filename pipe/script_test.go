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

package pipe_test

import (
	"regexp"
	"strings"
	"testing"

	"github.com/omniti-labs/omnipitr/pipe"
	"github.com/stretchr/testify/require"
)

var fifoRE = regexp.MustCompile(`/tmp/work/fifo-[0-9a-f-]+`)

func renderLines(t *testing.T, root *pipe.Node) []string {
	t.Helper()
	r := &pipe.Renderer{FIFODir: "/tmp/work", TeePath: "tee"}
	script, err := r.Render(root)
	require.NoError(t, err)
	return strings.Split(strings.TrimRight(script, "\n"), "\n")
}

func TestRenderSingleSink(t *testing.T) {
	root := pipe.NewNode("tar", "cf", "-", "pgdata").WriteStdoutTo("/backups/data.tar")

	lines := renderLines(t, root)
	require.Equal(t, []string{
		"tar cf - pgdata > /backups/data.tar",
		"wait",
	}, lines)
}

// Producer multiplexed to two files plus one digesting program.
func TestRenderFanout(t *testing.T) {
	md5 := pipe.NewNode("md5sum", "-").WriteStdoutTo("c")
	root := pipe.NewNode("tar", "cf", "-").
		WriteStdoutTo("a").
		WriteStdoutTo("b").
		PipeStdoutTo(md5)

	lines := renderLines(t, root)
	require.Len(t, lines, 5)

	fifos := fifoRE.FindAllString(lines[0], -1)
	require.Len(t, fifos, 1, "exactly one FIFO expected: %q", lines[0])
	fifo := fifos[0]

	require.Equal(t, "mkfifo "+fifo, lines[0])
	require.Equal(t, "md5sum - < "+fifo+" > c &", lines[1])

	// tee carries exactly the FIFO and "a" (unordered); "b" is the redirect
	// target
	require.True(t, strings.HasPrefix(lines[2], "tar cf - | tee "), "line: %q", lines[2])
	require.True(t, strings.HasSuffix(lines[2], " > b"), "line: %q", lines[2])
	teeArgs := strings.Fields(strings.TrimSuffix(strings.TrimPrefix(lines[2], "tar cf - | tee "), " > b"))
	require.ElementsMatch(t, []string{"a", fifo}, teeArgs)

	require.Equal(t, "wait", lines[3])
	require.Equal(t, "rm "+fifo, lines[4])
}

func TestRenderStderrFanout(t *testing.T) {
	root := pipe.NewNode("rsync", "-t", "src", "dst").
		WriteStdoutTo("out.log").
		WriteStderrTo("err-1.log").
		WriteStderrTo("err-2.log")

	lines := renderLines(t, root)
	require.Len(t, lines, 5)

	fifos := fifoRE.FindAllString(lines[0], -1)
	require.Len(t, fifos, 1)
	fifo := fifos[0]

	// The synthesized tee fans the single stderr stream into both files
	require.Equal(t, "tee err-1.log < "+fifo+" > err-2.log &", lines[1])
	require.Equal(t, "rsync -t src dst 2> "+fifo+" > out.log", lines[2])
}

func TestRenderAppendMode(t *testing.T) {
	root := pipe.NewNode("tar", "cf", "-").WriteStdoutTo("a").WriteStdoutTo("b")
	root.Mode = pipe.Append

	lines := renderLines(t, root)
	require.Equal(t, "tar cf - | tee -a a >> b", lines[0])
}

func TestRenderNestedPrograms(t *testing.T) {
	sha := pipe.NewNode("sha256sum", "-").WriteStdoutTo("data.sha256")
	gz := pipe.NewNode("gzip", "--stdout").
		WriteStdoutTo("data.tar.gz").
		PipeStdoutTo(sha)
	root := pipe.NewNode("tar", "cf", "-").PipeStdoutTo(gz)

	lines := renderLines(t, root)

	fifos := fifoRE.FindAllString(strings.Join(lines, "\n"), -1)
	// gzip consumes one FIFO, sha256sum another; mkfifo and rm repeat them
	require.Len(t, lines, 6)
	require.True(t, strings.HasPrefix(lines[0], "mkfifo "))
	require.Equal(t, "wait", lines[4])
	require.True(t, strings.HasPrefix(lines[5], "rm "))
	require.True(t, len(fifos) >= 2)

	// Every consumer line runs in the background
	require.True(t, strings.HasSuffix(lines[1], " &"))
	require.True(t, strings.HasSuffix(lines[2], " &"))
	// The root runs in the foreground
	require.True(t, strings.HasPrefix(lines[3], "tar cf - > "))
}

func TestRenderQuotesUnsafePaths(t *testing.T) {
	root := pipe.NewNode("tar", "cf", "-").WriteStdoutTo("/backups/my backup.tar")

	lines := renderLines(t, root)
	require.Equal(t, "tar cf - > '/backups/my backup.tar'", lines[0])
}

func TestRenderRejectsEmptyCommand(t *testing.T) {
	r := &pipe.Renderer{FIFODir: "/tmp/work"}
	_, err := r.Render(&pipe.Node{})
	require.Error(t, err)

	root := pipe.NewNode("tar", "cf", "-").PipeStdoutTo(&pipe.Node{})
	_, err = r.Render(root)
	require.Error(t, err)
}
