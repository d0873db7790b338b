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

package pipe

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Renderer turns a node tree into an executable shell script.
type Renderer struct {
	// FIFODir is the directory the named FIFOs are created in.  It must be
	// writable and on a filesystem that supports mkfifo.
	FIFODir string

	// TeePath is the tee(1) binary used both for multi-file stdout fanout and
	// for the synthesized stderr fanout node.
	TeePath string

	fifos     []string
	consumers []consumer
}

// consumer is a node whose stdin was rebound to a FIFO.
type consumer struct {
	fifo string
	node *Node
}

// Render flattens the tree into a script.  Every byte the root produces
// reaches every declared leaf, and the script terminates only once every
// consumer has exited.  Render rewrites the tree in place; do not reuse the
// nodes afterwards.
func (r *Renderer) Render(root *Node) (string, error) {
	if len(root.Cmd) == 0 {
		return "", errors.New("root node has no command")
	}
	if r.TeePath == "" {
		r.TeePath = "tee"
	}

	r.fifos = nil
	r.consumers = nil

	if err := r.walk(root, root.Mode); err != nil {
		return "", err
	}

	var b strings.Builder
	if len(r.fifos) > 0 {
		b.WriteString("mkfifo " + strings.Join(quoteAll(r.fifos), " ") + "\n")
	}
	for _, c := range r.consumers {
		b.WriteString(r.commandLine(c.node, c.fifo) + " &\n")
	}
	b.WriteString(r.commandLine(root, "") + "\n")
	b.WriteString("wait\n")
	if len(r.fifos) > 0 {
		b.WriteString("rm " + strings.Join(quoteAll(r.fifos), " ") + "\n")
	}

	return b.String(), nil
}

// walk rebinds every child process onto a FIFO, depth-first, and synthesizes
// the stderr fanout tee where a node ends up with two or more stderr sinks.
func (r *Renderer) walk(n *Node, mode WriteMode) error {
	if len(n.Cmd) == 0 {
		return errors.New("node has no command")
	}
	n.Mode = mode

	for _, child := range n.StdoutPrograms {
		fifo := r.newFIFO()
		// Prepend so the last declared file sink stays the redirect target.
		n.StdoutFiles = append([]string{fifo}, n.StdoutFiles...)
		r.consumers = append(r.consumers, consumer{fifo: fifo, node: child})
		if err := r.walk(child, mode); err != nil {
			return err
		}
	}
	n.StdoutPrograms = nil

	for _, child := range n.StderrPrograms {
		fifo := r.newFIFO()
		n.StderrFiles = append([]string{fifo}, n.StderrFiles...)
		r.consumers = append(r.consumers, consumer{fifo: fifo, node: child})
		if err := r.walk(child, mode); err != nil {
			return err
		}
	}
	n.StderrPrograms = nil

	// A shell command has exactly one stderr redirect, so two or more stderr
	// sinks need an auxiliary tee fanning the single stream out.
	if len(n.StderrFiles) >= 2 {
		files := n.StderrFiles
		teeNode := &Node{
			Cmd:         append(append([]string{r.TeePath}, teeFlags(mode)...), files[:len(files)-1]...),
			StdoutFiles: files[len(files)-1:],
			Mode:        mode,
		}
		fifo := r.newFIFO()
		n.StderrFiles = []string{fifo}
		r.consumers = append(r.consumers, consumer{fifo: fifo, node: teeNode})
	}

	return nil
}

// commandLine renders one node as a single shell command.
func (r *Renderer) commandLine(n *Node, stdinFIFO string) string {
	parts := quoteAll(n.Cmd)

	if stdinFIFO != "" {
		parts = append(parts, "<", quote(stdinFIFO))
	}

	if len(n.StderrFiles) == 1 {
		parts = append(parts, redirect("2", n.Mode), quote(n.StderrFiles[0]))
	}

	switch len(n.StdoutFiles) {
	case 0:
	case 1:
		parts = append(parts, redirect("", n.Mode), quote(n.StdoutFiles[0]))
	default:
		parts = append(parts, "|", quote(r.TeePath))
		parts = append(parts, teeFlags(n.Mode)...)
		parts = append(parts, quoteAll(n.StdoutFiles[:len(n.StdoutFiles)-1])...)
		parts = append(parts, redirect("", n.Mode), quote(n.StdoutFiles[len(n.StdoutFiles)-1]))
	}

	return strings.Join(parts, " ")
}

func (r *Renderer) newFIFO() string {
	fifo := filepath.Join(r.FIFODir, "fifo-"+uuid.NewString())
	r.fifos = append(r.fifos, fifo)
	return fifo
}

func teeFlags(mode WriteMode) []string {
	if mode == Append {
		return []string{"-a"}
	}
	return nil
}

func redirect(stream string, mode WriteMode) string {
	if mode == Append {
		return stream + ">>"
	}
	return stream + ">"
}

var bareWordRE = regexp.MustCompile(`^[A-Za-z0-9_@%+=:,./-]+$`)

// quote single-quotes anything the shell could reinterpret.
func quote(s string) string {
	if s != "" && bareWordRE.MatchString(s) {
		return s
	}
	return fmt.Sprintf("'%s'", strings.ReplaceAll(s, "'", `'\''`))
}

func quoteAll(in []string) []string {
	out := make([]string, len(in))
	for i := range in {
		out[i] = quote(in[i])
	}
	return out
}
