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

// Package pipe assembles trees of cooperating processes (a producer fanned
// out through compressors and digesters into files, programs, and SSH
// tunnels) and renders them into a shell script built on named FIFOs, so a
// single byte stream can feed an arbitrary number of heterogeneous
// consumers.
package pipe

// WriteMode selects how file sinks are opened.  The root's mode propagates
// to every descendant at render time.
type WriteMode int

const (
	Overwrite WriteMode = iota
	Append
)

// Node is one process in the tree.  Its stdout and stderr each fan out to
// any number of files and child processes.
type Node struct {
	Cmd []string

	StdoutFiles    []string
	StdoutPrograms []*Node
	StderrFiles    []string
	StderrPrograms []*Node

	Mode WriteMode
}

// NewNode builds a leafless node around an argv.
func NewNode(argv ...string) *Node {
	return &Node{Cmd: argv}
}

// WriteStdoutTo adds a file sink for the node's stdout.
func (n *Node) WriteStdoutTo(path string) *Node {
	n.StdoutFiles = append(n.StdoutFiles, path)
	return n
}

// PipeStdoutTo adds a child process consuming the node's stdout.
func (n *Node) PipeStdoutTo(child *Node) *Node {
	n.StdoutPrograms = append(n.StdoutPrograms, child)
	return n
}

// WriteStderrTo adds a file sink for the node's stderr.
func (n *Node) WriteStderrTo(path string) *Node {
	n.StderrFiles = append(n.StderrFiles, path)
	return n
}

// PipeStderrTo adds a child process consuming the node's stderr.
func (n *Node) PipeStderrTo(child *Node) *Node {
	n.StderrPrograms = append(n.StderrPrograms, child)
	return n
}
