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

package backup

import (
	"strings"
	"time"

	"github.com/lestrrat-go/strftime"
	"github.com/omniti-labs/omnipitr/compress"
	"github.com/pkg/errors"
)

// Placeholders understood by the filename template.
const (
	placeholderHostname = "__HOSTNAME__"
	placeholderFiletype = "__FILETYPE__"
	placeholderCExt     = "__CEXT__"
)

// Template renders backup artifact filenames.  Strftime escapes are written
// with a "^" sigil (e.g. "^Y-^m-^d") so they survive shells and config
// files, and are rewritten to "%" before expansion against the backup's
// start time.
type Template struct {
	raw string
}

// NewTemplate validates the template: it must reference __FILETYPE__ (the
// data and xlog artifacts would otherwise collide) and must not contain
// path separators.
func NewTemplate(raw string) (Template, error) {
	if !strings.Contains(raw, placeholderFiletype) {
		return Template{}, errors.Errorf("filename template %q does not contain %s", raw, placeholderFiletype)
	}
	if strings.ContainsAny(raw, `/\`) {
		return Template{}, errors.Errorf("filename template %q must not contain path separators", raw)
	}
	return Template{raw: raw}, nil
}

// DefaultTemplate matches the original tool's naming.
func DefaultTemplate() Template {
	return Template{raw: "__HOSTNAME__-__FILETYPE__-^Y-^m-^d.tar__CEXT__"}
}

// String returns the unexpanded template.
func (t Template) String() string {
	return t.raw
}

// Render expands the template for one artifact.  filetype is "data",
// "xlog", or a digest algorithm name.
func (t Template) Render(hostname, filetype string, c compress.Compression, at time.Time) (string, error) {
	s := t.raw
	s = strings.ReplaceAll(s, placeholderHostname, hostname)
	s = strings.ReplaceAll(s, placeholderFiletype, filetype)
	s = strings.ReplaceAll(s, placeholderCExt, c.Extension())

	s = RewriteSigils(s)

	expanded, err := strftime.Format(s, at, strftime.WithUnixSeconds('s'))
	if err != nil {
		return "", errors.Wrapf(err, "unable to expand template %q", t.raw)
	}

	return expanded, nil
}

// RewriteSigils converts the "^" strftime sigil to "%".
func RewriteSigils(s string) string {
	return strings.ReplaceAll(s, "^", "%")
}
