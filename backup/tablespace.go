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
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	log "github.com/rs/zerolog/log"
)

// Tablespace is one pg_tblspc/<oid> symlink and its target.
type Tablespace struct {
	OID      string
	Location string
}

// DiscoverTablespaces resolves every symlink under pg_tblspc/.  Non-symlink
// entries (PG_VERSION droppings, lost+found) are skipped.
func DiscoverTablespaces(dataDir string) ([]Tablespace, error) {
	tblspcDir := filepath.Join(dataDir, "pg_tblspc")

	entries, err := os.ReadDir(tblspcDir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "unable to list %q", tblspcDir)
	}

	var out []Tablespace
	for _, e := range entries {
		link := filepath.Join(tblspcDir, e.Name())
		target, err := os.Readlink(link)
		if err != nil {
			log.Debug().Str("entry", link).Msg("skipping a non-symlink pg_tblspc entry")
			continue
		}
		if !filepath.IsAbs(target) {
			target = filepath.Join(tblspcDir, target)
		}
		out = append(out, Tablespace{OID: e.Name(), Location: filepath.Clean(target)})
	}

	return out, nil
}

// TransformRule renders the GNU tar --transform rule remapping the
// tablespace's real filesystem path onto tablespaces/<oid>, so restore
// places it under one symbolic tree regardless of where the source
// filesystem kept it.  Tar stores absolute members without the leading
// slash, so the rule anchors on the stripped form.
func (ts Tablespace) TransformRule() string {
	stripped := strings.TrimPrefix(ts.Location, "/")
	return fmt.Sprintf("--transform=s,^%s,tablespaces/%s,", stripped, ts.OID)
}
