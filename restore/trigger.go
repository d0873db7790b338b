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

package restore

import (
	"os"

	"github.com/pkg/errors"
)

// FinishMode is the operator's termination request, read from the
// finish-trigger file.
type FinishMode int

const (
	// FinishNone: no trigger present, keep serving.
	FinishNone FinishMode = iota

	// FinishSmart: trigger present; serve segments that are already staged,
	// terminate the first time one is missing.
	FinishSmart

	// FinishNow: trigger contains "NOW\n"; terminate immediately.
	FinishNow
)

func (m FinishMode) String() string {
	switch m {
	case FinishNone:
		return "none"
	case FinishSmart:
		return "smart"
	case FinishNow:
		return "immediate"
	default:
		return "unknown"
	}
}

// CheckFinishTrigger reads the trigger file.  A missing file means
// FinishNone; "NOW\n" means FinishNow; any other content means FinishSmart.
func CheckFinishTrigger(path string) (FinishMode, error) {
	if path == "" {
		return FinishNone, nil
	}

	buf, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return FinishNone, nil
	}
	if err != nil {
		return FinishNone, errors.Wrapf(err, "unable to read the finish trigger %q", path)
	}

	if string(buf) == "NOW\n" {
		return FinishNow, nil
	}
	return FinishSmart, nil
}

// PauseTriggerExists reports whether retention is suspended by the
// removal-pause trigger (created by a slave backup holding the archive
// steady).
func PauseTriggerExists(path string) bool {
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}
