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

package lib

import (
	"context"
	"os"
	"time"

	"github.com/pkg/errors"
)

// WaitForFileCeiling caps every wait-for-a-WAL-file loop; a segment that
// fails to appear within an hour means the archiving chain upstream is dead.
const WaitForFileCeiling = 1 * time.Hour

// IsShuttingDown is a convenience helper that returns true when the context
// is Done.  True indicates an orderly shutdown is to begin immediately.
func IsShuttingDown(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

// WaitForFile polls with 1-second granularity until path exists, the
// ceiling passes, or the context is cancelled.
func WaitForFile(ctx context.Context, path string) error {
	deadline := time.Now().Add(WaitForFileCeiling)

	for {
		if _, err := os.Stat(path); err == nil {
			return nil
		} else if !os.IsNotExist(err) {
			return errors.Wrapf(err, "unable to stat %q", path)
		}

		if time.Now().After(deadline) {
			return errors.Errorf("gave up waiting for %q after %s", path, WaitForFileCeiling)
		}

		select {
		case <-ctx.Done():
			return errors.Wrapf(ctx.Err(), "cancelled while waiting for %q", path)
		case <-time.After(1 * time.Second):
		}
	}
}
