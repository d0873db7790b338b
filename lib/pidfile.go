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
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	log "github.com/rs/zerolog/log"
	"golang.org/x/sys/unix"
)

// AcquirePidFile claims a pid file, refusing to start while another live
// instance holds it.  A stale file left by a dead process is taken over.
// The returned release removes the file.
func AcquirePidFile(path string) (release func(), err error) {
	if path == "" {
		return func() {}, nil
	}

	if buf, err := os.ReadFile(path); err == nil {
		pidStr := strings.TrimSpace(string(buf))
		if pid, parseErr := strconv.Atoi(pidStr); parseErr == nil && pid > 0 {
			if unix.Kill(pid, 0) == nil {
				return nil, errors.Errorf("pid file %q is held by running process %d", path, pid)
			}
		}
		log.Warn().Str("pid-file", path).Str("pid", pidStr).Msg("taking over a stale pid file")
	} else if !os.IsNotExist(err) {
		return nil, errors.Wrapf(err, "unable to read pid file %q", path)
	}

	if err := os.WriteFile(path, []byte(fmt.Sprintf("%d\n", os.Getpid())), 0644); err != nil {
		return nil, errors.Wrapf(err, "unable to write pid file %q", path)
	}

	return func() {
		if err := os.Remove(path); err != nil {
			log.Warn().Err(err).Str("pid-file", path).Msg("unable to remove the pid file")
		}
	}, nil
}
