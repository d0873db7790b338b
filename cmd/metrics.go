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

package cmd

import (
	cgm "github.com/circonus-labs/circonus-gometrics"
	"github.com/omniti-labs/omnipitr/config"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// newMetrics builds the optional Circonus metrics agent.  Returns nil when
// metrics are disabled; commands treat a nil agent as a no-op.
func newMetrics(cfg config.Config) (*cgm.CirconusMetrics, error) {
	if !viper.GetBool(config.KeyCirconusEnabled) {
		return nil, nil
	}

	metrics, err := cgm.NewCirconusMetrics(cfg.Metrics)
	if err != nil {
		return nil, errors.Wrap(err, "unable to create a stats agent")
	}
	return metrics, nil
}

// flushMetrics pushes whatever a short-lived invocation accumulated.
func flushMetrics(metrics *cgm.CirconusMetrics) {
	if metrics != nil {
		metrics.Flush()
	}
}
