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
	"github.com/omniti-labs/omnipitr/compress"
	"github.com/omniti-labs/omnipitr/config"
	"github.com/omniti-labs/omnipitr/restore"
	"github.com/pkg/errors"
	log "github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// cleanupCmd runs exactly one retention pass, for cron-style pruning
// decoupled from the restore loop.
var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove archived segments older than the latest checkpoint's REDO location",
	Long: `Runs one retention pass against the wal-archive directory: segments
sorting strictly before the REDO segment of the latest checkpoint (from
pg_controldata, or an explicit --remove-unneeded boundary) are removed,
optionally routed through a pre-removal hook first.  The removal-pause
trigger suspends the pass entirely.`,

	PreRunE: func(cmd *cobra.Command, args []string) error {
		// The one-shot form shares restore's flag keys; point them at this
		// command's flag set.
		for key, longName := range map[string]string{
			config.KeyRestoreSource:       "source",
			config.KeyRestorePauseFile:    "removal-pause-trigger",
			config.KeyRestorePreRemoval:   "pre-removal-processing",
			config.KeyRestoreRemoveAtOnce: "remove-at-a-time",
			config.KeyRestoreRemoveBound:  "remove-unneeded",
			config.KeyRestoreTempDir:      "temp-dir",
		} {
			viper.BindPFlag(key, cmd.Flags().Lookup(longName))
		}

		if viper.GetString(config.KeyRestoreSource) == "" {
			return errors.New("--source is required")
		}
		return nil
	},

	RunE: func(cmd *cobra.Command, args []string) error {
		srcCompression, srcDir, err := compress.SplitPrefixed(viper.GetString(config.KeyRestoreSource))
		if err != nil {
			return err
		}

		retention := &restore.Retention{
			ArchiveDir:       srcDir,
			Compression:      srcCompression,
			Boundary:         viper.GetString(config.KeyRestoreRemoveBound),
			DataDir:          viper.GetString(config.KeyPGData),
			ControldataPath:  viper.GetString(config.KeyPGControldata),
			PauseTriggerPath: viper.GetString(config.KeyRestorePauseFile),
			RemoveAtATime:    viper.GetInt(config.KeyRestoreRemoveAtOnce),
			Hook:             viper.GetString(config.KeyRestorePreRemoval),
			ShellPath:        viper.GetString(config.KeyShellPath),
			TempDir:          viper.GetString(config.KeyRestoreTempDir),
			Compress:         config.CompressPaths(),
			// One-shot pruning wants the failure, not a silent suspension.
			ErrorMode: restore.ControldataBreak,
		}

		if err := retention.Pass(cmd.Context()); err != nil {
			log.Error().Err(err).Msg("cleanup failed")
			return err
		}
		return nil
	},
}

func init() {
	RootCmd.AddCommand(cleanupCmd)

	cleanupCmd.Flags().String("source", "", "Wal-archive directory to prune ([CMP=]dir)")
	cleanupCmd.Flags().String("removal-pause-trigger", "", "Trigger file suspending the pass")
	cleanupCmd.Flags().String("pre-removal-processing", "", "Program run against each segment before removal")
	cleanupCmd.Flags().Int("remove-at-a-time", 0, "Maximum segments removed (0 = unlimited)")
	cleanupCmd.Flags().String("remove-unneeded", "", "Explicit boundary segment name (default: from pg_controldata)")
	cleanupCmd.Flags().String("temp-dir", "/tmp", "Directory the pre-removal hook staging happens in")
}
