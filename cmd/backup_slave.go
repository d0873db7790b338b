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
	"github.com/jackc/pgx"
	"github.com/omniti-labs/omnipitr/backup"
	"github.com/omniti-labs/omnipitr/compress"
	"github.com/omniti-labs/omnipitr/config"
	"github.com/pkg/errors"
	log "github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// backupSlaveCmd runs a base backup on a hot standby.
var backupSlaveCmd = &cobra.Command{
	Use:   "backup-slave",
	Short: "Build a base backup on a hot standby",
	Long: `Builds a base backup without touching the primary: pg_controldata
snapshots bracket the data copy, the backup_label and .backup marker are
synthesized locally, and the xlog archive is taken from the standby's
wal-archive directory (--source).  With --call-master the copy is instead
bracketed with pg_start_backup/pg_stop_backup on the primary and the real
backup_label is fetched through pg_read_file.

While the backup runs, the removal-pause trigger suspends the restore
process's retention so the archive holds still.`,

	PreRunE: func(cmd *cobra.Command, args []string) error {
		bindBackupFlags(cmd)
		viper.BindPFlag(config.KeyBackupSource, cmd.Flags().Lookup("source"))
		viper.BindPFlag(config.KeyBackupPauseFile, cmd.Flags().Lookup("removal-pause-trigger"))
		viper.BindPFlag(config.KeyBackupCallMaster, cmd.Flags().Lookup("call-master"))

		if !viper.GetBool(config.KeyBackupSkipXlogs) && viper.GetString(config.KeyBackupSource) == "" {
			return errors.New("--source is required unless --skip-xlogs is set")
		}
		return nil
	},

	RunE: func(cmd *cobra.Command, args []string) error {
		engine, err := buildBackupEngine()
		if err != nil {
			return err
		}
		defer flushMetrics(engine.Metrics)

		srcCompression, srcDir, err := compress.SplitPrefixed(viper.GetString(config.KeyBackupSource))
		if err != nil {
			return err
		}

		slave := &backup.Slave{
			Engine:            *engine,
			SourceDir:         srcDir,
			SourceCompression: srcCompression,
			PauseTriggerPath:  viper.GetString(config.KeyBackupPauseFile),
			ControldataPath:   viper.GetString(config.KeyPGControldata),
			PollInterval:      viper.GetDuration(config.KeyPGPollInterval),
			CallMaster:        viper.GetBool(config.KeyBackupCallMaster),
		}

		if slave.CallMaster {
			pool, err := pgx.NewConnPool(config.NewDefault().DBPool)
			if err != nil {
				return errors.Wrap(err, "unable to connect to the primary")
			}
			defer pool.Close()
			slave.Pool = pool
		}

		if err := slave.Run(cmd.Context()); err != nil {
			log.Error().Err(err).Msg("slave backup failed")
			return err
		}

		log.Info().Msg("slave backup complete")
		return nil
	},
}

func init() {
	RootCmd.AddCommand(backupSlaveCmd)

	registerBackupFlags(backupSlaveCmd)
	backupSlaveCmd.Flags().String("source", "", "Wal-archive directory the xlog tar is built from ([CMP=]dir)")
	backupSlaveCmd.Flags().String("removal-pause-trigger", "", "Trigger file suspending restore's retention while the backup runs")
	backupSlaveCmd.Flags().Bool("call-master", false, "Bracket the backup with pg_start_backup/pg_stop_backup on the primary")

	{
		const (
			key          = config.KeyPGPollInterval
			longName     = "poll-interval"
			defaultValue = "5s"
			description  = "Interval between pg_controldata polls"
		)

		backupSlaveCmd.Flags().String(longName, defaultValue, description)
		viper.BindPFlag(key, backupSlaveCmd.Flags().Lookup(longName))
		viper.SetDefault(key, defaultValue)
	}
}
