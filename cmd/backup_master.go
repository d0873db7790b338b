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
	"github.com/omniti-labs/omnipitr/config"
	"github.com/pkg/errors"
	log "github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// backupMasterCmd runs a base backup on a primary.
var backupMasterCmd = &cobra.Command{
	Use:   "backup-master",
	Short: "Build a base backup on a primary server",
	Long: `Brackets a tar copy of the data directory with pg_start_backup and
pg_stop_backup over a live connection, waits for the .backup sentinel and the
final xlog segment to land in the hold area (--xlogs), tars the collected
xlogs, and delivers everything to the configured destinations.`,

	PreRunE: func(cmd *cobra.Command, args []string) error {
		bindBackupFlags(cmd)
		viper.BindPFlag(config.KeyBackupXlogsDir, cmd.Flags().Lookup("xlogs"))

		if !viper.GetBool(config.KeyBackupSkipXlogs) && viper.GetString(config.KeyBackupXlogsDir) == "" {
			return errors.New("--xlogs is required unless --skip-xlogs is set")
		}
		return nil
	},

	RunE: func(cmd *cobra.Command, args []string) error {
		engine, err := buildBackupEngine()
		if err != nil {
			return err
		}
		defer flushMetrics(engine.Metrics)

		pool, err := pgx.NewConnPool(config.NewDefault().DBPool)
		if err != nil {
			return errors.Wrap(err, "unable to connect to the server")
		}
		defer pool.Close()

		master := &backup.Master{
			Engine:          *engine,
			Pool:            pool,
			XlogsDir:        viper.GetString(config.KeyBackupXlogsDir),
			ControldataPath: viper.GetString(config.KeyPGControldata),
		}

		if err := master.Run(cmd.Context()); err != nil {
			log.Error().Err(err).Msg("master backup failed")
			return err
		}

		log.Info().Msg("master backup complete")
		return nil
	},
}

func init() {
	RootCmd.AddCommand(backupMasterCmd)

	registerBackupFlags(backupMasterCmd)
	backupMasterCmd.Flags().String("xlogs", "", "Hold area the archive command also delivers xlogs into")
}
