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
	"testing"

	"github.com/omniti-labs/omnipitr/config"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
)

func TestSubcommandsRegistered(t *testing.T) {
	want := map[string]bool{
		"archive":       false,
		"backup-master": false,
		"backup-slave":  false,
		"restore":       false,
		"cleanup":       false,
		"version":       false,
	}
	for _, c := range RootCmd.Commands() {
		if _, tracked := want[c.Name()]; tracked {
			want[c.Name()] = true
		}
	}
	for name, found := range want {
		require.True(t, found, "subcommand %q is not registered", name)
	}
}

func TestArchivePreRunValidation(t *testing.T) {
	dataDir := t.TempDir()
	viper.Set(config.KeyPGData, dataDir)
	viper.Set(config.KeyArchiveForceData, true)
	viper.Set(config.KeyArchiveParallel, 1)
	defer viper.Reset()

	// No destinations at all
	viper.Set(config.KeyArchiveDstLocal, []string{})
	viper.Set(config.KeyArchiveDstRemote, []string{})
	viper.Set(config.KeyArchiveDstPipe, []string{})
	require.Error(t, archiveCmd.PreRunE(archiveCmd, []string{"000000010000000000000001"}))

	// One destination needs no state dir
	viper.Set(config.KeyArchiveDstLocal, []string{"/var/lib/wal-archive"})
	require.NoError(t, archiveCmd.PreRunE(archiveCmd, []string{"000000010000000000000001"}))

	// Two destinations without a state dir are refused
	viper.Set(config.KeyArchiveDstRemote, []string{"standby:/wal"})
	viper.Set(config.KeyArchiveStateDir, "")
	require.Error(t, archiveCmd.PreRunE(archiveCmd, []string{"000000010000000000000001"}))

	viper.Set(config.KeyArchiveStateDir, t.TempDir())
	require.NoError(t, archiveCmd.PreRunE(archiveCmd, []string{"000000010000000000000001"}))
}
