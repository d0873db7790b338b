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
	"os"

	"github.com/omniti-labs/omnipitr/archive"
	"github.com/omniti-labs/omnipitr/backup"
	"github.com/omniti-labs/omnipitr/compress"
	"github.com/omniti-labs/omnipitr/config"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// registerBackupFlags declares the flag surface shared by backup-master and
// backup-slave.  Binding into viper happens per-command in PreRunE (both
// commands carry the same flag names; only the one actually executing may
// own the viper keys).
func registerBackupFlags(c *cobra.Command) {
	c.Flags().StringArray("dst-local", nil, "Local destination directory ([CMP=]path); repeatable")
	c.Flags().StringArray("dst-remote", nil, "Remote rsync destination ([CMP=][user@]host:/path); repeatable")
	c.Flags().StringArray("dst-pipe", nil, "Program receiving each artifact on stdin ([CMP=]program); repeatable")
	c.Flags().StringArray("dst-direct", nil, "In-stream SSH destination ([CMP=][user@]host:/path); repeatable")
	c.Flags().String("temp-dir", os.TempDir(), "Directory artifacts are staged in before delivery")
	c.Flags().Int("parallel-jobs", 1, "Maximum concurrent destination transfers")
	c.Flags().String("filename-template", backup.DefaultTemplate().String(),
		"Artifact filename template (__HOSTNAME__, __FILETYPE__, __CEXT__, ^x strftime escapes)")
	c.Flags().StringSlice("digest", nil, "Digest algorithms to compute in-stream (md5, sha1, sha256, ...)")
	c.Flags().Bool("skip-xlogs", false, "Skip the xlog archive")
}

// bindBackupFlags points the shared viper keys at the executing command's
// flag set.
func bindBackupFlags(c *cobra.Command) {
	for key, longName := range map[string]string{
		config.KeyBackupDstLocal:  "dst-local",
		config.KeyBackupDstRemote: "dst-remote",
		config.KeyBackupDstPipe:   "dst-pipe",
		config.KeyBackupDstDirect: "dst-direct",
		config.KeyBackupTempDir:   "temp-dir",
		config.KeyBackupParallel:  "parallel-jobs",
		config.KeyBackupTemplate:  "filename-template",
		config.KeyBackupDigests:   "digest",
		config.KeyBackupSkipXlogs: "skip-xlogs",
	} {
		viper.BindPFlag(key, c.Flags().Lookup(longName))
	}
}

// buildBackupEngine assembles the shared engine from viper.
func buildBackupEngine() (*backup.Engine, error) {
	var dests []archive.Destination
	for _, spec := range []struct {
		kind archive.Kind
		key  string
	}{
		{kind: archive.Local, key: config.KeyBackupDstLocal},
		{kind: archive.Remote, key: config.KeyBackupDstRemote},
		{kind: archive.Pipe, key: config.KeyBackupDstPipe},
		{kind: archive.Direct, key: config.KeyBackupDstDirect},
	} {
		parsed, err := archive.ParseDestinations(spec.kind, viper.GetStringSlice(spec.key))
		if err != nil {
			return nil, err
		}
		dests = append(dests, parsed...)
	}
	if len(dests) == 0 {
		return nil, errors.New("at least one destination is required")
	}

	// One artifact set per compression the destinations ask for.
	seen := make(map[compress.Compression]struct{})
	var compressions []compress.Compression
	for _, d := range dests {
		if _, found := seen[d.Compression]; found {
			continue
		}
		seen[d.Compression] = struct{}{}
		compressions = append(compressions, d.Compression)
	}

	tmpl, err := backup.NewTemplate(viper.GetString(config.KeyBackupTemplate))
	if err != nil {
		return nil, err
	}

	for _, algo := range viper.GetStringSlice(config.KeyBackupDigests) {
		if _, err := backup.DigestArgv(algo); err != nil {
			return nil, err
		}
	}

	hostname, err := os.Hostname()
	if err != nil {
		return nil, errors.Wrap(err, "unable to determine the hostname")
	}

	if viper.GetInt(config.KeyBackupParallel) < 1 {
		return nil, errors.New("--parallel-jobs must be at least 1")
	}

	metrics, err := newMetrics(config.NewDefault())
	if err != nil {
		return nil, err
	}

	return &backup.Engine{
		DataDir:       viper.GetString(config.KeyPGData),
		TempDir:       viper.GetString(config.KeyBackupTempDir),
		Hostname:      hostname,
		Template:      tmpl,
		Compressions:  compressions,
		Digests:       viper.GetStringSlice(config.KeyBackupDigests),
		Destinations:  dests,
		ParallelJobs:  viper.GetInt(config.KeyBackupParallel),
		SkipXlogs:     viper.GetBool(config.KeyBackupSkipXlogs),
		TarPath:       viper.GetString(config.KeyTarPath),
		TeePath:       viper.GetString(config.KeyTeePath),
		ShellPath:     viper.GetString(config.KeyShellPath),
		SSHPath:       viper.GetString(config.KeySSHPath),
		RemoteCatPath: viper.GetString(config.KeyRemoteCat),
		RsyncPath:     viper.GetString(config.KeyRsyncPath),
		Compress:      config.CompressPaths(),
		Metrics:       metrics,
	}, nil
}
