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
	_ "expvar"
	"fmt"
	"io"
	stdlog "log"
	"net/http"
	"os"
	"strings"

	"github.com/google/gops/agent"
	isatty "github.com/mattn/go-isatty"
	"github.com/omniti-labs/omnipitr/buildtime"
	"github.com/omniti-labs/omnipitr/config"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// CLI flags
var (
	cfgFile string
)

// RootCmd represents the base command when called without any subcommands
var RootCmd = &cobra.Command{
	Use:   buildtime.PROGNAME,
	Short: buildtime.PROGNAME + ` archives, backs up, and restores PostgreSQL WAL`,
	Long: `
OmniPITR turns a PostgreSQL server's WAL stream plus periodic base backups
into a durable, distributed archive from which any prior database state can
be reconstructed.

archive(1)-style operation plugs into archive_command and fans every
finished segment out to any number of local, remote, and pipe destinations,
compressed as requested, with exactly-once delivery across retries.
backup-master and backup-slave build tar base backups on a primary or a hot
standby; restore is the restore_command side, with delivery delays, finish
triggers, and archive retention built in.

`,

	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Re-initialize logging with user-supplied configuration parameters
		{
			// os.Stdout isn't guaranteed to be thread-safe, wrap in a sync
			// writer.  Files are guaranteed to be safe, terminals are not.
			var logWriter io.Writer
			if logFile := viper.GetString(config.KeyLogFile); logFile != "" {
				// Append-only, flushed per record, so concurrent invocations
				// interleave line-safe.
				f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
				if err != nil {
					return errors.Wrapf(err, "unable to open log file %q", logFile)
				}
				logWriter = f
			} else if isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd()) {
				logWriter = zerolog.SyncWriter(os.Stdout)
			} else {
				logWriter = os.Stdout
			}

			logFmt, err := config.LogFormatParse(viper.GetString(config.KeyLogFormat))
			if err != nil {
				return errors.Wrap(err, "unable to parse log format")
			}

			if logFmt == config.LogFormatAuto {
				if viper.GetString(config.KeyLogFile) == "" &&
					(isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())) {
					logFmt = config.LogFormatHuman
				} else {
					logFmt = config.LogFormatZerolog
				}
			}

			var zlog zerolog.Logger
			switch logFmt {
			case config.LogFormatZerolog:
				zlog = zerolog.New(logWriter).With().Timestamp().Logger()
			case config.LogFormatBunyan:
				hostname, err := os.Hostname()
				switch {
				case err != nil:
					return errors.Wrap(err, "unable to determine the hostname")
				case hostname == "":
					return fmt.Errorf("unable to use bunyan logging with an empty hostname")
				}

				zerolog.LevelFieldName = "l"
				zerolog.TimeFieldFormat = config.LogTimeFormatBunyan
				zerolog.TimestampFieldName = "time"
				zerolog.MessageFieldName = "msg"

				zlog = zerolog.New(logWriter).With().
					Timestamp().
					Str("v", "0"). // Bunyan version
					Str("name", buildtime.PROGNAME).
					Str("hostname", hostname).
					Int("pid", os.Getpid()).
					Logger()
			case config.LogFormatHuman:
				useColor := viper.GetBool(config.KeyUseColor)
				w := zerolog.ConsoleWriter{
					Out:     logWriter,
					NoColor: !useColor,
				}
				zlog = zerolog.New(w).With().Timestamp().Logger()
			default:
				return fmt.Errorf("unsupported log format: %q", logFmt.String())
			}

			log.Logger = zlog

			stdlog.SetFlags(0)
			stdlog.SetOutput(zlog)
		}

		// Perform input validation

		logLevel := strings.ToUpper(viper.GetString(config.KeyLogLevel))
		if viper.GetBool(config.KeyVerbose) {
			logLevel = "DEBUG"
		}
		switch logLevel {
		case "DEBUG":
			zerolog.SetGlobalLevel(zerolog.DebugLevel)
		case "INFO":
			zerolog.SetGlobalLevel(zerolog.InfoLevel)
		case "WARN":
			zerolog.SetGlobalLevel(zerolog.WarnLevel)
		case "ERROR":
			zerolog.SetGlobalLevel(zerolog.ErrorLevel)
		case "FATAL":
			zerolog.SetGlobalLevel(zerolog.FatalLevel)
		default:
			return fmt.Errorf("unsupported error level: %q (supported levels: %s)", logLevel,
				strings.Join([]string{"DEBUG", "INFO", "WARN", "ERROR", "FATAL"}, " "))
		}

		go func() {
			if !viper.GetBool(config.KeyGopsAgentEnable) {
				return
			}

			log.Debug().Msg("starting gops(1) agent")
			if err := agent.Listen(agent.Options{}); err != nil {
				log.Error().Err(err).Msg("unable to start the gops(1) agent thread")
			}
		}()

		go func() {
			if !viper.GetBool(config.KeyPProfEnable) {
				return
			}

			pprofPort := viper.GetInt(config.KeyPProfPort)
			log.Debug().Int("pprof-port", pprofPort).Msg("starting pprof endpoint")
			if err := http.ListenAndServe(fmt.Sprintf("localhost:%d", pprofPort), nil); err != nil {
				log.Error().Err(err).Msg("unable to start the pprof listener")
			}
		}()

		return nil
	},
}

func Execute() {
	if err := RootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	zerolog.TimeFieldFormat = config.LogTimeFormat
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	// os.Stderr isn't guaranteed to be thread-safe, wrap in a sync writer.
	// Files are guaranteed to be safe, terminals are not.
	zlog := zerolog.New(zerolog.SyncWriter(os.Stderr)).With().Timestamp().Logger()
	log.Logger = zlog

	stdlog.SetFlags(0)
	stdlog.SetOutput(zlog)

	RootCmd.PersistentFlags().StringVar(&cfgFile, "config", buildtime.PROGNAME+`.toml`, "config file")

	{
		const (
			key          = config.KeyLogLevel
			longName     = "log-level"
			shortName    = "l"
			defaultValue = "INFO"
			description  = "Log level"
		)

		RootCmd.PersistentFlags().StringP(longName, shortName, defaultValue, description)
		viper.BindPFlag(key, RootCmd.PersistentFlags().Lookup(longName))
		viper.SetDefault(key, defaultValue)
	}

	{
		const (
			key         = config.KeyLogFormat
			longName    = "log-format"
			shortName   = "F"
			description = `Specify the log format ("auto", "zerolog", "human", or "bunyan")`
		)

		defaultValue := config.LogFormatAuto.String()
		RootCmd.PersistentFlags().StringP(longName, shortName, defaultValue, description)
		viper.BindPFlag(key, RootCmd.PersistentFlags().Lookup(longName))
		viper.SetDefault(key, defaultValue)
	}

	{
		const (
			key          = config.KeyLogFile
			longName     = "log"
			shortName    = ""
			defaultValue = ""
			description  = "Append log records to this file instead of stdout"
		)

		RootCmd.PersistentFlags().StringP(longName, shortName, defaultValue, description)
		viper.BindPFlag(key, RootCmd.PersistentFlags().Lookup(longName))
		viper.SetDefault(key, defaultValue)
	}

	{
		const (
			key          = config.KeyVerbose
			longName     = "verbose"
			shortName    = "v"
			defaultValue = false
			description  = "Log at DEBUG level"
		)

		RootCmd.PersistentFlags().BoolP(longName, shortName, defaultValue, description)
		viper.BindPFlag(key, RootCmd.PersistentFlags().Lookup(longName))
		viper.SetDefault(key, defaultValue)
	}

	{
		const (
			key         = config.KeyUseColor
			longName    = "use-color"
			shortName   = "C"
			description = "Use ASCII colors"
		)

		defaultValue := false
		if isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd()) {
			defaultValue = true
		}

		RootCmd.PersistentFlags().BoolP(longName, shortName, defaultValue, description)
		viper.BindPFlag(key, RootCmd.PersistentFlags().Lookup(longName))
		viper.SetDefault(key, defaultValue)
	}

	{
		const (
			key          = config.KeyPGData
			longName     = "data-dir"
			shortName    = "D"
			defaultValue = "."
			envVar       = "PGDATA"
			description  = "Path to PGDATA"
		)

		RootCmd.PersistentFlags().StringP(longName, shortName, defaultValue, description)
		viper.BindPFlag(key, RootCmd.PersistentFlags().Lookup(longName))
		viper.BindEnv(key, envVar)
		viper.SetDefault(key, defaultValue)
	}

	{
		const (
			key          = config.KeyPGHost
			longName     = "host"
			shortName    = "H"
			defaultValue = "/tmp"
			envVar       = "PGHOST"
			description  = "Hostname to connect to PostgreSQL"
		)

		RootCmd.PersistentFlags().StringP(longName, shortName, defaultValue, description)
		viper.BindPFlag(key, RootCmd.PersistentFlags().Lookup(longName))
		viper.BindEnv(key, envVar)
		viper.SetDefault(key, defaultValue)
	}

	{
		const (
			key          = config.KeyPGPort
			longName     = "port"
			shortName    = "p"
			defaultValue = 5432
			envVar       = "PGPORT"
			description  = "Port to connect to PostgreSQL"
		)

		RootCmd.PersistentFlags().UintP(longName, shortName, defaultValue, description)
		viper.BindPFlag(key, RootCmd.PersistentFlags().Lookup(longName))
		viper.BindEnv(key, envVar)
		viper.SetDefault(key, defaultValue)
	}

	{
		const (
			key          = config.KeyPGDatabase
			longName     = "database"
			shortName    = "d"
			defaultValue = "postgres"
			envVar       = "PGDATABASE"
			description  = "Database name to connect to"
		)

		RootCmd.PersistentFlags().StringP(longName, shortName, defaultValue, description)
		viper.BindPFlag(key, RootCmd.PersistentFlags().Lookup(longName))
		viper.BindEnv(key, envVar)
		viper.SetDefault(key, defaultValue)
	}

	{
		const (
			key          = config.KeyPGUser
			longName     = "username"
			shortName    = "U"
			defaultValue = "postgres"
			envVar       = "PGUSER"
			description  = "Username to connect to PostgreSQL"
		)

		RootCmd.PersistentFlags().StringP(longName, shortName, defaultValue, description)
		viper.BindPFlag(key, RootCmd.PersistentFlags().Lookup(longName))
		viper.BindEnv(key, envVar)
		viper.SetDefault(key, defaultValue)
	}

	{
		const (
			key          = config.KeyPGPassword
			defaultValue = ""
			envVar       = "PGPASSWORD"
		)

		viper.BindEnv(key, envVar)
		viper.SetDefault(key, defaultValue)
	}

	// External tool paths shared by every subcommand
	for _, tool := range []struct {
		key          string
		longName     string
		defaultValue string
	}{
		{key: config.KeyGzipPath, longName: "gzip-path", defaultValue: "gzip"},
		{key: config.KeyBzip2Path, longName: "bzip2-path", defaultValue: "bzip2"},
		{key: config.KeyLzmaPath, longName: "lzma-path", defaultValue: "lzma"},
		{key: config.KeyNicePath, longName: "nice-path", defaultValue: "nice"},
		{key: config.KeyRsyncPath, longName: "rsync-path", defaultValue: "rsync"},
		{key: config.KeyTarPath, longName: "tar-path", defaultValue: "tar"},
		{key: config.KeyTeePath, longName: "tee-path", defaultValue: "tee"},
		{key: config.KeyShellPath, longName: "shell-path", defaultValue: "/bin/sh"},
		{key: config.KeySSHPath, longName: "ssh-path", defaultValue: "ssh"},
		{key: config.KeyRemoteCat, longName: "remote-cat-path", defaultValue: "cat"},
		{key: config.KeyPGControldata, longName: "pgcontroldata-path", defaultValue: "pg_controldata"},
	} {
		RootCmd.PersistentFlags().String(tool.longName, tool.defaultValue, "Path to "+tool.defaultValue+"(1)")
		viper.BindPFlag(tool.key, RootCmd.PersistentFlags().Lookup(tool.longName))
		viper.SetDefault(tool.key, tool.defaultValue)
	}

	{
		const (
			key          = config.KeyNotNice
			longName     = "not-nice"
			shortName    = ""
			defaultValue = false
			description  = "Do not wrap compressors and transfers in nice(1)"
		)

		RootCmd.PersistentFlags().BoolP(longName, shortName, defaultValue, description)
		viper.BindPFlag(key, RootCmd.PersistentFlags().Lookup(longName))
		viper.SetDefault(key, defaultValue)
	}

	{
		const (
			key          = config.KeyGopsAgentEnable
			longName     = "enable-agent"
			shortName    = ""
			defaultValue = false
			description  = "Enable the gops(1) agent interface"
		)

		RootCmd.PersistentFlags().BoolP(longName, shortName, defaultValue, description)
		viper.BindPFlag(key, RootCmd.PersistentFlags().Lookup(longName))
		viper.SetDefault(key, defaultValue)
	}

	{
		const (
			key          = config.KeyPProfEnable
			longName     = "enable-pprof"
			shortName    = ""
			defaultValue = false
			description  = "Enable the pprof endpoint interface"
		)

		RootCmd.PersistentFlags().BoolP(longName, shortName, defaultValue, description)
		viper.BindPFlag(key, RootCmd.PersistentFlags().Lookup(longName))
		viper.SetDefault(key, defaultValue)
	}

	{
		const (
			key          = config.KeyPProfPort
			longName     = "pprof-port"
			shortName    = ""
			defaultValue = 4242
			description  = "Specify the pprof port"
		)

		RootCmd.PersistentFlags().Uint16P(longName, shortName, defaultValue, description)
		viper.BindPFlag(key, RootCmd.PersistentFlags().Lookup(longName))
		viper.SetDefault(key, defaultValue)
	}

	{
		const (
			key          = config.KeyCirconusEnabled
			longName     = "circonus-enable-metrics"
			shortName    = ""
			defaultValue = false
			description  = "Enable Circonus metrics"
		)

		RootCmd.PersistentFlags().BoolP(longName, shortName, defaultValue, description)
		viper.BindPFlag(key, RootCmd.PersistentFlags().Lookup(longName))
		viper.SetDefault(key, defaultValue)
	}

	{
		const (
			key          = config.KeyCirconusAPIToken
			longName     = "circonus-api-key"
			shortName    = "a"
			defaultValue = ""
			envVar       = "CIRCONUS_API_TOKEN"
			description  = "Circonus API token"
		)

		RootCmd.PersistentFlags().StringP(longName, shortName, defaultValue, description)
		viper.BindPFlag(key, RootCmd.PersistentFlags().Lookup(longName))
		viper.BindEnv(key, envVar)
		viper.SetDefault(key, defaultValue)
	}

	{
		const (
			key          = config.KeyCirconusAPIURL
			longName     = "circonus-api-url"
			shortName    = ""
			defaultValue = "https://api.circonus.com/v2"
			envVar       = "CIRCONUS_API_URL"
			description  = "Circonus API URL"
		)

		RootCmd.PersistentFlags().StringP(longName, shortName, defaultValue, description)
		viper.BindPFlag(key, RootCmd.PersistentFlags().Lookup(longName))
		viper.BindEnv(key, envVar)
		viper.SetDefault(key, defaultValue)
	}

	{
		const (
			key          = config.KeyCirconusCheckID
			longName     = "circonus-check-id"
			shortName    = ""
			defaultValue = ""
			envVar       = "CIRCONUS_CHECK_ID"
			description  = "Circonus Check ID"
		)

		RootCmd.PersistentFlags().StringP(longName, shortName, defaultValue, description)
		viper.BindPFlag(key, RootCmd.PersistentFlags().Lookup(longName))
		viper.BindEnv(key, envVar)
		viper.SetDefault(key, defaultValue)
	}

	{
		const (
			key          = config.KeyCirconusCheckSubmissionURL
			longName     = "circonus-submission-url"
			shortName    = ""
			defaultValue = ""
			envVar       = "CIRCONUS_SUBMISSION_URL"
			description  = "Circonus Check Submission URL"
		)

		RootCmd.PersistentFlags().StringP(longName, shortName, defaultValue, description)
		viper.BindPFlag(key, RootCmd.PersistentFlags().Lookup(longName))
		viper.BindEnv(key, envVar)
		viper.SetDefault(key, defaultValue)
	}

	{
		const (
			key         = config.KeyCirconusCheckInstanceID
			longName    = "circonus-check-instance-id"
			shortName   = ""
			description = "Circonus Check Instance ID"
		)
		var defaultValue string
		if hostname, err := os.Hostname(); err == nil {
			defaultValue = fmt.Sprintf("%s:%s", hostname, buildtime.PROGNAME)
		}

		RootCmd.PersistentFlags().StringP(longName, shortName, defaultValue, description)
		viper.BindPFlag(key, RootCmd.PersistentFlags().Lookup(longName))
		viper.SetDefault(key, defaultValue)
	}

	{
		const (
			key         = config.KeyCirconusCheckSearchTag
			longName    = "circonus-check-search-tag"
			shortName   = ""
			description = "Circonus Check Search Tag"
		)
		var defaultValue string = `app:` + buildtime.PROGNAME
		if hostname, err := os.Hostname(); err == nil {
			defaultValue = fmt.Sprintf("%s,host:%s", defaultValue, hostname)
		}

		RootCmd.PersistentFlags().StringP(longName, shortName, defaultValue, description)
		viper.BindPFlag(key, RootCmd.PersistentFlags().Lookup(longName))
		viper.SetDefault(key, defaultValue)
	}
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	viper.SetConfigName(buildtime.PROGNAME)

	if cfgFile != "" {
		// Use config file from the flag.
		viper.SetConfigFile(cfgFile)
	} else {
		d, err := os.Getwd()
		if err != nil {
			log.Warn().Err(err).Msg("unable to find the current working directory")
		} else {
			viper.AddConfigPath(d)
		}
	}

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err != nil {
		log.Debug().Err(err).Msg("no config file read")
	}
}
