package config

import (
	"fmt"
	"strings"

	cgm "github.com/circonus-labs/circonus-gometrics"
	"github.com/jackc/pgx"
	"github.com/omniti-labs/omnipitr/buildtime"
	"github.com/omniti-labs/omnipitr/compress"
	"github.com/spf13/cast"
	"github.com/spf13/viper"
)

type (
	DBPool  = pgx.ConnPoolConfig
	Metrics = cgm.Config
)

type Config struct {
	DBPool
	*Metrics
}

// LogFormat selects how log records are rendered.
type LogFormat uint

const (
	LogFormatAuto LogFormat = iota
	LogFormatZerolog
	LogFormatHuman
	LogFormatBunyan
)

func (f LogFormat) String() string {
	switch f {
	case LogFormatAuto:
		return "auto"
	case LogFormatZerolog:
		return "zerolog"
	case LogFormatHuman:
		return "human"
	case LogFormatBunyan:
		return "bunyan"
	default:
		panic(fmt.Sprintf("unknown log format: %d", uint(f)))
	}
}

// LogFormatParse maps a --log-format value onto a LogFormat.
func LogFormatParse(in string) (LogFormat, error) {
	switch strings.ToLower(in) {
	case "auto":
		return LogFormatAuto, nil
	case "zerolog", "json":
		return LogFormatZerolog, nil
	case "human":
		return LogFormatHuman, nil
	case "bunyan":
		return LogFormatBunyan, nil
	default:
		return LogFormatAuto, fmt.Errorf("unsupported log format: %q", in)
	}
}

// NewDefault materializes the connection-pool and metrics configuration from
// viper.
func NewDefault() Config {
	cmc := &cgm.Config{}
	if viper.GetBool(KeyCirconusEnabled) {
		cmc.Interval = "10s"
		cmc.Debug = IsDebug()
		cmc.ResetCounters = "false"
		cmc.ResetGauges = "true"
		cmc.ResetHistograms = "true"
		cmc.ResetText = "true"

		cmc.CheckManager.API.TokenKey = viper.GetString(KeyCirconusAPIToken)
		cmc.CheckManager.API.TokenApp = buildtime.PROGNAME
		cmc.CheckManager.API.URL = viper.GetString(KeyCirconusAPIURL)

		cmc.CheckManager.Check.SubmissionURL = viper.GetString(KeyCirconusCheckSubmissionURL)
		cmc.CheckManager.Check.ID = viper.GetString(KeyCirconusCheckID)
		cmc.CheckManager.Check.InstanceID = viper.GetString(KeyCirconusCheckInstanceID)
		cmc.CheckManager.Check.SearchTag = viper.GetString(KeyCirconusCheckSearchTag)
	}

	var pgxLogLevel pgx.LogLevel = pgx.LogLevelInfo
	switch logLevel := strings.ToUpper(viper.GetString(KeyLogLevel)); logLevel {
	case "FATAL":
		pgxLogLevel = pgx.LogLevelNone
	case "ERROR":
		pgxLogLevel = pgx.LogLevelError
	case "WARN":
		pgxLogLevel = pgx.LogLevelWarn
	case "INFO":
		pgxLogLevel = pgx.LogLevelInfo
	case "DEBUG":
		pgxLogLevel = pgx.LogLevelDebug
	default:
		panic(fmt.Sprintf("unsupported log level: %q", logLevel))
	}

	return Config{
		DBPool: pgx.ConnPoolConfig{
			AcquireTimeout: 0,
			MaxConnections: 2,

			ConnConfig: pgx.ConnConfig{
				Database: viper.GetString(KeyPGDatabase),
				User:     viper.GetString(KeyPGUser),
				Password: viper.GetString(KeyPGPassword),
				Host:     viper.GetString(KeyPGHost),
				Port:     cast.ToUint16(viper.GetInt(KeyPGPort)),
				LogLevel: pgxLogLevel,
				RuntimeParams: map[string]string{
					"application_name": buildtime.PROGNAME,
				},
			},
		},
		Metrics: cmc,
	}
}

// CompressPaths materializes the external compressor configuration from
// viper.
func CompressPaths() compress.Paths {
	return compress.Paths{
		Gzip:    viper.GetString(KeyGzipPath),
		Bzip2:   viper.GetString(KeyBzip2Path),
		Lzma:    viper.GetString(KeyLzmaPath),
		Nice:    viper.GetString(KeyNicePath),
		NotNice: viper.GetBool(KeyNotNice),
	}
}

// IsDebug returns true when the process is configured for debug level
func IsDebug() bool {
	switch logLevel := strings.ToUpper(viper.GetString(KeyLogLevel)); logLevel {
	case "DEBUG":
		return true
	default:
		return false
	}
}

// ValidStringArg takes a viper key and a list of valid args.  If the key is
// not valid, return an error.
func ValidStringArg(argname string, validArgs []string) error {
	argMap := make(map[string]struct{}, len(validArgs))
	for _, a := range validArgs {
		argMap[a] = struct{}{}
	}

	if _, found := argMap[viper.GetString(argname)]; !found {
		return fmt.Errorf("invalid %s (HINT: valid args: %q)", argname, strings.Join(validArgs, ", "))
	}

	return nil
}
