package config

const (
	KeyLogLevel  = "log.level"
	KeyLogFormat = "log.format"
	KeyLogFile   = "log.file"
	KeyUseColor  = "log.use-color"
	KeyVerbose   = "log.verbose"

	KeyPGData         = "postgresql.pgdata"
	KeyPGDatabase     = "postgresql.database"
	KeyPGHost         = "postgresql.host"
	KeyPGPassword     = "postgresql.password"
	KeyPGPort         = "postgresql.port"
	KeyPGUser         = "postgresql.user"
	KeyPGControldata  = "postgresql.pg_controldata-path"
	KeyPGPollInterval = "postgresql.poll-interval"

	KeyGzipPath  = "tools.gzip-path"
	KeyBzip2Path = "tools.bzip2-path"
	KeyLzmaPath  = "tools.lzma-path"
	KeyNicePath  = "tools.nice-path"
	KeyNotNice   = "tools.not-nice"
	KeyRsyncPath = "tools.rsync-path"
	KeyTarPath   = "tools.tar-path"
	KeyTeePath   = "tools.tee-path"
	KeyShellPath = "tools.shell-path"
	KeySSHPath   = "tools.ssh-path"
	KeyRemoteCat = "tools.remote-cat-path"

	KeyArchiveDstLocal    = "archive.dst-local"
	KeyArchiveDstRemote   = "archive.dst-remote"
	KeyArchiveDstPipe     = "archive.dst-pipe"
	KeyArchiveDstBackup   = "archive.dst-backup"
	KeyArchiveStateDir    = "archive.state-dir"
	KeyArchiveTempDir     = "archive.temp-dir"
	KeyArchiveParallel    = "archive.parallel-jobs"
	KeyArchiveForceData   = "archive.force-data-dir"
	KeyArchivePidFile     = "archive.pid-file"

	KeyBackupDstLocal    = "backup.dst-local"
	KeyBackupDstRemote   = "backup.dst-remote"
	KeyBackupDstPipe     = "backup.dst-pipe"
	KeyBackupDstDirect   = "backup.dst-direct"
	KeyBackupTempDir     = "backup.temp-dir"
	KeyBackupParallel    = "backup.parallel-jobs"
	KeyBackupTemplate    = "backup.filename-template"
	KeyBackupDigests     = "backup.digest"
	KeyBackupSkipXlogs   = "backup.skip-xlogs"
	KeyBackupXlogsDir    = "backup.xlogs"
	KeyBackupSource      = "backup.source"
	KeyBackupPauseFile   = "backup.removal-pause-trigger"
	KeyBackupCallMaster  = "backup.call-master"

	KeyRestoreSource       = "restore.source"
	KeyRestoreDelay        = "restore.recovery-delay"
	KeyRestoreFinishFile   = "restore.finish-trigger"
	KeyRestorePauseFile    = "restore.removal-pause-trigger"
	KeyRestorePreRemoval   = "restore.pre-removal-processing"
	KeyRestoreRemoveAtOnce = "restore.remove-at-a-time"
	KeyRestoreRemoveBound  = "restore.remove-unneeded"
	KeyRestoreRemoveFirst  = "restore.remove-before"
	KeyRestoreStreamingRep = "restore.streaming-replication"
	KeyRestoreErrorCtrl    = "restore.error-pgcontroldata"
	KeyRestoreTempDir      = "restore.temp-dir"
	KeyRestorePidFile      = "restore.pid-file"

	KeyGopsAgentEnable = "debug.gops-agent"
	KeyPProfEnable     = "debug.pprof"
	KeyPProfPort       = "debug.pprof-port"

	KeyCirconusAPIToken         = "circonus.api.token"
	KeyCirconusAPIURL           = "circonus.api.url"
	KeyCirconusCheckID          = "circonus.check.id"
	KeyCirconusCheckInstanceID  = "circonus.check.instance_id"
	KeyCirconusCheckSearchTag   = "circonus.check.search_tag"
	KeyCirconusCheckSubmissionURL = "circonus.check.submission_url"
	KeyCirconusDebug            = "circonus.debug"
	KeyCirconusEnabled          = "circonus.enabled"
)

const (
	// Use a log format that resembles time.RFC3339Nano but includes all
	// trailing zeros so that we get fixed-width logging.
	LogTimeFormat = "2006-01-02T15:04:05.000000000Z07:00"

	LogTimeFormatBunyan = "2006-01-02T15:04:05.000Z07:00"
)
