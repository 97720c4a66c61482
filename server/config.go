// Copyright (c) 2013-2017 The btcsuite developers
// Copyright (c) 2015-2016 The Decred developers
// Copyright (c) 2017-2023 The Spacemesh developers

package server

import (
	"context"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strings"
	"time"

	"github.com/jessevdk/go-flags"
	"go.uber.org/zap/zapcore"

	"github.com/spacemeshos/pose/logging"
	"github.com/spacemeshos/pose/service"
)

const (
	defaultDbDirName      = "db"
	defaultDataDirname    = "data"
	defaultLogDirname     = "logs"
	defaultLogFilename    = "posed.log"
	defaultQuotaLogName   = "quota.log"
	defaultNonceLogName   = "nonces.log"
	defaultMaxLogFiles    = 3
	defaultMaxLogFileSize = 10
	defaultRESTPort       = 8080
	defaultSweepInterval  = time.Second
)

// Config defines the configuration options for posed.
//
// See loadConfig for further details regarding the
// configuration loading+parsing process.
//
//nolint:lll
type Config struct {
	PoseDir         string        `long:"posedir"        description:"The base directory that contains posed's data, logs, configuration file, etc."`
	ConfigFile      string        `long:"configfile"     description:"Path to configuration file"                                                      short:"c"`
	DataDir         string        `long:"datadir"        description:"The directory to store posed's data within."                                     short:"b"`
	DbDir           string        `long:"dbdir"          description:"The directory to store DBs within"`
	LogDir          string        `long:"logdir"         description:"Directory to log output."`
	DebugLog        bool          `long:"debuglog"       description:"Enable debug logs"`
	JSONLog         bool          `long:"jsonlog"        description:"Whether to log in JSON format"`
	MaxLogFiles     int           `long:"maxlogfiles"    description:"Maximum logfiles to keep (0 for no rotation)"`
	MaxLogFileSize  int           `long:"maxlogfilesize" description:"Maximum logfile size in MB"`
	RawRESTListener string        `long:"restlisten"     description:"The interface/port/socket to listen for REST connections"                        short:"w"`
	SweepInterval   time.Duration `long:"sweep-interval" description:"How often unanswered challenges are checked against their deadline (0 disables)"`
	CPUProfile      string        `long:"cpuprofile"     description:"Write CPU profile to the specified file"`
	Profile         string        `long:"profile"        description:"Enable HTTP profiling on given port -- must be between 1024 and 65535"`

	Service service.Config `group:"Service"`
}

// DefaultConfig returns a config with default hardcoded values.
func DefaultConfig() *Config {
	poseDir := "./pose"
	cacheDir, err := os.UserCacheDir()
	if err == nil {
		poseDir = filepath.Join(cacheDir, "pose")
	}

	cfg := &Config{
		PoseDir:         poseDir,
		DataDir:         filepath.Join(poseDir, defaultDataDirname),
		DbDir:           filepath.Join(poseDir, defaultDbDirName),
		LogDir:          filepath.Join(poseDir, defaultLogDirname),
		MaxLogFiles:     defaultMaxLogFiles,
		MaxLogFileSize:  defaultMaxLogFileSize,
		RawRESTListener: fmt.Sprintf("localhost:%d", defaultRESTPort),
		SweepInterval:   defaultSweepInterval,
		Service:         service.DefaultConfig(),
	}
	cfg.Service.Challenge.QuotaLog = filepath.Join(cfg.DataDir, defaultQuotaLogName)
	cfg.Service.Receipt.NonceLog = filepath.Join(cfg.DataDir, defaultNonceLogName)
	return cfg
}

// ParseFlags reads values from command line arguments.
func ParseFlags(preCfg *Config) (*Config, error) {
	if _, err := flags.Parse(preCfg); err != nil {
		return nil, err
	}
	return preCfg, nil
}

// ReadConfigFile reads config from an ini file.
// It uses the provided `cfg` as a base config and overrides it with the values
// from the config file.
func ReadConfigFile(cfg *Config) (*Config, error) {
	if cfg.ConfigFile == "" {
		return cfg, nil
	}
	logging.FromContext(context.Background()).Sugar().Debugf("reading config from %s", cfg.ConfigFile)
	if err := flags.IniParse(cfg.ConfigFile, cfg); err != nil {
		return nil, fmt.Errorf("failed to read config from %v: %w", cfg.ConfigFile, err)
	}

	return cfg, nil
}

// SetupConfig expands paths, validates the service settings and initializes
// the filesystem.
func SetupConfig(cfg *Config) (*Config, error) {
	// If the provided pose directory is not the default, we'll modify the
	// path to all of the files and directories that will live within it.
	defaultCfg := DefaultConfig()
	if cfg.PoseDir != defaultCfg.PoseDir {
		if cfg.DataDir == defaultCfg.DataDir {
			cfg.DataDir = filepath.Join(cfg.PoseDir, defaultDataDirname)
		}
		if cfg.LogDir == defaultCfg.LogDir {
			cfg.LogDir = filepath.Join(cfg.PoseDir, defaultLogDirname)
		}
		if cfg.DbDir == defaultCfg.DbDir {
			cfg.DbDir = filepath.Join(cfg.PoseDir, defaultDbDirName)
		}
	}
	if cfg.DataDir != defaultCfg.DataDir {
		if cfg.Service.Challenge.QuotaLog == defaultCfg.Service.Challenge.QuotaLog {
			cfg.Service.Challenge.QuotaLog = filepath.Join(cfg.DataDir, defaultQuotaLogName)
		}
		if cfg.Service.Receipt.NonceLog == defaultCfg.Service.Receipt.NonceLog {
			cfg.Service.Receipt.NonceLog = filepath.Join(cfg.DataDir, defaultNonceLogName)
		}
	}

	if err := cfg.Service.Validate(); err != nil {
		return nil, err
	}

	// As soon as we're done parsing configuration options, ensure all paths
	// to directories and files are cleaned and expanded before attempting
	// to use them later on.
	cfg.PoseDir = cleanAndExpandPath(cfg.PoseDir)
	cfg.DataDir = cleanAndExpandPath(cfg.DataDir)
	cfg.DbDir = cleanAndExpandPath(cfg.DbDir)
	cfg.LogDir = cleanAndExpandPath(cfg.LogDir)
	cfg.Service.Challenge.QuotaLog = cleanAndExpandPath(cfg.Service.Challenge.QuotaLog)
	cfg.Service.Receipt.NonceLog = cleanAndExpandPath(cfg.Service.Receipt.NonceLog)

	for _, dir := range []string{cfg.PoseDir, cfg.DataDir, cfg.DbDir} {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("failed to create %v: %w", dir, err)
		}
	}

	return cfg, nil
}

// LogFile is the path of the rotated log file, empty when logging to a file
// is disabled.
func (c *Config) LogFile() string {
	if c.LogDir == "" {
		return ""
	}
	return filepath.Join(c.LogDir, defaultLogFilename)
}

// cleanAndExpandPath expands environment variables and leading ~ in the
// passed path, cleans the result, and returns it.
// This function is taken from https://github.com/btcsuite/btcd
func cleanAndExpandPath(path string) string {
	if path == "" {
		return ""
	}

	// Expand initial ~ to OS specific home directory.
	if strings.HasPrefix(path, "~") {
		var homeDir string
		user, err := user.Current()
		if err == nil {
			homeDir = user.HomeDir
		} else {
			homeDir = os.Getenv("HOME")
		}

		path = strings.Replace(path, "~", homeDir, 1)
	}

	// NOTE: The os.ExpandEnv doesn't work with Windows-style %VARIABLE%,
	// but the variables can still be expanded via POSIX-style $VARIABLE.
	return filepath.Clean(os.ExpandEnv(path))
}

// implement zap.ObjectMarshaler interface.
func (c *Config) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("posedir", c.PoseDir)
	enc.AddString("datadir", c.DataDir)
	enc.AddString("dbdir", c.DbDir)
	enc.AddString("logdir", c.LogDir)
	enc.AddString("restlisten", c.RawRESTListener)
	enc.AddDuration("sweep-interval", c.SweepInterval)
	return enc.AddObject("service", c.Service)
}
