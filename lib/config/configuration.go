/*
Copyright 2025 VISIBLE

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package config loads visibled configuration from the YAML file, the
// environment, and the command line, later layers override earlier
// ones, and applies it to the service runtime config.
package config

import (
	"os"
	"strings"

	"github.com/gravitational/trace"
	log "github.com/sirupsen/logrus"

	"github.com/imrandevop/VISIBLE-sub000/lib/defaults"
	"github.com/imrandevop/VISIBLE-sub000/lib/service"
)

// Environment overrides. Each maps onto one FileConfig field so
// containerized deployments can run without a config file at all.
const (
	// EnvConfigString carries a whole base64 encoded YAML config.
	EnvConfigString = "VISIBLE_CONFIG"
	// EnvDBDSN overrides storage.dsn and implies mysql.
	EnvDBDSN = "VISIBLE_DB_DSN"
	// EnvFCMCredentialsFile overrides push.credentials_file.
	EnvFCMCredentialsFile = "VISIBLE_FCM_CREDENTIALS_FILE"
	// EnvTokenSigningKey overrides auth.token_signing_key.
	EnvTokenSigningKey = "VISIBLE_TOKEN_SIGNING_KEY"
	// EnvListenAddr overrides visible.listen_addr.
	EnvListenAddr = "VISIBLE_LISTEN_ADDR"
	// EnvDiagAddr overrides visible.diag_addr.
	EnvDiagAddr = "VISIBLE_DIAG_ADDR"
	// EnvLogSeverity overrides visible.log.severity.
	EnvLogSeverity = "VISIBLE_LOG_SEVERITY"
)

// CommandLineFlags holds the parsed visibled command line.
type CommandLineFlags struct {
	// --config flag
	ConfigFile string
	// ConfigString is a base64 encoded configuration, set by
	// --config-string or the VISIBLE_CONFIG environment variable.
	ConfigString string
	// --listen-addr flag
	ListenAddr string
	// --diag-addr flag
	DiagAddr string
	// -d flag
	Debug bool
	// --insecure-no-push flag, runs without FCM credentials
	InsecureNoPush bool
}

// ReadConfigFile loads /etc/visible.yaml or whatever was passed with
// --config. A missing default path is fine, a missing explicit path is
// an error.
func ReadConfigFile(cliConfigPath string) (*FileConfig, error) {
	configFilePath := defaults.ConfigFilePath
	if cliConfigPath != "" {
		configFilePath = cliConfigPath
		if !fileExists(configFilePath) {
			return nil, trace.NotFound("config file %v is not found", configFilePath)
		}
	}
	if !fileExists(configFilePath) {
		log.Debug("Not using a config file.")
		return nil, nil
	}
	log.WithField("path", configFilePath).Debug("Reading the config file.")
	return ReadFromFile(configFilePath)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// Configure merges the configuration layers onto cfg. Order: config
// file, then environment overrides, then command line flags.
func Configure(clf *CommandLineFlags, cfg *service.Config) error {
	fileConf, err := ReadConfigFile(clf.ConfigFile)
	if err != nil {
		return trace.Wrap(err)
	}
	if clf.ConfigString != "" {
		fileConf, err = ReadFromString(clf.ConfigString)
		if err != nil {
			return trace.Wrap(err)
		}
	}
	if fileConf == nil {
		fileConf = &FileConfig{}
	}
	applyEnvOverrides(fileConf)

	if err := ApplyFileConfig(fileConf, cfg); err != nil {
		return trace.Wrap(err)
	}

	applyString(clf.ListenAddr, &cfg.ListenAddr)
	applyString(clf.DiagAddr, &cfg.DiagAddr)
	if clf.InsecureNoPush {
		cfg.Push.Disabled = true
	}
	if clf.Debug {
		log.SetLevel(log.DebugLevel)
	}
	return nil
}

// ApplyFileConfig applies the parsed YAML onto the runtime config.
func ApplyFileConfig(fc *FileConfig, cfg *service.Config) error {
	if fc == nil {
		return nil
	}
	if err := applyLogConfig(fc.Log, log.StandardLogger()); err != nil {
		return trace.Wrap(err)
	}
	applyString(fc.ListenAddr, &cfg.ListenAddr)
	applyString(fc.DiagAddr, &cfg.DiagAddr)

	applyString(fc.Storage.Type, &cfg.Storage.Type)
	applyString(fc.Storage.DSN, &cfg.Storage.DSN)
	if fc.Storage.MaxOpenConns != 0 {
		cfg.Storage.MaxOpenConns = fc.Storage.MaxOpenConns
	}

	if fc.Auth.TokenSigningKey != "" {
		cfg.Auth.TokenSigningKey = []byte(fc.Auth.TokenSigningKey)
	}
	applyString(fc.Auth.SMSRegion, &cfg.Auth.SMSRegion)

	if fc.Push.Disabled {
		cfg.Push.Disabled = true
	}
	applyString(fc.Push.CredentialsFile, &cfg.Push.CredentialsFile)
	if fc.Push.Credentials != "" {
		cfg.Push.CredentialsJSON = []byte(fc.Push.Credentials)
	}
	return nil
}

func applyLogConfig(loggerConfig Log, logger *log.Logger) error {
	switch loggerConfig.Output {
	case "":
		break // not set
	case "stderr", "error", "2":
		logger.SetOutput(os.Stderr)
	case "stdout", "out", "1":
		logger.SetOutput(os.Stdout)
	default:
		// assume it's a file path
		logFile, err := os.Create(loggerConfig.Output)
		if err != nil {
			return trace.Wrap(err, "failed to create the log file")
		}
		logger.SetOutput(logFile)
	}
	switch strings.ToLower(loggerConfig.Severity) {
	case "":
		break // not set
	case "info":
		logger.SetLevel(log.InfoLevel)
	case "err", "error":
		logger.SetLevel(log.ErrorLevel)
	case "debug":
		logger.SetLevel(log.DebugLevel)
	case "warn", "warning":
		logger.SetLevel(log.WarnLevel)
	default:
		return trace.BadParameter("unsupported logger severity: %q", loggerConfig.Severity)
	}
	return nil
}

// applyEnvOverrides folds the VISIBLE_* environment variables into the
// file config before it is applied, so the precedence stays file, then
// environment, then flags.
func applyEnvOverrides(fc *FileConfig) {
	if dsn := os.Getenv(EnvDBDSN); dsn != "" {
		fc.Storage.DSN = dsn
		if fc.Storage.Type == "" {
			fc.Storage.Type = service.StorageMySQL
		}
	}
	if path := os.Getenv(EnvFCMCredentialsFile); path != "" {
		fc.Push.CredentialsFile = path
	}
	if key := os.Getenv(EnvTokenSigningKey); key != "" {
		fc.Auth.TokenSigningKey = key
	}
	if addr := os.Getenv(EnvListenAddr); addr != "" {
		fc.ListenAddr = addr
	}
	if addr := os.Getenv(EnvDiagAddr); addr != "" {
		fc.DiagAddr = addr
	}
	if severity := os.Getenv(EnvLogSeverity); severity != "" {
		fc.Log.Severity = severity
	}
}

// applyString takes 'src' and overwrites target with it, if 'src' is
// not empty. Returns 'True' if 'src' was not empty.
func applyString(src string, target *string) bool {
	if src != "" {
		*target = src
		return true
	}
	return false
}
