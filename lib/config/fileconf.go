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

package config

import (
	"encoding/base64"
	"io"
	"os"

	"github.com/gravitational/trace"
	"gopkg.in/yaml.v2"
)

// FileConfig is the YAML configuration, usually /etc/visible.yaml.
// Parsing is strict, a misspelled key fails instead of being silently
// dropped.
type FileConfig struct {
	Global  `yaml:"visible,omitempty"`
	Storage Storage `yaml:"storage,omitempty"`
	Auth    Auth    `yaml:"auth,omitempty"`
	Push    Push    `yaml:"push,omitempty"`
}

// Global is the "visible" section with the process wide settings.
type Global struct {
	// ListenAddr is the gateway bind address, host:port.
	ListenAddr string `yaml:"listen_addr,omitempty"`
	// DiagAddr exposes Prometheus metrics when set.
	DiagAddr string `yaml:"diag_addr,omitempty"`
	// Log configures the logger.
	Log Log `yaml:"log,omitempty"`
}

// Log is the logger subsection.
type Log struct {
	// Output is stderr, stdout, or a file path.
	Output string `yaml:"output,omitempty"`
	// Severity is one of debug, info, warn, error.
	Severity string `yaml:"severity,omitempty"`
}

// Storage is the "storage" section.
type Storage struct {
	// Type is mysql or memory.
	Type string `yaml:"type,omitempty"`
	// DSN is the go-sql-driver data source name, mysql only.
	DSN string `yaml:"dsn,omitempty"`
	// MaxOpenConns bounds the mysql pool.
	MaxOpenConns int `yaml:"max_open_conns,omitempty"`
}

// Auth is the "auth" section.
type Auth struct {
	// TokenSigningKey is the HMAC secret for bearer tokens.
	TokenSigningKey string `yaml:"token_signing_key,omitempty"`
	// SMSRegion resolves national phone numbers, defaults to IN.
	SMSRegion string `yaml:"sms_region,omitempty"`
}

// Push is the "push" section.
type Push struct {
	// Disabled turns FCM dispatch off.
	Disabled bool `yaml:"disabled,omitempty"`
	// CredentialsFile is the path of the Firebase service account key.
	CredentialsFile string `yaml:"credentials_file,omitempty"`
	// Credentials is the inline service account key, an alternative to
	// the file for environments that inject secrets directly.
	Credentials string `yaml:"credentials,omitempty"`
}

// ReadFromFile reads and parses a YAML config from a file.
func ReadFromFile(path string) (*FileConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, trace.ConvertSystemError(err)
	}
	defer f.Close()
	fc, err := ReadConfig(f)
	if err != nil {
		return nil, trace.Wrap(err, "failed to parse config file %v", path)
	}
	return fc, nil
}

// ReadFromString reads a YAML config from a base64 encoded string,
// used when the configuration rides in an environment variable.
func ReadFromString(configString string) (*FileConfig, error) {
	data, err := base64.StdEncoding.DecodeString(configString)
	if err != nil {
		return nil, trace.BadParameter(
			"configuration string must be base64 encoded: %v", err)
	}
	fc := &FileConfig{}
	if err := yaml.UnmarshalStrict(data, fc); err != nil {
		return nil, trace.BadParameter("failed to parse the configuration string: %v", err)
	}
	return fc, nil
}

// ReadConfig parses a YAML config from a reader.
func ReadConfig(reader io.Reader) (*FileConfig, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, trace.Wrap(err, "failed to read the configuration")
	}
	fc := &FileConfig{}
	if err := yaml.UnmarshalStrict(data, fc); err != nil {
		return nil, trace.BadParameter("failed to parse the configuration: %v", err)
	}
	return fc, nil
}
