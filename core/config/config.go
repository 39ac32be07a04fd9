package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/josephlewis42/chainsh/core/shell"
	"github.com/spf13/afero"
	"sigs.k8s.io/yaml"
)

var (
	//go:embed default/config.yaml
	defaultConfigData []byte
)

const (
	ConfigurationName = "config.yaml"
)

// Color modes for the prompt.
const (
	ColorAlways = "always"
	ColorAuto   = "auto"
	ColorNever  = "never"
)

type Configuration struct {
	configFs         afero.Fs
	configurationDir string

	HistoryPath  string `json:"history_path" validate:"required"`
	Prompt       string `json:"prompt" validate:"required"`
	Color        string `json:"color" validate:"oneof=always auto never"`
	EventLogPath string `json:"event_log_path"`

	SSH SSH `json:"ssh"`
}

type SSH struct {
	Port              int      `json:"port" validate:"gte=0,lte=65535"`
	HostKeyPath       string   `json:"host_key_path" validate:"required"`
	Passwords         []string `json:"passwords" validate:"unique"`
	MaxBytesPerSecond int64    `json:"max_bytes_per_second" validate:"gte=0"`
}

// Validate the configuration for basic semantic errors.
func (c *Configuration) Validate() error {
	validate := validator.New()
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		return name
	})

	return validate.Struct(c)
}

func (c *Configuration) fs() afero.Fs {
	return c.configFs
}

// Dir returns the configuration directory.
func (c *Configuration) Dir() string {
	return c.configurationDir
}

// ResolveHistoryPath returns the absolute history file location, the
// HISTORY_PATH environment variable wins over the configured value. Relative
// paths are resolved against the current working directory so the log stays
// put when the shell changes directory later.
func (c *Configuration) ResolveHistoryPath(getenv func(string) string) (string, error) {
	path := c.HistoryPath
	if path == "" {
		path = shell.DefaultHistoryPath
	}
	if getenv != nil {
		if fromEnv := getenv(shell.EnvHistoryPath); fromEnv != "" {
			path = fromEnv
		}
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolving history path %q: %w", path, err)
	}
	return abs, nil
}

// EventLogEnabled reports whether events should be recorded.
func (c *Configuration) EventLogEnabled() bool {
	return c.EventLogPath != ""
}

// OpenEventLog opens the event log in an append only state.
func (c *Configuration) OpenEventLog() (afero.File, error) {
	return c.fs().OpenFile(c.EventLogPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
}

// ReadEventLog opens the event log for reading.
func (c *Configuration) ReadEventLog() (afero.File, error) {
	return c.fs().OpenFile(c.EventLogPath, os.O_RDONLY, 0600)
}

// HostKeyPem returns the bytes of the SSH host's private key.
func (c *Configuration) HostKeyPem() ([]byte, error) {
	return afero.ReadFile(c.fs(), c.SSH.HostKeyPath)
}

// UseColor decides whether the prompt is colored on the given output.
func (c *Configuration) UseColor(isTerminal bool) bool {
	switch c.Color {
	case ColorAlways:
		return true
	case ColorNever:
		return false
	default:
		return isTerminal
	}
}

func defaultConfig() *Configuration {
	var out Configuration
	if err := yaml.UnmarshalStrict(defaultConfigData, &out); err != nil {
		panic(err)
	}
	return &out
}
