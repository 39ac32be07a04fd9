package config

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"

	"github.com/spf13/afero"
	"sigs.k8s.io/yaml"
)

// Load loads the configuration from the directory. A directory without a
// configuration file yields the defaults.
func Load(path string) (*Configuration, error) {
	return LoadFs(afero.NewOsFs(), path)
}

// LoadFs loads the configuration from the directory within base.
func LoadFs(base afero.Fs, path string) (*Configuration, error) {
	// If given the path to a config.yaml file, move back up a level.
	if filepath.Base(path) == ConfigurationName {
		path = filepath.Dir(path)
	}

	path, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	configFs := afero.NewBasePathFs(base, path)

	out := defaultConfig()
	configContents, err := afero.ReadFile(configFs, ConfigurationName)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		// Use the defaults.
	case err != nil:
		return nil, err
	default:
		out = &Configuration{}
		if err := yaml.UnmarshalStrict(configContents, out); err != nil {
			return nil, fmt.Errorf("%s: %w", filepath.Join(path, ConfigurationName), err)
		}
	}

	if err := out.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Join(path, ConfigurationName), err)
	}

	out.configFs = configFs
	out.configurationDir = path
	return out, nil
}
