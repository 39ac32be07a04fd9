package config

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"errors"
	"io/fs"
	"log"
	"path/filepath"

	"github.com/spf13/afero"
	gossh "golang.org/x/crypto/ssh"
)

// Initialize writes the default configuration and an SSH host key to dir,
// leaving existing files untouched.
func Initialize(dir string, logger *log.Logger) error {
	return InitializeFs(afero.NewOsFs(), dir, logger)
}

// InitializeFs is Initialize on an arbitrary filesystem.
func InitializeFs(base afero.Fs, dir string, logger *log.Logger) error {
	dir, err := filepath.Abs(dir)
	if err != nil {
		return err
	}

	logger.Printf("Initializing configuration in %q\n", dir)
	if err := base.MkdirAll(dir, 0700); err != nil {
		return err
	}
	configFs := afero.NewBasePathFs(base, dir)

	logger.Printf("- Writing %s\n", ConfigurationName)
	if err := writeIfMissing(configFs, ConfigurationName, defaultConfigData, logger); err != nil {
		return err
	}

	cfg, err := LoadFs(base, dir)
	if err != nil {
		return err
	}

	logger.Printf("- Generating host key %s\n", cfg.SSH.HostKeyPath)
	if exists, err := afero.Exists(configFs, cfg.SSH.HostKeyPath); err != nil {
		return err
	} else if exists {
		logger.Printf("  %s exists, skipping\n", cfg.SSH.HostKeyPath)
		return nil
	}

	keyPem, err := generateHostKey()
	if err != nil {
		return err
	}
	if dir := filepath.Dir(cfg.SSH.HostKeyPath); dir != "." {
		if err := configFs.MkdirAll(dir, 0700); err != nil {
			return err
		}
	}
	return afero.WriteFile(configFs, cfg.SSH.HostKeyPath, keyPem, 0600)
}

func writeIfMissing(fsys afero.Fs, name string, data []byte, logger *log.Logger) error {
	_, err := fsys.Stat(name)
	switch {
	case err == nil:
		logger.Printf("  %s exists, skipping\n", name)
		return nil
	case errors.Is(err, fs.ErrNotExist):
		return afero.WriteFile(fsys, name, data, 0600)
	default:
		return err
	}
}

func generateHostKey() ([]byte, error) {
	_, key, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}

	block, err := gossh.MarshalPrivateKey(key, "chainsh host key")
	if err != nil {
		return nil, err
	}
	return pem.EncodeToMemory(block), nil
}
