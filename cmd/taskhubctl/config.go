package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"taskhub/pkg/client"
)

const defaultServer = "http://localhost:8080"

// cliConfig is what taskhubctl remembers between invocations: where the
// server lives and the session token from the last login.
type cliConfig struct {
	Server string `yaml:"server"`
	Token  string `yaml:"token,omitempty"`
}

func configPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolve config dir: %w", err)
	}
	return filepath.Join(dir, "taskhubctl", "config.yaml"), nil
}

func loadConfig() (cliConfig, error) {
	cfg := cliConfig{Server: defaultServer}
	path, err := configPath()
	if err != nil {
		return cfg, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}
	if cfg.Server == "" {
		cfg.Server = defaultServer
	}
	return cfg, nil
}

func saveConfig(cfg cliConfig) error {
	path, err := configPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	// The token is a credential.
	return os.WriteFile(path, data, 0o600)
}

// apiClient builds a client from the saved config plus the --server flag.
func apiClient(cmd *cobra.Command) (*client.Client, cliConfig, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, cfg, err
	}
	if server, _ := cmd.Flags().GetString("server"); server != "" {
		cfg.Server = server
	}
	var opts []client.Option
	if cfg.Token != "" {
		opts = append(opts, client.WithToken(cfg.Token))
	}
	c, err := client.New(cfg.Server, opts...)
	if err != nil {
		return nil, cfg, err
	}
	return c, cfg, nil
}
