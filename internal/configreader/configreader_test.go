package configreader

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

type testConfig struct {
	Config  string `name:"config" toml:"config" yaml:"config"`
	Name    string `name:"name" toml:"name" yaml:"name" help:"A name."`
	Workers int    `name:"workers" toml:"workers" yaml:"workers"`
	Verbose bool   `name:"verbose" toml:"verbose" yaml:"verbose"`
	Ignored string `name:"-"`
}

func TestReadLayers(t *testing.T) {
	a := assert.New(t)

	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.toml")
	a.NoError(os.WriteFile(configPath, []byte("name = \"from-file\"\nworkers = 3\n"), 0600))

	var cfg testConfig
	a.NoError(Read("test", []string{"-config", configPath, "-verbose"}, []string{"WORKERS=7"}, &cfg))

	a.Equal("from-file", cfg.Name)
	a.Equal(7, cfg.Workers)
	a.True(cfg.Verbose)
}

func TestReadYAML(t *testing.T) {
	a := assert.New(t)

	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	a.NoError(os.WriteFile(configPath, []byte("name: from-yaml\n"), 0600))

	var cfg testConfig
	a.NoError(Read("test", nil, []string{"config=" + configPath}, &cfg))
	a.Equal("from-yaml", cfg.Name)
}

func TestReadEnvironmentErrors(t *testing.T) {
	for _, tc := range []struct {
		name string
		env  string
		err  string
	}{
		{"int", "workers=many", "as int"},
		{"bool", "verbose=perhaps", "as bool"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			a := assert.New(t)

			var cfg testConfig
			a.ErrorContains(Read("test", nil, []string{tc.env}, &cfg), tc.err)
		})
	}
}

func TestReadRejectsNonPointer(t *testing.T) {
	a := assert.New(t)

	a.ErrorContains(Read("test", nil, nil, testConfig{}), "must be a non-nil pointer")
}

func TestWithDotEnv(t *testing.T) {
	a := assert.New(t)

	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	a.NoError(os.WriteFile(envPath, []byte("NAME=from-dotenv\nWORKERS=2\n"), 0600))

	env, err := WithDotEnv([]string{"workers=9"}, envPath, filepath.Join(dir, "missing.env"))
	a.NoError(err)

	var cfg testConfig
	a.NoError(Read("test", nil, env, &cfg))
	a.Equal("from-dotenv", cfg.Name)
	a.Equal(9, cfg.Workers)
}

type levelConfig struct {
	Mode  mode   `name:"mode"`
	Level string `name:"level"`
}

type mode string

func (m mode) MarshalText() ([]byte, error) { return []byte(m), nil }

func (m *mode) UnmarshalText(b []byte) error {
	switch string(b) {
	case "fast", "slow":
		*m = mode(b)
		return nil
	default:
		return fmt.Errorf("unknown mode %q", b)
	}
}

func TestReadPrefixedEnvironment(t *testing.T) {
	a := assert.New(t)

	var cfg testConfig
	a.NoError(Read("/usr/local/bin/recall", nil, []string{"NAME=plain", "RECALL_NAME=prefixed", "workers=4"}, &cfg))
	a.Equal("prefixed", cfg.Name)
	a.Equal(4, cfg.Workers)
}

func TestReadFlagsAndText(t *testing.T) {
	a := assert.New(t)

	cfg := levelConfig{Mode: "slow"}
	a.NoError(Read("test", []string{"--mode=fast", "-level", "debug"}, nil, &cfg))
	a.Equal(mode("fast"), cfg.Mode)
	a.Equal("debug", cfg.Level)

	a.ErrorContains(Read("test", []string{"-mode", "sideways"}, nil, &cfg), "unknown mode")
	a.ErrorContains(Read("test", nil, []string{"mode=sideways"}, &cfg), "could not unmarshal parameter Mode (mode)")
}

func TestReadHelp(t *testing.T) {
	a := assert.New(t)

	var cfg testConfig
	a.ErrorIs(Read("test", []string{"-h"}, nil, &cfg), ErrHelp)
}

func TestReadUnsupportedType(t *testing.T) {
	a := assert.New(t)

	var cfg struct {
		Ratio float64
	}
	a.ErrorContains(Read("test", nil, nil, &cfg), "unsupported type float64")
}
