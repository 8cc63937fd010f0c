package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

type sampleConfig struct {
	Name     string        `envconfig:"NAME" required:"true"`
	Interval time.Duration `envconfig:"INTERVAL" default:"5m"`
	Limit    int           `envconfig:"LIMIT" default:"10"`
}

// These tests mutate process env and the package-level env file, so they do not run in parallel.

func TestNewLoadsEnvFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.env")
	if err := os.WriteFile(path, []byte("CFGTEST_NAME=crm\nCFGTEST_LIMIT=3\n"), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	t.Cleanup(func() {
		SetEnvFile("")
		_ = os.Unsetenv("CFGTEST_NAME")
		_ = os.Unsetenv("CFGTEST_LIMIT")
	})

	SetEnvFile(path)
	conf, err := New[sampleConfig]("CFGTEST")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if conf.Name != "crm" || conf.Limit != 3 || conf.Interval != 5*time.Minute {
		t.Fatalf("conf = %+v", conf)
	}
}

func TestNewMissingRequired(t *testing.T) {
	SetEnvFile("")
	if _, err := New[sampleConfig]("CFGMISSING"); err == nil {
		t.Fatal("New() expected error for missing required value")
	}
}

func TestNewExplicitMissingFile(t *testing.T) {
	t.Cleanup(func() { SetEnvFile("") })

	SetEnvFile(filepath.Join(t.TempDir(), "absent.env"))
	if _, err := New[sampleConfig]("CFGTEST"); err == nil {
		t.Fatal("New() expected error for missing explicit env file")
	}
}

func TestMustNewPanics(t *testing.T) {
	SetEnvFile("")
	defer func() {
		if recover() == nil {
			t.Fatal("MustNew() expected panic")
		}
	}()
	_ = MustNew[sampleConfig]("CFGPANIC")
}
