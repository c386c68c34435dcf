package config_test

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"rcm-go/internal/config"
)

func TestNewConfigDefaults(t *testing.T) {
	cfg := config.NewConfig("/data/rcm")

	if cfg.LogDir != filepath.Join("/data/rcm", "log") {
		t.Errorf("LogDir = %s", cfg.LogDir)
	}
	if cfg.Vault.Type != "filesystem" {
		t.Errorf("Vault.Type = %s, want filesystem", cfg.Vault.Type)
	}
	if cfg.Vault.CollectionRoot != filepath.Join("/data/rcm", "collection") {
		t.Errorf("Vault.CollectionRoot = %s", cfg.Vault.CollectionRoot)
	}
	if cfg.Database.Type != "sqlite" {
		t.Errorf("Database.Type = %s, want sqlite", cfg.Database.Type)
	}
	if cfg.Sync.Enabled {
		t.Error("Sync.Enabled = true, want false")
	}
}

func TestManagerRoundTrip(t *testing.T) {
	cfg := config.NewConfig("/data/rcm")
	cfg.Sync = config.SyncConfig{
		Enabled: true,
		S3: &config.S3Config{
			Bucket:          "rcm-collection",
			Endpoint:        "https://minio.local:9000",
			Region:          "us-east-1",
			CredentialsPath: "/data/rcm/credentials.toml",
		},
	}

	m := &config.Manager{}
	var buf bytes.Buffer
	if err := m.Write(&buf, cfg); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	got, err := m.Read(&buf)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if got.Vault != cfg.Vault {
		t.Errorf("Vault = %+v, want %+v", got.Vault, cfg.Vault)
	}
	if got.Database != cfg.Database {
		t.Errorf("Database = %+v, want %+v", got.Database, cfg.Database)
	}
	if got.Sync.S3 == nil || *got.Sync.S3 != *cfg.Sync.S3 {
		t.Errorf("Sync.S3 = %+v, want %+v", got.Sync.S3, cfg.Sync.S3)
	}
}

func TestReadRejectsBadToml(t *testing.T) {
	m := &config.Manager{}
	if _, err := m.Read(strings.NewReader("vault = [broken")); err == nil {
		t.Error("Read() of invalid toml succeeded, want error")
	}
}

func TestInit(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rcm.toml")
	cfg := config.NewConfig(dir)

	if err := config.Init(path, cfg); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	got, err := config.ReadFromFile(path)
	if err != nil {
		t.Fatalf("ReadFromFile() error = %v", err)
	}
	if got.Vault.CollectionRoot != cfg.Vault.CollectionRoot {
		t.Errorf("CollectionRoot = %s, want %s", got.Vault.CollectionRoot, cfg.Vault.CollectionRoot)
	}

	// A second init must not clobber the existing file.
	if err := config.Init(path, config.NewConfig("/other")); err == nil {
		t.Error("Init() over existing file succeeded, want error")
	}
}

func TestCredentialsRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "credentials.toml")
	creds := &config.Credentials{
		AccessKeyID:     "AKIAEXAMPLE",
		SecretAccessKey: "secret",
	}

	if err := config.WriteCredentials(path, creds); err != nil {
		t.Fatalf("WriteCredentials() error = %v", err)
	}

	got, err := config.ReadCredentials(path)
	if err != nil {
		t.Fatalf("ReadCredentials() error = %v", err)
	}
	if *got != *creds {
		t.Errorf("credentials = %+v, want %+v", got, creds)
	}
}
