package proxy

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfigGeneratesAndPersistsMyID(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vkcproxy.conf")
	if err := os.WriteFile(path, []byte("proxy router 127.0.0.1 7000\n"), 0644); err != nil {
		t.Fatalf("seed config: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.MyID == "" {
		t.Fatal("expected a generated myid")
	}
	if len(cfg.Routers) != 1 || cfg.Routers[0].Addr != "127.0.0.1:7000" {
		t.Fatalf("unexpected routers: %+v", cfg.Routers)
	}

	reloaded, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.MyID != cfg.MyID {
		t.Fatalf("myid not persisted: %q != %q", reloaded.MyID, cfg.MyID)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.conf")); err == nil {
		t.Fatal("expected an error for a missing config file")
	}
}

func TestConfigSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vkcproxy.conf")
	if err := os.WriteFile(path, []byte("proxy myid abc\n"), 0644); err != nil {
		t.Fatalf("seed config: %v", err)
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	cfg.AddRouter("127.0.0.1:7001", 4)
	cfg.SetAuthPass("127.0.0.1:7001", "secret")
	if err := cfg.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	reloaded, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("reload after save: %v", err)
	}
	if len(reloaded.Routers) != 1 || reloaded.Routers[0].PoolSize != 4 {
		t.Fatalf("router not persisted: %+v", reloaded.Routers)
	}
	if reloaded.AuthPass["127.0.0.1:7001"] != "secret" {
		t.Fatalf("auth-pass not persisted: %+v", reloaded.AuthPass)
	}
}
