package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := LoadFile(filepath.Join(t.TempDir(), "missing.env"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ServerPort != "8080" || cfg.StoreDriver != "sqlite" || cfg.FetchMode != "http" {
		t.Errorf("got %+v", cfg)
	}
	if cfg.FetchTimeout() != 15*time.Second || cfg.PageCacheTTL() != 5*time.Minute {
		t.Errorf("durations: %v %v", cfg.FetchTimeout(), cfg.PageCacheTTL())
	}
	if cfg.MaxPages != 10 || cfg.SearchConcurrency != 8 || cfg.MaxBodyBytes != 10*1024*1024 {
		t.Errorf("limits: %+v", cfg)
	}
	if len(cfg.UserAgents) != 0 || len(cfg.ProxyURLs) != 0 {
		t.Errorf("lists should be empty: %v %v", cfg.UserAgents, cfg.ProxyURLs)
	}
}

func TestLoad_FileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("SERVER_PORT=9090\nMAX_PAGES=3\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("MAX_PAGES", "4")
	t.Setenv("PROXY_URLS", "http://p1:8080,http://p2:8080")

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ServerPort != "9090" {
		t.Errorf("port from file: got %q", cfg.ServerPort)
	}
	if cfg.MaxPages != 4 {
		t.Errorf("env should win: got %d", cfg.MaxPages)
	}
	if len(cfg.ProxyURLs) != 2 || cfg.ProxyURLs[1] != "http://p2:8080" {
		t.Errorf("proxies: got %v", cfg.ProxyURLs)
	}
}

func TestValidate(t *testing.T) {
	t.Setenv("STORE_DRIVER", "postgres")
	if _, err := LoadFile(filepath.Join(t.TempDir(), "none.env")); err == nil {
		t.Error("postgres without POSTGRES_URL should fail")
	}
	t.Setenv("STORE_DRIVER", "sqlite")
	t.Setenv("FETCH_MODE", "carrier-pigeon")
	if _, err := LoadFile(filepath.Join(t.TempDir(), "none.env")); err == nil {
		t.Error("unknown fetch mode should fail")
	}
}
