package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const secret = "0123456789abcdef0123456789abcdef"

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "cdpd.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	path := writeConfig(t, `
listen: " :9000 "
protocol_config: " cdp.toml "
initial_price: "2000"
snapshot_interval: 30s
tls:
  allow_insecure: true
auth:
  hmac_secret: "`+secret+`"
archive:
  driver: " SQLite "
  dsn: "file:archive.db"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.ListenAddress != ":9000" {
		t.Fatalf("unexpected listen address: %q", cfg.ListenAddress)
	}
	if cfg.ProtocolConfig != "cdp.toml" {
		t.Fatalf("unexpected protocol config: %q", cfg.ProtocolConfig)
	}
	if cfg.SnapshotEvery != 30*time.Second {
		t.Fatalf("unexpected snapshot interval: %s", cfg.SnapshotEvery)
	}
	if cfg.Auth.ClockSkew != 2*time.Minute {
		t.Fatalf("expected default clock skew, got %s", cfg.Auth.ClockSkew)
	}
	if cfg.Quota.WindowSeconds != 3600 || cfg.RateLimit.Burst != 1 {
		t.Fatalf("expected quota and rate defaults, got %+v %+v", cfg.Quota, cfg.RateLimit)
	}
	if cfg.Archive.Driver != "sqlite" {
		t.Fatalf("expected normalised driver, got %q", cfg.Archive.Driver)
	}
	if cfg.SnapshotStore != "leveldb" || cfg.MaxConnections != 0 {
		t.Fatalf("expected leveldb snapshots without a connection cap, got %q %d", cfg.SnapshotStore, cfg.MaxConnections)
	}
}

func TestLoadConfigRejections(t *testing.T) {
	base := "protocol_config: cdp.toml\ninitial_price: \"2000\"\ntls:\n  allow_insecure: true\n"
	cases := map[string]string{
		"missing secret":  base,
		"short secret":    base + "auth:\n  hmac_secret: short\n",
		"missing price":   "protocol_config: cdp.toml\ntls:\n  allow_insecure: true\nauth:\n  hmac_secret: " + secret + "\n",
		"cert without key": strings.Replace(base, "allow_insecure: true", "cert: server.crt", 1) +
			"auth:\n  hmac_secret: " + secret + "\n",
		"plaintext":        strings.Replace(base, "allow_insecure: true", "allow_insecure: false", 1) + "auth:\n  hmac_secret: " + secret + "\n",
		"unknown driver":   base + "auth:\n  hmac_secret: " + secret + "\narchive:\n  driver: mysql\n  dsn: x\n",
		"driver sans dsn":  base + "auth:\n  hmac_secret: " + secret + "\narchive:\n  driver: postgres\n",
		"snapshot backend": base + "auth:\n  hmac_secret: " + secret + "\nsnapshot_backend: rocksdb\n",
		"unknown field":    base + "auth:\n  hmac_secret: " + secret + "\nlisten_addr: \":1\"\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, body)); err == nil {
				t.Fatalf("expected %s to be rejected", name)
			}
		})
	}
	if _, err := Load(""); err == nil {
		t.Fatal("expected empty path to be rejected")
	}
}
