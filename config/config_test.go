package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.xml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `<config>
  <listen>:9000</listen>
  <dbdriver>sqlite</dbdriver>
  <sqlitepath>/tmp/globe.db</sqlitepath>
  <globe tesselation="17" errorThreshold="2" skirt="false" maxRequests="8"/>
  <cache size="50" ttl="1m"/>
</config>`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Listen != ":9000" || cfg.SqlitePath != "/tmp/globe.db" {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.Globe.Tesselation != 17 || cfg.Globe.ErrorThreshold != 2 || cfg.Globe.Skirt || cfg.Globe.MaxRequests != 8 {
		t.Errorf("globe = %+v", cfg.Globe)
	}
	// 未出现的字段保留默认值
	if cfg.Viewport.Width != 800 || cfg.Fetch.Retries != 3 {
		t.Errorf("defaults lost: %+v %+v", cfg.Viewport, cfg.Fetch)
	}
	if MainConfig.Listen != ":9000" {
		t.Errorf("MainConfig not updated")
	}
	if d := Duration(cfg.Cache.TTL, time.Hour); d != time.Minute {
		t.Errorf("ttl = %v", d)
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.xml")); err == nil {
		t.Errorf("missing file should fail")
	}
	if _, err := Load(writeConfig(t, `<config><globe tesselation="8"/></config>`)); err == nil {
		t.Errorf("even tesselation should fail")
	}
	if _, err := Load(writeConfig(t, `<config>`)); err == nil {
		t.Errorf("broken xml should fail")
	}
}

func TestDuration(t *testing.T) {
	if d := Duration("", time.Second); d != time.Second {
		t.Errorf("empty = %v", d)
	}
	if d := Duration("abc", time.Second); d != time.Second {
		t.Errorf("invalid = %v", d)
	}
	if d := Duration("-5s", time.Second); d != time.Second {
		t.Errorf("negative = %v", d)
	}
	if d := Duration("250ms", time.Second); d != 250*time.Millisecond {
		t.Errorf("250ms = %v", d)
	}
}

func TestDSN(t *testing.T) {
	cfg := Config{Host: "db", Port: "5432", Username: "u", Password: "p", Dbname: "globe"}
	want := "host=db user=u password=p dbname=globe port=5432 sslmode=disable TimeZone=UTC"
	if got := cfg.PostgresDSN(); got != want {
		t.Errorf("postgres = %q", got)
	}
	cfg.Port = "3306"
	if got := cfg.MySQLDSN(); got != "u:p@tcp(db:3306)/globe?charset=utf8mb4&parseTime=True&loc=Local" {
		t.Errorf("mysql = %q", got)
	}
	cfg.DSN = "custom"
	if cfg.PostgresDSN() != "custom" || cfg.MySQLDSN() != "custom" {
		t.Errorf("explicit dsn ignored")
	}
}

func TestOpenDatabase(t *testing.T) {
	cfg := Default()
	cfg.SqlitePath = filepath.Join(t.TempDir(), "nested", "globe.db")
	db, err := OpenDatabase(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if GetDB() != db {
		t.Errorf("GetDB should return opened db")
	}
	if _, err := os.Stat(filepath.Dir(cfg.SqlitePath)); err != nil {
		t.Errorf("directory not created: %v", err)
	}

	cfg.DBDriver = "oracle"
	if _, err := OpenDatabase(cfg); err == nil {
		t.Errorf("unknown driver should fail")
	}
}
