package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/tallyctl/internal/session"
)

const defaultSnapshotPath = "counters.toml"

type appConfig struct {
	Session     session.Config
	Snapshot    string
	StatusAddr  string
	CorsOrigins []string
}

func defaultAppConfig() appConfig {
	return appConfig{
		Session:  session.DefaultConfig(),
		Snapshot: defaultSnapshotPath,
	}
}

type fileConfig struct {
	Host             string   `toml:"host"`
	Port             int      `toml:"port"`
	Restore          bool     `toml:"restore"`
	Snapshot         string   `toml:"snapshot"`
	Probe            bool     `toml:"probe"`
	ProbeMessage     string   `toml:"probe_message"`
	Pacing           string   `toml:"pacing"`
	PacingMS         int64    `toml:"pacing_ms"`
	ConnectTimeout   string   `toml:"connect_timeout"`
	ConnectTimeoutMS int64    `toml:"connect_timeout_ms"`
	ReadTimeout      string   `toml:"read_timeout"`
	ReadTimeoutMS    int64    `toml:"read_timeout_ms"`
	WriteTimeout     string   `toml:"write_timeout"`
	SaveTimeout      string   `toml:"save_timeout"`
	MaxLineBytes     int      `toml:"max_line_bytes"`
	StatusAddr       string   `toml:"status_addr"`
	CorsOrigins      []string `toml:"cors_origins"`
}

// loadAppConfig applies the keys present in the file at path on top of cfg.
func loadAppConfig(path string, cfg appConfig) (appConfig, error) {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return appConfig{}, fmt.Errorf("load tallyctl config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return appConfig{}, fmt.Errorf("load tallyctl config: unknown key %q", undecoded[0].String())
	}

	if meta.IsDefined("host") {
		cfg.Session.Host = strings.TrimSpace(raw.Host)
	}
	if meta.IsDefined("port") {
		cfg.Session.Port = raw.Port
	}
	if meta.IsDefined("restore") {
		cfg.Session.Persist = raw.Restore
	}
	if meta.IsDefined("snapshot") {
		cfg.Snapshot = strings.TrimSpace(raw.Snapshot)
	}
	if meta.IsDefined("probe") {
		cfg.Session.Probe = raw.Probe
	}
	if meta.IsDefined("probe_message") {
		cfg.Session.ProbeMessage = raw.ProbeMessage
	}

	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"pacing", raw.Pacing, &cfg.Session.PacingInterval},
		{"connect_timeout", raw.ConnectTimeout, &cfg.Session.ConnectTimeout},
		{"read_timeout", raw.ReadTimeout, &cfg.Session.ReadTimeout},
		{"write_timeout", raw.WriteTimeout, &cfg.Session.WriteTimeout},
		{"save_timeout", raw.SaveTimeout, &cfg.Session.SaveTimeout},
	}
	for _, d := range durations {
		if !meta.IsDefined(d.key) {
			continue
		}
		v, err := time.ParseDuration(strings.TrimSpace(d.raw))
		if err != nil {
			return appConfig{}, fmt.Errorf("parse %s: %w", d.key, err)
		}
		*d.dst = v
	}

	if meta.IsDefined("pacing_ms") {
		cfg.Session.PacingInterval = time.Duration(raw.PacingMS) * time.Millisecond
	}
	if meta.IsDefined("connect_timeout_ms") {
		cfg.Session.ConnectTimeout = time.Duration(raw.ConnectTimeoutMS) * time.Millisecond
	}
	if meta.IsDefined("read_timeout_ms") {
		cfg.Session.ReadTimeout = time.Duration(raw.ReadTimeoutMS) * time.Millisecond
	}

	if meta.IsDefined("max_line_bytes") {
		if raw.MaxLineBytes < 0 {
			return appConfig{}, fmt.Errorf("parse max_line_bytes: negative value %d", raw.MaxLineBytes)
		}
		cfg.Session.Limits.MaxLineBytes = raw.MaxLineBytes
	}
	if meta.IsDefined("status_addr") {
		cfg.StatusAddr = strings.TrimSpace(raw.StatusAddr)
	}
	if meta.IsDefined("cors_origins") {
		cfg.CorsOrigins = normalizeOrigins(raw.CorsOrigins)
	}

	return cfg, nil
}

func normalizeOrigins(in []string) []string {
	out := make([]string, 0, len(in))
	for _, origin := range in {
		v := strings.TrimSpace(origin)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}
