package main

import (
	"bytes"
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/tallyctl/internal/protocol/line"
	"github.com/danmuck/tallyctl/internal/session"
	"github.com/danmuck/tallyctl/internal/snapshot"
	"github.com/danmuck/tallyctl/internal/testutil/testlog"
)

func TestLoadAppConfigExample(t *testing.T) {
	testlog.Start(t)

	cfg, err := loadAppConfig(examplePath(t), defaultAppConfig())
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Session.Host != "127.0.0.1" || cfg.Session.Port != 9000 {
		t.Fatalf("unexpected endpoint: %q:%d", cfg.Session.Host, cfg.Session.Port)
	}
	if !cfg.Session.Persist {
		t.Fatalf("expected restore enabled")
	}
	if cfg.Snapshot != "local/counters.toml" {
		t.Fatalf("unexpected snapshot: %q", cfg.Snapshot)
	}
	if !cfg.Session.Probe || cfg.Session.ProbeMessage != "test" {
		t.Fatalf("unexpected probe settings: %t %q", cfg.Session.Probe, cfg.Session.ProbeMessage)
	}
	if cfg.Session.PacingInterval != time.Second {
		t.Fatalf("unexpected pacing: %v", cfg.Session.PacingInterval)
	}
	if cfg.Session.ConnectTimeout != 2500*time.Millisecond {
		t.Fatalf("unexpected connect timeout: %v", cfg.Session.ConnectTimeout)
	}
	if cfg.Session.ReadTimeout != 0 {
		t.Fatalf("expected read timeout untouched, got %v", cfg.Session.ReadTimeout)
	}
	if cfg.Session.Limits.MaxLineBytes != 4096 {
		t.Fatalf("unexpected max line bytes: %d", cfg.Session.Limits.MaxLineBytes)
	}
	if cfg.StatusAddr != "127.0.0.1:7020" {
		t.Fatalf("unexpected status addr: %q", cfg.StatusAddr)
	}
	if len(cfg.CorsOrigins) != 1 || cfg.CorsOrigins[0] != "http://localhost:3000" {
		t.Fatalf("unexpected cors origins: %+v", cfg.CorsOrigins)
	}
}

func TestLoadAppConfigRejectsBadInput(t *testing.T) {
	testlog.Start(t)

	cases := map[string]string{
		"bad duration": "pacing = \"soon\"\n",
		"unknown key":  "hostname = \"x\"\n",
		"negative max": "max_line_bytes = -1\n",
	}
	for name, body := range cases {
		path := filepath.Join(t.TempDir(), "tallyctl.toml")
		if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
			t.Fatalf("%s: write config: %v", name, err)
		}
		if _, err := loadAppConfig(path, defaultAppConfig()); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestParseArgsFlagsOverrideFile(t *testing.T) {
	testlog.Start(t)

	cfg, err := parseArgs([]string{
		"--config", examplePath(t),
		"--ip", "10.0.0.5",
		"--port", "9100",
		"--restore=false",
		"--pacing", "250ms",
	})
	if err != nil {
		t.Fatalf("parse args: %v", err)
	}
	if cfg.Session.Host != "10.0.0.5" || cfg.Session.Port != 9100 {
		t.Fatalf("flags did not override endpoint: %q:%d", cfg.Session.Host, cfg.Session.Port)
	}
	if cfg.Session.Persist {
		t.Fatalf("expected --restore=false to win over file")
	}
	if cfg.Session.PacingInterval != 250*time.Millisecond {
		t.Fatalf("unexpected pacing: %v", cfg.Session.PacingInterval)
	}
	// Untouched flags keep file values.
	if !cfg.Session.Probe || cfg.Snapshot != "local/counters.toml" {
		t.Fatalf("file values lost: probe=%t snapshot=%q", cfg.Session.Probe, cfg.Snapshot)
	}
}

func TestParseArgsDefaults(t *testing.T) {
	testlog.Start(t)

	cfg, err := parseArgs([]string{"--host", "localhost", "--port", "9000"})
	if err != nil {
		t.Fatalf("parse args: %v", err)
	}
	def := session.DefaultConfig()
	if cfg.Session.Persist || cfg.Session.Probe {
		t.Fatalf("expected persistence and probe off by default")
	}
	if cfg.Session.PacingInterval != def.PacingInterval {
		t.Fatalf("unexpected pacing: %v", cfg.Session.PacingInterval)
	}
	if cfg.Snapshot != defaultSnapshotPath {
		t.Fatalf("unexpected snapshot: %q", cfg.Snapshot)
	}

	if _, err := parseArgs([]string{"--host", "localhost", "extra"}); err == nil {
		t.Fatalf("expected error for positional arguments")
	}
}

func TestParseArgsRejectsNonPositivePacing(t *testing.T) {
	testlog.Start(t)

	for _, v := range []string{"0s", "-5ms"} {
		_, err := parseArgs([]string{"--host", "localhost", "--port", "9000", "--pacing", v})
		if !errors.Is(err, errInvalidFlag) {
			t.Fatalf("pacing %s: expected errInvalidFlag, got %v", v, err)
		}
	}

	path := filepath.Join(t.TempDir(), "tallyctl.toml")
	if err := os.WriteFile(path, []byte("pacing_ms = 0\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := parseArgs([]string{"--config", path}); !errors.Is(err, errInvalidFlag) {
		t.Fatalf("config pacing_ms=0: expected errInvalidFlag, got %v", err)
	}
}

func TestRunEndToEnd(t *testing.T) {
	testlog.Start(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		for _, l := range []string{"node booted", "alpha,2", "alpha,3"} {
			if err := line.WriteLine(conn, []byte(l)); err != nil {
				return
			}
		}
	}()

	path := filepath.Join(t.TempDir(), "counters.json")
	if err := os.WriteFile(path, []byte(`{"Node_beta": 4}`), 0o600); err != nil {
		t.Fatalf("seed snapshot: %v", err)
	}

	var out bytes.Buffer
	args := []string{
		"--host", "127.0.0.1",
		"--port", strconv.Itoa(ln.Addr().(*net.TCPAddr).Port),
		"--restore",
		"--snapshot", path,
		"--pacing", "1ms",
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := run(ctx, args, &out); err != nil {
		t.Fatalf("run: %v", err)
	}

	text := out.String()
	for _, want := range []string{
		"node booted\n",
		"Node alpha has seen 5 people.\n",
		"The number of people seen is: 9.\n",
		"Connection closed.\n",
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("output missing %q:\n%s", want, text)
		}
	}

	backend, err := snapshot.NewFile(path)
	if err != nil {
		t.Fatalf("open snapshot: %v", err)
	}
	saved, err := backend.Load(context.Background())
	if err != nil {
		t.Fatalf("load snapshot: %v", err)
	}
	if saved["alpha"] != 5 || saved["beta"] != 4 {
		t.Fatalf("unexpected saved snapshot: %+v", saved)
	}
}

func TestRunConnectionFailure(t *testing.T) {
	testlog.Start(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	_ = ln.Close()

	var out bytes.Buffer
	err = run(context.Background(), []string{"--host", "127.0.0.1", "--port", strconv.Itoa(port)}, &out)
	if !errors.Is(err, session.ErrConnectionFailed) {
		t.Fatalf("expected ErrConnectionFailed, got %v", err)
	}
}

func examplePath(t *testing.T) string {
	t.Helper()
	_, file, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatalf("resolve test file path")
	}
	return filepath.Join(filepath.Dir(file), "ex.config.toml")
}
