package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/danmuck/tallyctl/internal/logging"
	"github.com/danmuck/tallyctl/internal/session"
	"github.com/danmuck/tallyctl/internal/snapshot"
	"github.com/danmuck/tallyctl/internal/status"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
)

var errInvalidFlag = errors.New("tallyctl: invalid setting")

func main() {
	// A missing .env is normal.
	_ = godotenv.Load()
	logging.ConfigureRuntime()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "tallyctl: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	cfg, err := parseArgs(args)
	if err != nil {
		return err
	}

	var backend snapshot.Backend
	if cfg.Session.Persist {
		backend, err = snapshot.Open(cfg.Snapshot)
		if err != nil {
			return err
		}
		if closer, ok := backend.(io.Closer); ok {
			defer closer.Close()
		}
	}

	sess, err := session.New(cfg.Session, nil, backend, session.NewConsole(stdout))
	if err != nil {
		return err
	}
	log.Info().Str("session_id", sess.ID()).Msgf("tallyctl.run start addr=%q persist=%t snapshot=%q", cfg.Session.Address(), cfg.Session.Persist, cfg.Snapshot)

	statusCtx, cancelStatus := context.WithCancel(ctx)
	defer cancelStatus()
	statusDone := make(chan error, 1)
	if cfg.StatusAddr != "" {
		srv := status.New(cfg.StatusAddr, sess, cfg.CorsOrigins)
		go func() {
			statusDone <- srv.Serve(statusCtx)
		}()
	} else {
		statusDone <- nil
	}

	_, runErr := sess.Run(ctx)
	cancelStatus()
	statusErr := <-statusDone
	if statusErr != nil {
		statusErr = fmt.Errorf("status server: %w", statusErr)
	}
	return errors.Join(runErr, statusErr)
}

// parseArgs layers defaults, then the optional config file, then flags
// the caller set explicitly.
func parseArgs(args []string) (appConfig, error) {
	def := defaultAppConfig()

	fs := pflag.NewFlagSet("tallyctl", pflag.ContinueOnError)
	configPath := fs.StringP("config", "c", "", "TOML config file")
	host := fs.String("host", "", "remote endpoint host")
	fs.StringVar(host, "ip", "", "alias for --host")
	port := fs.IntP("port", "p", 0, "remote endpoint port")
	restore := fs.BoolP("restore", "r", false, "restore counters before connecting and save them on exit")
	snapshotTarget := fs.String("snapshot", def.Snapshot, "snapshot file path or redis:// URL")
	probe := fs.Bool("probe", false, "send a probe line before every receive")
	probeMessage := fs.String("probe-message", def.Session.ProbeMessage, "probe line payload")
	pacing := fs.Duration("pacing", def.Session.PacingInterval, "wait between received lines")
	readTimeout := fs.Duration("read-timeout", 0, "per-line read timeout (0 waits forever)")
	maxLine := fs.Int("max-line-bytes", 0, "reject lines longer than this (0 is unbounded)")
	statusAddr := fs.String("status-addr", "", "serve /health, /counters and /metrics on this address")
	_ = fs.MarkHidden("ip")

	if err := fs.Parse(args); err != nil {
		return appConfig{}, err
	}
	if fs.NArg() > 0 {
		return appConfig{}, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}

	cfg := def
	if *configPath != "" {
		loaded, err := loadAppConfig(*configPath, cfg)
		if err != nil {
			return appConfig{}, err
		}
		cfg = loaded
	}

	if fs.Changed("host") || fs.Changed("ip") {
		cfg.Session.Host = *host
	}
	if fs.Changed("port") {
		cfg.Session.Port = *port
	}
	if fs.Changed("restore") {
		cfg.Session.Persist = *restore
	}
	if fs.Changed("snapshot") {
		cfg.Snapshot = *snapshotTarget
	}
	if fs.Changed("probe") {
		cfg.Session.Probe = *probe
	}
	if fs.Changed("probe-message") {
		cfg.Session.ProbeMessage = *probeMessage
	}
	if fs.Changed("pacing") {
		cfg.Session.PacingInterval = *pacing
	}
	if fs.Changed("read-timeout") {
		cfg.Session.ReadTimeout = *readTimeout
	}
	if fs.Changed("max-line-bytes") {
		if *maxLine < 0 {
			return appConfig{}, fmt.Errorf("%w: --max-line-bytes %d", errInvalidFlag, *maxLine)
		}
		cfg.Session.Limits.MaxLineBytes = *maxLine
	}
	if fs.Changed("status-addr") {
		cfg.StatusAddr = *statusAddr
	}

	// session.Config treats zero pacing as unset.
	if cfg.Session.PacingInterval <= 0 {
		return appConfig{}, fmt.Errorf("%w: pacing must be positive, got %s", errInvalidFlag, cfg.Session.PacingInterval)
	}
	if cfg.Session.PacingInterval < time.Millisecond {
		log.Warn().Msgf("tallyctl.parseArgs pacing=%s is below 1ms", cfg.Session.PacingInterval)
	}
	return cfg, nil
}
