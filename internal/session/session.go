package session

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/danmuck/tallyctl/internal/observability"
	"github.com/danmuck/tallyctl/internal/protocol/line"
	"github.com/danmuck/tallyctl/internal/protocol/message"
	"github.com/danmuck/tallyctl/internal/snapshot"
	"github.com/danmuck/tallyctl/internal/tally"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	ErrConnectionFailed = errors.New("session: connection failed")
	ErrAlreadyRun       = errors.New("session: already run")
)

// Result describes how a session ended.
type Result struct {
	ID string
	// Cause is what ended the active state: a wrapped
	// line.ErrConnectionClosed, a socket error, or the context error.
	Cause    error
	Lines    uint64
	Updates  uint64
	Rejected uint64
	// Nodes lists the Snapshot keys in sorted order.
	Nodes     []string
	Snapshot  map[string]uint64
	Persisted bool
}

// Status is a point-in-time view for observers outside the session
// goroutine.
type Status struct {
	ID       string            `json:"id"`
	State    string            `json:"state"`
	Address  string            `json:"address"`
	Lines    uint64            `json:"lines"`
	Updates  uint64            `json:"updates"`
	Rejected uint64            `json:"rejected"`
	Total    uint64            `json:"total"`
	Nodes    map[string]uint64 `json:"nodes"`
}

// Session owns one connection lifecycle: connecting -> active ->
// draining -> closed. It is single use.
type Session struct {
	id       string
	cfg      Config
	store    *tally.Store
	backend  snapshot.Backend
	reporter Reporter
	log      zerolog.Logger

	started  atomic.Bool
	state    atomic.Int32
	lines    atomic.Uint64
	updates  atomic.Uint64
	rejected atomic.Uint64
}

// New builds a session. A nil store starts empty; a nil reporter discards
// output. backend may be nil only when cfg.Persist is false.
func New(cfg Config, store *tally.Store, backend snapshot.Backend, reporter Reporter) (*Session, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Persist && backend == nil {
		return nil, ErrSnapshotRequired
	}
	if store == nil {
		store = tally.NewStore()
	}
	if reporter == nil {
		reporter = nopReporter{}
	}
	id := uuid.NewString()
	s := &Session{
		id:       id,
		cfg:      cfg,
		store:    store,
		backend:  backend,
		reporter: reporter,
		log:      log.With().Str("session_id", id).Logger(),
	}
	s.setState(StateConnecting)
	return s, nil
}

func (s *Session) ID() string { return s.id }

func (s *Session) Store() *tally.Store { return s.store }

// Count reports one node's current count.
func (s *Session) Count(nodeID string) (uint64, bool) {
	return s.store.Count(nodeID)
}

func (s *Session) State() State {
	return State(s.state.Load())
}

func (s *Session) Status() Status {
	return Status{
		ID:       s.id,
		State:    s.State().String(),
		Address:  s.cfg.Address(),
		Lines:    s.lines.Load(),
		Updates:  s.updates.Load(),
		Rejected: s.rejected.Load(),
		Total:    s.store.Total(),
		Nodes:    s.store.Snapshot(),
	}
}

// Run restores the snapshot (when persisting), connects, and processes
// lines until the connection ends or ctx is cancelled. It returns an
// error for a failed restore, a failed connect, or a failed save; a
// dropped connection is the normal end and is reported in Result.Cause.
func (s *Session) Run(ctx context.Context) (Result, error) {
	if !s.started.CompareAndSwap(false, true) {
		return Result{ID: s.id}, ErrAlreadyRun
	}
	addr := s.cfg.Address()

	if s.cfg.Persist {
		if err := s.restore(ctx); err != nil {
			s.setState(StateClosed)
			return s.result(err), err
		}
	}

	s.setState(StateConnecting)
	conn, err := s.dial(ctx)
	if err != nil {
		s.setState(StateClosed)
		err = fmt.Errorf("%w: %s: %w", ErrConnectionFailed, addr, err)
		s.log.Error().Msgf("session.Session.Run connect failed addr=%q err=%v", addr, err)
		return s.result(err), err
	}
	s.log.Info().Msgf("session.Session.Run connected addr=%q probe=%t", addr, s.cfg.Probe)
	s.setState(StateActive)

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	cause := s.serve(ctx, conn)
	stop()

	s.setState(StateDraining)
	s.log.Info().Msgf("session.Session.Run draining cause=%v lines=%d", cause, s.lines.Load())

	if err := conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		s.log.Warn().Msgf("session.Session.Run close err=%v", err)
	}
	s.setState(StateClosed)

	res := s.result(cause)
	var saveErr error
	if s.cfg.Persist {
		saveErr = s.persist(ctx)
		res.Persisted = saveErr == nil
	}
	s.reporter.Closed(res)
	return res, saveErr
}

func (s *Session) restore(ctx context.Context) error {
	counts, err := s.backend.Load(ctx)
	observability.RecordSnapshot("load", err)
	if errors.Is(err, snapshot.ErrNotFound) {
		s.log.Info().Msgf("session.Session.restore no snapshot backend=%s, starting empty", s.backend)
		return nil
	}
	if err != nil {
		s.log.Error().Msgf("session.Session.restore failed backend=%s err=%v", s.backend, err)
		return fmt.Errorf("session: restore: %w", err)
	}
	if err := s.store.Load(counts); err != nil {
		s.log.Error().Msgf("session.Session.restore rejected backend=%s err=%v", s.backend, err)
		return fmt.Errorf("session: restore: %w: %w", snapshot.ErrCorrupt, err)
	}
	for id, v := range counts {
		observability.RecordNodeCount(id, v)
	}
	s.log.Info().Msgf("session.Session.restore loaded nodes=%d total=%d backend=%s", s.store.Len(), s.store.Total(), s.backend)
	return nil
}

// persist runs after the socket is gone. It ignores ctx cancellation so a
// shutdown signal still writes the snapshot.
func (s *Session) persist(ctx context.Context) error {
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.SaveTimeout)
	defer cancel()
	counts := s.store.Snapshot()
	err := s.backend.Save(saveCtx, counts)
	observability.RecordSnapshot("save", err)
	if err != nil {
		s.log.Error().Msgf("session.Session.persist failed backend=%s err=%v", s.backend, err)
		return fmt.Errorf("session: save snapshot: %w", err)
	}
	s.log.Info().Msgf("session.Session.persist saved nodes=%d backend=%s", len(counts), s.backend)
	return nil
}

func (s *Session) dial(ctx context.Context) (net.Conn, error) {
	dialer := net.Dialer{Timeout: s.cfg.ConnectTimeout}
	return dialer.DialContext(ctx, "tcp", s.cfg.Address())
}

// serve is the active loop. It returns the condition that ended it.
func (s *Session) serve(ctx context.Context, conn net.Conn) error {
	reader := line.NewReader(conn, s.cfg.Limits)
	probe := []byte(s.cfg.ProbeMessage)
	for {
		if s.cfg.Probe {
			if err := conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout)); err != nil {
				return s.cause(ctx, err)
			}
			if err := line.WriteLine(conn, probe); err != nil {
				return s.cause(ctx, err)
			}
		}
		if s.cfg.ReadTimeout > 0 {
			if err := conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout)); err != nil {
				return s.cause(ctx, err)
			}
		}

		raw, err := reader.ReadLine()
		switch {
		case errors.Is(err, line.ErrLineTooLong):
			s.lines.Add(1)
			s.reject(fmt.Sprintf("<more than %d bytes>", s.cfg.Limits.MaxLineBytes), err, "too_long")
		case err != nil:
			return s.cause(ctx, err)
		default:
			s.handle(raw)
		}

		if err := s.pace(ctx); err != nil {
			return err
		}
	}
}

func (s *Session) handle(raw []byte) {
	s.lines.Add(1)
	res, err := message.Parse(raw)
	if err != nil {
		text := string(raw)
		if errors.Is(err, message.ErrDecode) {
			s.reject(text, err, "decode_error")
			return
		}
		s.reporter.Line(text)
		s.reject(text, err, "malformed")
		return
	}

	s.reporter.Line(res.Text)
	if res.Kind == message.KindStatus {
		observability.RecordLine("status")
		return
	}

	count, err := s.store.Apply(res.Update)
	if err != nil {
		s.reject(res.Text, err, "overflow")
		return
	}
	s.updates.Add(1)
	observability.RecordLine("update")
	observability.RecordNodeCount(res.Update.NodeID, count)
	s.log.Debug().Str("node_id", res.Update.NodeID).Msgf("session.Session.handle update delta=%d count=%d", res.Update.Delta, count)
	s.reporter.Update(res.Update.NodeID, count, s.store.Total())
}

func (s *Session) reject(text string, err error, outcome string) {
	s.rejected.Add(1)
	observability.RecordLine(outcome)
	s.log.Warn().Msgf("session.Session.handle rejected line=%q err=%v", text, err)
	s.reporter.Rejected(text, err)
}

func (s *Session) pace(ctx context.Context) error {
	timer := time.NewTimer(s.cfg.PacingInterval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// cause prefers the context error: a cancelled context closes the socket,
// so the read error it produces is a symptom.
func (s *Session) cause(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return err
}

func (s *Session) setState(state State) {
	s.state.Store(int32(state))
	observability.RecordSessionState(int(state))
}

func (s *Session) result(cause error) Result {
	return Result{
		ID:       s.id,
		Cause:    cause,
		Lines:    s.lines.Load(),
		Updates:  s.updates.Load(),
		Rejected: s.rejected.Load(),
		Nodes:    s.store.Nodes(),
		Snapshot: s.store.Snapshot(),
	}
}
