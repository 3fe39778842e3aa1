package session

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/danmuck/tallyctl/internal/protocol/line"
)

var (
	ErrHostRequired     = errors.New("session: host required")
	ErrInvalidPort      = errors.New("session: invalid port")
	ErrInvalidProbe     = errors.New("session: invalid probe message")
	ErrSnapshotRequired = errors.New("session: persistence requested without snapshot backend")
)

// Config defines one client session against a single remote endpoint.
type Config struct {
	Host string
	Port int

	// Persist loads the snapshot before connecting and saves it after
	// the connection ends.
	Persist bool

	// Probe writes ProbeMessage before every receive.
	Probe        bool
	ProbeMessage string

	ConnectTimeout time.Duration
	// ReadTimeout bounds each line read. Zero waits forever.
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	PacingInterval time.Duration
	SaveTimeout    time.Duration
	Limits         line.Limits
}

func DefaultConfig() Config {
	return Config{
		ProbeMessage:   "test",
		ConnectTimeout: 5 * time.Second,
		ReadTimeout:    0,
		WriteTimeout:   5 * time.Second,
		PacingInterval: time.Second,
		SaveTimeout:    10 * time.Second,
		Limits:         line.DefaultLimits(),
	}
}

// WithDefaults fills unset fields from DefaultConfig. ReadTimeout and
// Limits stay as given since zero is meaningful for both.
func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	c.Host = strings.TrimSpace(c.Host)
	if c.ProbeMessage == "" {
		c.ProbeMessage = def.ProbeMessage
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = def.ConnectTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.PacingInterval <= 0 {
		c.PacingInterval = def.PacingInterval
	}
	if c.SaveTimeout <= 0 {
		c.SaveTimeout = def.SaveTimeout
	}
	return c
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Host) == "" {
		return ErrHostRequired
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("%w: %d", ErrInvalidPort, c.Port)
	}
	if c.Probe && strings.ContainsRune(c.ProbeMessage, rune(line.Delimiter)) {
		return fmt.Errorf("%w: contains delimiter", ErrInvalidProbe)
	}
	if c.ReadTimeout < 0 {
		return fmt.Errorf("session: negative read timeout %v", c.ReadTimeout)
	}
	return nil
}

func (c Config) Address() string {
	return net.JoinHostPort(strings.TrimSpace(c.Host), strconv.Itoa(c.Port))
}
