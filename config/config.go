// Package config loads the robot settings from the environment.
package config

import (
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/pkg/errors"

	"github.com/mastercactapus/deliverybot/link"
	"github.com/mastercactapus/deliverybot/machine"
	"github.com/mastercactapus/deliverybot/machine/ak80"
)

// Config holds every setting the robot reads at startup.
type Config struct {
	MotionPort  string        `env:"MOTION_PORT" envDefault:"/dev/ttyUSB0"`
	MotionBaud  int           `env:"MOTION_BAUD" envDefault:"38400"`
	GripperPort string        `env:"GRIPPER_PORT" envDefault:"/dev/ttyUSB1"`
	GripperBaud int           `env:"GRIPPER_BAUD" envDefault:"9600"`
	ReadTimeout time.Duration `env:"READ_TIMEOUT" envDefault:"1s"`

	// Strict requires the four-field dialect.
	Dialect ak80.Dialect        `env:"DIALECT" envDefault:"nine"`
	Strict  bool                `env:"STRICT" envDefault:"false"`
	Mode    machine.CommandMode `env:"COMMAND_MODE" envDefault:"absolute"`

	Tolerance   float64       `env:"TOLERANCE" envDefault:"0.001"`
	MaxAttempts int           `env:"MAX_ATTEMPTS" envDefault:"600"`
	MoveTimeout time.Duration `env:"MOVE_TIMEOUT" envDefault:"2m"`
	AwaitMoves  bool          `env:"AWAIT_MOVES" envDefault:"true"`
	SettleDelay time.Duration `env:"SETTLE_DELAY" envDefault:"2s"`
	InitDelay   time.Duration `env:"INIT_DELAY" envDefault:"2s"`
	InitSamples int           `env:"INIT_SAMPLES" envDefault:"5"`
	Polled      bool          `env:"POLLED" envDefault:"true"`

	DBPath     string `env:"DB_PATH" envDefault:"deliverybot.db"`
	Addr       string `env:"ADDR" envDefault:":8000"`
	RoutineDir string `env:"ROUTINE_DIR"`
	Sim        bool   `env:"SIM" envDefault:"false"`
}

// Load parses the environment, using the DELIVERYBOT_ prefix.
func Load() (*Config, error) {
	var cfg Config
	err := env.Parse(&cfg, env.Options{Prefix: "DELIVERYBOT_"})
	if err != nil {
		return nil, errors.Wrap(err, "parse environment")
	}
	return &cfg, cfg.Validate()
}

// Validate checks values that can't be expressed as defaults.
func (c *Config) Validate() error {
	switch {
	case c.Tolerance < 0:
		return errors.Errorf("tolerance must not be negative (got %g)", c.Tolerance)
	case c.MaxAttempts < 0:
		return errors.Errorf("max attempts must not be negative (got %d)", c.MaxAttempts)
	case c.InitSamples < 1:
		return errors.Errorf("init samples must be at least 1 (got %d)", c.InitSamples)
	case c.ReadTimeout <= 0:
		return errors.Errorf("read timeout must be positive (got %s)", c.ReadTimeout)
	case c.MoveTimeout < 0:
		return errors.Errorf("move timeout must not be negative (got %s)", c.MoveTimeout)
	case c.MaxAttempts == 0 && c.MoveTimeout == 0:
		return errors.New("max attempts and move timeout are both zero; moves would wait forever")
	case c.Strict && c.Dialect != ak80.FourField:
		return errors.Errorf("strict parsing only applies to the four-field dialect (got %s)", c.Dialect)
	}
	return nil
}

func (c *Config) Motion() link.Config {
	return link.Config{Port: c.MotionPort, Baud: c.MotionBaud, ReadTimeout: c.ReadTimeout}
}

func (c *Config) Gripper() link.Config {
	return link.Config{Port: c.GripperPort, Baud: c.GripperBaud, ReadTimeout: c.ReadTimeout}
}

func (c *Config) Parser() *ak80.Parser {
	return &ak80.Parser{Dialect: c.Dialect, Strict: c.Strict}
}

// Machine returns the motion settings, starting from machine.DefaultConfig.
func (c *Config) Machine() machine.Config {
	mc := machine.DefaultConfig()
	mc.Mode = c.Mode
	mc.Tolerance = c.Tolerance
	mc.MaxAttempts = c.MaxAttempts
	mc.MoveTimeout = c.MoveTimeout
	mc.AwaitMoves = c.AwaitMoves
	mc.SettleDelay = c.SettleDelay
	mc.InitDelay = c.InitDelay
	mc.InitSamples = c.InitSamples
	mc.Polled = c.Polled
	if c.ReadTimeout > mc.FrameTimeout {
		mc.FrameTimeout = c.ReadTimeout
	}
	return mc
}
