package singleton

import (
	"time"

	"github.com/creasty/defaults"
	"github.com/hnhuaxi/singular"
	"github.com/imdario/mergo"
	"go.uber.org/zap"
)

// Lifetime decides who keeps a constructed instance alive.
type Lifetime string

const (
	// LifetimeShared keeps an instance alive exactly as long as its last
	// owning reference. The slot only remembers it.
	LifetimeShared Lifetime = "shared"
	// LifetimePersistent makes the slot hold a reference of its own until the
	// type is unregistered.
	LifetimePersistent Lifetime = "persistent"
)

// Reentrancy decides what a nested acquire of a type gets while the same call
// chain is still constructing it.
type Reentrancy string

const (
	// ReentrancyAllow hands out the instance under construction, which may not
	// have finished its first construct hooks.
	ReentrancyAllow Reentrancy = "allow"
	// ReentrancyReject fails the nested acquire with ErrReentrantConstruction.
	ReentrancyReject Reentrancy = "reject"
)

type Policy struct {
	// LockTimeout bounds the wait for the construction lock; zero waits as
	// long as the caller's context allows.
	LockTimeout     time.Duration `yaml:"lock_timeout" json:"lock_timeout"`
	Lifetime        Lifetime      `yaml:"lifetime" json:"lifetime" default:"shared"`
	Reentrancy      Reentrancy    `yaml:"reentrancy" json:"reentrancy" default:"allow"`
	DisallowRebirth bool          `yaml:"disallow_rebirth" json:"disallow_rebirth"`
}

type Config struct {
	Policy `yaml:",inline"`

	Logger   *zap.Logger       `yaml:"-" json:"-"`
	Observer singular.Observer `yaml:"-" json:"-"`
}

type Option func(cfg *Config)

func OptLockTimeout(dt time.Duration) Option {
	return func(cfg *Config) {
		cfg.LockTimeout = dt
	}
}

func OptLifetime(lifetime Lifetime) Option {
	return func(cfg *Config) {
		cfg.Lifetime = lifetime
	}
}

func OptPersistent() Option {
	return OptLifetime(LifetimePersistent)
}

func OptRejectReentrant() Option {
	return func(cfg *Config) {
		cfg.Reentrancy = ReentrancyReject
	}
}

func OptNoRebirth() Option {
	return func(cfg *Config) {
		cfg.DisallowRebirth = true
	}
}

func OptPolicy(policy Policy) Option {
	return func(cfg *Config) {
		cfg.Policy = policy
	}
}

func OptLogger(logger *zap.Logger) Option {
	return func(cfg *Config) {
		cfg.Logger = logger
	}
}

// OptObserver adds an observer; repeated options fan out to all of them.
func OptObserver(obs singular.Observer) Option {
	return func(cfg *Config) {
		cfg.Observer = singular.Observers(cfg.Observer, obs)
	}
}

func DefaultConfig() Config {
	var cfg Config
	if err := defaults.Set(&cfg); err != nil {
		panic(err)
	}
	return cfg
}

func newConfig(opts ...Option) Config {
	cfg := DefaultConfig()
	for _, op := range opts {
		op(&cfg)
	}
	return cfg
}

// overlay applies per-type options over the coordinator configuration.
// Fields the options leave at their zero value inherit from base.
func overlay(base Config, opts ...Option) (Config, error) {
	var cfg Config
	for _, op := range opts {
		op(&cfg)
	}

	if err := mergo.Merge(&cfg.Policy, base.Policy); err != nil {
		return Config{}, err
	}

	if cfg.Logger == nil {
		cfg.Logger = base.Logger
	}

	cfg.Observer = singular.Observers(base.Observer, cfg.Observer)
	return cfg, nil
}
