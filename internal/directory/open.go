package directory

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Supported drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
)

// Options selects and configures a backend.
type Options struct {
	Driver string
	DSN    string
	// ConnectTimeout bounds how long Open keeps retrying a network backend
	// that is not reachable yet.
	ConnectTimeout time.Duration
	Logger         *zap.Logger
}

// Drivers lists the accepted driver names.
func Drivers() []string {
	return []string{DriverMemory, DriverSQLite, DriverPostgres, DriverRedis}
}

// Open constructs the backend named by opts.Driver. Network backends are
// retried with exponential backoff until ConnectTimeout elapses so the relay
// can start alongside its database.
func Open(ctx context.Context, opts Options) (Service, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	switch strings.ToLower(opts.Driver) {
	case DriverMemory, "":
		return NewMemoryStore(), nil
	case DriverSQLite:
		if opts.DSN == "" {
			return nil, fmt.Errorf("directory: sqlite requires a dsn (database file path)")
		}
		return NewSQLiteStore(ctx, opts.DSN)
	case DriverPostgres:
		return openWithRetry(ctx, opts, logger, func(ctx context.Context) (Service, error) {
			return NewPostgresStore(ctx, opts.DSN)
		})
	case DriverRedis:
		return openWithRetry(ctx, opts, logger, func(ctx context.Context) (Service, error) {
			return NewRedisStore(ctx, opts.DSN)
		})
	default:
		return nil, fmt.Errorf("directory: unknown driver %q (valid: %s)", opts.Driver, strings.Join(Drivers(), ", "))
	}
}

func openWithRetry(ctx context.Context, opts Options, logger *zap.Logger, open func(context.Context) (Service, error)) (Service, error) {
	if opts.DSN == "" {
		return nil, fmt.Errorf("directory: %s requires a dsn", opts.Driver)
	}

	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = opts.ConnectTimeout
	if policy.MaxElapsedTime <= 0 {
		policy.MaxElapsedTime = 30 * time.Second
	}

	var svc Service
	operation := func() error {
		s, err := open(ctx)
		if err != nil {
			return err
		}
		svc = s
		return nil
	}
	notify := func(err error, next time.Duration) {
		logger.Warn("directory not reachable, retrying",
			zap.String("driver", opts.Driver),
			zap.Duration("next_attempt", next),
			zap.Error(err))
	}

	if err := backoff.RetryNotify(operation, backoff.WithContext(policy, ctx), notify); err != nil {
		return nil, fmt.Errorf("directory: open %s: %w", opts.Driver, err)
	}
	return svc, nil
}

// SeedFile is the YAML layout of a users seed file:
//
//	users:
//	  - id: "1"
//	    username: Dreft
type SeedFile struct {
	Users []User `yaml:"users"`
}

// LoadSeedFile reads the users listed in a YAML seed file.
func LoadSeedFile(path string) ([]User, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from operator config
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	var f SeedFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse seed file: %w", err)
	}
	return f.Users, nil
}

// Seed registers users in svc, stopping at the first failure.
func Seed(ctx context.Context, svc Service, users []User) error {
	for _, u := range users {
		if err := svc.CreateUser(ctx, u); err != nil {
			return fmt.Errorf("seed user %q: %w", u.Username, err)
		}
	}
	return nil
}
