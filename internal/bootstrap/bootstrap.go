// Package bootstrap builds the engine's dependencies from configuration. It
// is shared by the server and seriesctl so both open stores the same way.
package bootstrap

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/Delmoro12/Elevalucro-BPO-sub001/config"
	"github.com/Delmoro12/Elevalucro-BPO-sub001/lock"
	"github.com/Delmoro12/Elevalucro-BPO-sub001/recurrence"
	"github.com/Delmoro12/Elevalucro-BPO-sub001/recurrence/store"
	"github.com/Delmoro12/Elevalucro-BPO-sub001/store/bolt"
	"github.com/Delmoro12/Elevalucro-BPO-sub001/store/postgres"
	"github.com/Delmoro12/Elevalucro-BPO-sub001/store/sqlite"
)

// NewLogger returns a JSON slog logger writing to w at level.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	if w == nil {
		w = os.Stderr
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}

// OpenStore opens the backend cfg.Store names. The returned closer is never
// nil.
func OpenStore(ctx context.Context, cfg *config.Config) (recurrence.Store, io.Closer, error) {
	switch cfg.Store {
	case config.StoreMemory:
		return store.NewMemory(), io.NopCloser(nil), nil
	case config.StoreSQLite:
		s, err := sqlite.New(cfg.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return s, s, nil
	case config.StoreBolt:
		s, err := bolt.New(cfg.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("open bolt store: %w", err)
		}
		return s, s, nil
	case config.StorePostgres:
		s, err := postgres.Open(ctx, cfg.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres store: %w", err)
		}
		if err := s.Migrate(ctx); err != nil {
			s.Close()
			return nil, nil, fmt.Errorf("migrate postgres store: %w", err)
		}
		return s, s, nil
	}
	return nil, nil, fmt.Errorf("unknown store %q", cfg.Store)
}

// NewLocker returns a Redis locker when an address is configured and an
// in-process one otherwise. The closer is never nil.
func NewLocker(ctx context.Context, cfg *config.Config, logger *slog.Logger) (recurrence.Locker, io.Closer, error) {
	if cfg.RedisAddr == "" {
		return lock.NewLocal(), io.NopCloser(nil), nil
	}
	l := lock.NewRedisFromAddr(cfg.RedisAddr, cfg.RedisPassword, 0)
	if err := l.Ping(ctx); err != nil {
		l.Close()
		return nil, nil, fmt.Errorf("connect redis %s: %w", cfg.RedisAddr, err)
	}
	logger.InfoContext(ctx, "using redis series locks", "addr", cfg.RedisAddr)
	return l, l, nil
}

// NewEngine opens everything the engine needs. close releases the store and
// the locker.
func NewEngine(ctx context.Context, cfg *config.Config, logger *slog.Logger) (engine *recurrence.Engine, close func(), err error) {
	policy, err := config.LoadPolicy(cfg.PolicyFile)
	if err != nil {
		return nil, nil, err
	}
	st, storeCloser, err := OpenStore(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	locker, lockCloser, err := NewLocker(ctx, cfg, logger)
	if err != nil {
		storeCloser.Close()
		return nil, nil, err
	}

	engine = recurrence.New(st,
		recurrence.WithPolicy(policy),
		recurrence.WithLogger(logger),
		recurrence.WithLocker(locker),
	)
	return engine, func() {
		lockCloser.Close()
		storeCloser.Close()
	}, nil
}
