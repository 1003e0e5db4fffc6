package pg

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"comms/internal/config"
)

// Connect builds a pool from cfg and verifies it with a ping.
func Connect(ctx context.Context, cfg config.DBConfig) (*pgxpool.Pool, error) {
	if cfg.DBDSN == "" {
		return nil, errors.New("DB_DSN is empty")
	}
	pc, err := pgxpool.ParseConfig(cfg.DBDSN)
	if err != nil {
		return nil, fmt.Errorf("parse DB_DSN: %w", err)
	}

	if cfg.DBPoolMaxConns > 0 {
		pc.MaxConns = cfg.DBPoolMaxConns
	}
	if cfg.DBPoolMinConns >= 0 {
		pc.MinConns = cfg.DBPoolMinConns
	}
	durations := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"DB_POOL_MAX_CONN_LIFETIME", cfg.DBPoolMaxConnLifetime, &pc.MaxConnLifetime},
		{"DB_POOL_MAX_CONN_IDLE_TIME", cfg.DBPoolMaxConnIdleTime, &pc.MaxConnIdleTime},
		{"DB_POOL_HEALTH_CHECK_PERIOD", cfg.DBPoolHealthCheckPeriod, &pc.HealthCheckPeriod},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		v, err := time.ParseDuration(d.raw)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", d.name, err)
		}
		*d.dst = v
	}

	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, err
	}
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return pool, nil
}
