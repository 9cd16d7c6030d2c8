// Package database owns the PostgreSQL connection pool and the schema.
//
// The pool is created once by Open and replaced only through an explicit
// call to Provider.Reconfigure. Callers fetch the current pool per
// operation with Provider.Pool and never keep it across requests.
package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/JonMunkholm/imoveis/internal/config"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Settings are the pool parameters.
type Settings struct {
	URL             string
	MaxConns        int
	MinConns        int
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// SettingsFromConfig converts the database section of the configuration.
func SettingsFromConfig(c config.DatabaseConfig) Settings {
	return Settings{
		URL:             c.URL,
		MaxConns:        c.MaxConns,
		MinConns:        c.MinConns,
		MaxConnLifetime: c.MaxConnLifetime,
		MaxConnIdleTime: c.MaxConnIdleTime,
	}
}

// Provider hands out the current connection pool.
type Provider struct {
	mu       sync.RWMutex
	pool     *pgxpool.Pool
	settings Settings
	closed   bool
}

// Open connects a pool and verifies it with a ping.
func Open(ctx context.Context, s Settings) (*Provider, error) {
	pool, err := connect(ctx, s)
	if err != nil {
		return nil, err
	}
	return &Provider{pool: pool, settings: s}, nil
}

// Pool returns the pool currently in use.
func (p *Provider) Pool() *pgxpool.Pool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.pool
}

// Ping checks the current pool.
func (p *Provider) Ping(ctx context.Context) error {
	return p.Pool().Ping(ctx)
}

// DatabaseName returns the database name of the current settings.
func (p *Provider) DatabaseName() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return databaseName(p.settings.URL)
}

// Reconfigure connects a new pool with s and swaps it in. Fields of s left
// at their zero value keep the current setting, so an empty Settings is a
// plain reconnect. On failure the current pool stays in use.
//
// The previous pool is closed in the background once its in-flight
// operations release their connections.
func (p *Provider) Reconfigure(ctx context.Context, s Settings) error {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return errors.New("database provider is closed")
	}
	merged := p.settings.merge(s)
	p.mu.RUnlock()

	pool, err := connect(ctx, merged)
	if err != nil {
		return err
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		pool.Close()
		return errors.New("database provider is closed")
	}
	old := p.pool
	p.pool = pool
	p.settings = merged
	p.mu.Unlock()

	slog.Info("database pool reconfigured",
		"database", databaseName(merged.URL),
		"max_conns", merged.MaxConns,
	)
	go old.Close()
	return nil
}

// Close closes the current pool. The provider cannot be reconfigured after.
func (p *Provider) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	p.pool.Close()
}

func (s Settings) merge(o Settings) Settings {
	if o.URL != "" {
		s.URL = o.URL
	}
	if o.MaxConns > 0 {
		s.MaxConns = o.MaxConns
	}
	if o.MinConns > 0 {
		s.MinConns = o.MinConns
	}
	if o.MaxConnLifetime > 0 {
		s.MaxConnLifetime = o.MaxConnLifetime
	}
	if o.MaxConnIdleTime > 0 {
		s.MaxConnIdleTime = o.MaxConnIdleTime
	}
	return s
}

func connect(ctx context.Context, s Settings) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(s.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}

	if s.MaxConns > 0 {
		poolConfig.MaxConns = int32(s.MaxConns)
	}
	if s.MinConns > 0 {
		poolConfig.MinConns = int32(s.MinConns)
	}
	if s.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = s.MaxConnLifetime
	}
	if s.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = s.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// databaseName extracts the database name from a connection URL.
func databaseName(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(u.Path, "/")
}
