// Package central wires the process-wide resources together: the database,
// the token revocation store and one retry client per peer instance. It
// also assembles the health report.
package central

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/erazemk/lostfound/internal/auth"
	"github.com/erazemk/lostfound/internal/cache"
	"github.com/erazemk/lostfound/internal/config"
	"github.com/erazemk/lostfound/internal/db"
	"github.com/erazemk/lostfound/internal/peer"
	"github.com/erazemk/lostfound/internal/store"
)

// Health status values.
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"

	DatabaseConnected    = "connected"
	DatabaseDisconnected = "disconnected"

	ServiceUp   = "up"
	ServiceDown = "down"
)

// PingPath is the peer liveness endpoint. It does not probe further peers,
// so instances that list each other do not recurse.
const PingPath = "/api/ping"

// probeTimeout bounds a whole health check, retries included.
const probeTimeout = 10 * time.Second

// HealthReport is the body of GET /api/health.
type HealthReport struct {
	Server    string            `json:"server"`
	Status    string            `json:"status"`
	Database  string            `json:"database"`
	Services  map[string]string `json:"services"`
	Timestamp string            `json:"timestamp"`
}

// Control owns the shared resources of a running instance.
type Control struct {
	DB        *sql.DB
	Driver    string
	JWTSecret string
	Revoker   auth.Revoker

	name  string
	peers map[string]*peer.Client
	redis *cache.Revocations
	now   func() time.Time
}

// New opens everything cfg describes. On error, whatever was already
// opened is closed again.
func New(ctx context.Context, cfg *config.Config) (*Control, error) {
	c := &Control{
		Driver: cfg.Database.Driver,
		name:   cfg.Server.Name,
		peers:  make(map[string]*peer.Client, len(cfg.Peers)),
		now:    time.Now,
	}

	database, err := OpenDatabase(cfg.Database.Driver, cfg.DSN())
	if err != nil {
		return nil, err
	}
	c.DB = database

	c.JWTSecret = cfg.Auth.JWTSecret
	if c.JWTSecret == "" {
		c.JWTSecret, err = store.GetJWTSecret(ctx, database)
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("loading jwt secret: %w", err)
		}
	}

	for name, baseURL := range cfg.Peers {
		client, err := NewPeerClient(cfg.Client, baseURL)
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("peer %s: %w", name, err)
		}
		c.peers[name] = client
		slog.Info("peer client created", "peer", name, "url", client.BaseURL(),
			"max_attempts", cfg.Client.MaxAttempts, "retry_delay", cfg.Client.RetryDelay)
	}

	if cfg.Redis.Addr != "" {
		c.redis = cache.NewRevocations(redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}))
		c.Revoker = c.redis
		slog.Info("token revocations stored in redis", "addr", cfg.Redis.Addr)
	} else {
		c.Revoker = &store.Revocations{DB: database}
	}

	return c, nil
}

// OpenDatabase opens the database and makes sure the schema exists.
func OpenDatabase(driver, dsn string) (*sql.DB, error) {
	slog.Info("opening database", "driver", driver)
	database, err := db.Open(driver, dsn)
	if err != nil {
		slog.Error("failed to open database", "driver", driver, "error", err)
		return nil, err
	}
	if err := db.EnsureSchema(database, driver); err != nil {
		database.Close()
		slog.Error("failed to ensure database schema", "error", err)
		return nil, fmt.Errorf("ensuring schema: %w", err)
	}
	slog.Info("database ready", "driver", driver)
	return database, nil
}

// NewPeerClient builds a retry client for baseURL with the shared client
// settings.
func NewPeerClient(cfg config.ClientConfig, baseURL string) (*peer.Client, error) {
	return peer.New(peer.Options{
		BaseURL:        baseURL,
		Timeout:        cfg.Timeout,
		ConnectTimeout: cfg.ConnectTimeout,
		MaxAttempts:    cfg.MaxAttempts,
		RetryDelay:     cfg.RetryDelay,
	})
}

// Name is the configured server name.
func (c *Control) Name() string {
	return c.name
}

// PeerNames returns the configured peer names in sorted order.
func (c *Control) PeerNames() []string {
	names := make([]string, 0, len(c.peers))
	for name := range c.peers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Peer returns the client for a configured peer.
func (c *Control) Peer(name string) (*peer.Client, bool) {
	client, ok := c.peers[name]
	return client, ok
}

// ProbeServices checks every peer (and Redis, when used) concurrently and
// returns "up" or "down" per service.
func (c *Control) ProbeServices(ctx context.Context) map[string]string {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	services := make(map[string]string, len(c.peers)+1)
	var mu sync.Mutex
	var wg sync.WaitGroup
	set := func(name string, err error) {
		state := ServiceUp
		if err != nil {
			state = ServiceDown
		}
		mu.Lock()
		services[name] = state
		mu.Unlock()
	}

	for name, client := range c.peers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := client.Get(ctx, PingPath, nil)
			set(name, err)
		}()
	}
	if c.redis != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			set("redis", c.redis.Ping(ctx))
		}()
	}
	wg.Wait()
	return services
}

// Health reports the database and service states. The database decides
// between healthy and unhealthy; a down service only degrades.
func (c *Control) Health(ctx context.Context) HealthReport {
	report := HealthReport{
		Server:    c.name,
		Status:    StatusHealthy,
		Database:  DatabaseConnected,
		Timestamp: c.now().UTC().Format(time.RFC3339),
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	err := db.Ping(pingCtx, c.DB)
	cancel()
	if err != nil {
		slog.Error("health check: database unreachable", "error", err)
		report.Database = DatabaseDisconnected
	}

	report.Services = c.ProbeServices(ctx)

	switch {
	case report.Database != DatabaseConnected:
		report.Status = StatusUnhealthy
	case anyDown(report.Services):
		report.Status = StatusDegraded
	}
	return report
}

func anyDown(services map[string]string) bool {
	for _, state := range services {
		if state != ServiceUp {
			return true
		}
	}
	return false
}

// Close releases the Redis client and the database.
func (c *Control) Close() error {
	var errs []error
	if c.redis != nil {
		errs = append(errs, c.redis.Close())
	}
	if c.DB != nil {
		errs = append(errs, c.DB.Close())
	}
	return errors.Join(errs...)
}
