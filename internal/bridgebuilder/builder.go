// Package bridgebuilder assembles the runtime graph from an AppConfig: profile catalog,
// target pool, optional redis journal and optional postgres archive.
package bridgebuilder

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/park285/retrouci/internal/archive"
	"github.com/park285/retrouci/internal/config"
	"github.com/park285/retrouci/internal/journal"
	"github.com/park285/retrouci/internal/profile"
	"github.com/park285/retrouci/internal/session"
	"github.com/park285/retrouci/internal/target"
	"github.com/park285/retrouci/internal/target/agent"
	"github.com/park285/retrouci/internal/target/simtarget"
	"github.com/park285/retrouci/internal/target/uciengine"
)

type Deps struct {
	Catalog *profile.Catalog
	Pool    *target.Pool
	Journal *journal.Store
	Archive *archive.Repository
	Runner  *session.Runner

	redis *redis.Client
}

func New(cfg *config.AppConfig, logger *zap.Logger) (*Deps, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	catalog, err := profile.Load(cfg.ProfilesFile)
	if err != nil {
		return nil, fmt.Errorf("load profiles: %w", err)
	}

	pool := target.NewPool(target.PoolConfig{DefaultCapacity: cfg.PoolCapacity})
	for _, key := range catalog.Keys() {
		p, _ := catalog.Get(key)
		if err := pool.Register(key, p.Capacity(), Factory(p, cfg.AgentToken)); err != nil {
			return nil, err
		}
	}
	d := &Deps{Catalog: catalog, Pool: pool}

	// Journal (Redis optional)
	if strings.TrimSpace(cfg.RedisURL) != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		d.redis = redis.NewClient(opts)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err = d.redis.Ping(ctx).Err()
		cancel()
		if err != nil {
			_ = d.redis.Close()
			return nil, fmt.Errorf("ping redis: %w", err)
		}
		d.Journal = journal.NewStore(d.redis)
		logger.Info("journal_enabled", zap.String("addr", opts.Addr), zap.Int("db", opts.DB))
	}

	// Archive (Postgres optional)
	if strings.TrimSpace(cfg.DatabaseURL) != "" {
		repo, err := archive.NewRepository(cfg.DatabaseURL)
		if err != nil {
			d.closeStores()
			return nil, err
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err = repo.EnsureSchema(ctx)
		cancel()
		if err != nil {
			_ = repo.Close()
			d.closeStores()
			return nil, fmt.Errorf("archive schema: %w", err)
		}
		d.Archive = repo
		logger.Info("archive_enabled")
	}

	deps := session.Deps{
		Profiles:        catalog,
		Pool:            pool,
		Journal:         d.Journal,
		WatchInterval:   cfg.WatchInterval,
		InfoInterval:    cfg.InfoInterval,
		ShutdownTimeout: cfg.ShutdownTimeout,
	}
	// a nil *Repository must not become a non-nil Archiver
	if d.Archive != nil {
		deps.Archive = d.Archive
	}
	d.Runner = session.NewRunner(deps)
	return d, nil
}

// Close shuts down pooled targets, then the stores.
func (d *Deps) Close(ctx context.Context) error {
	err := d.Pool.Close(ctx)
	return errors.Join(err, d.closeStores())
}

func (d *Deps) closeStores() error {
	var errs []error
	if d.Archive != nil {
		errs = append(errs, d.Archive.Close())
	}
	if d.redis != nil {
		errs = append(errs, d.redis.Close())
	}
	return errors.Join(errs...)
}

// Factory builds targets for one profile. Agent slots map to endpoints in order.
func Factory(p profile.Profile, fallbackToken string) target.Factory {
	return func(_ context.Context, slot int) (target.Target, error) {
		caps, err := p.Caps()
		if err != nil {
			return nil, err
		}
		switch p.Driver {
		case profile.DriverAgent:
			return newAgentTarget(p, caps, slot, fallbackToken)
		case profile.DriverSim:
			spec := profile.SimSpec{}
			if p.Sim != nil {
				spec = *p.Sim
			}
			return simtarget.New(simtarget.Config{
				Info:        p.Info(),
				Caps:        caps,
				EngineColor: p.Color(),
				Script:      spec.Script,
				ThinkTime:   spec.ThinkTime,
				InputDelay:  spec.InputDelay,
				BootDelay:   spec.BootDelay,
				DirectMoves: spec.DirectMoves,
			}), nil
		case profile.DriverUCIEngine:
			spec := p.UCIEngine
			if spec == nil {
				return nil, fmt.Errorf("profile %s: missing uciengine section", p.Key)
			}
			return uciengine.New(uciengine.ExecLauncher(spec.Path, spec.Args...), uciengine.Config{
				Info:        p.Info(),
				Caps:        caps,
				EngineColor: p.Color(),
				GoArgs:      spec.GoArgs,
				SetOptions:  spec.SetOptions,
				DirectMoves: spec.DirectMoves,
			}), nil
		default:
			return nil, fmt.Errorf("profile %s: unknown driver %q", p.Key, p.Driver)
		}
	}
}

func newAgentTarget(p profile.Profile, caps target.Capabilities, slot int, fallbackToken string) (target.Target, error) {
	if p.Agent == nil || slot < 0 || slot >= len(p.Agent.Endpoints) {
		return nil, fmt.Errorf("profile %s: no agent endpoint for slot %d", p.Key, slot)
	}
	token := fallbackToken
	if env := strings.TrimSpace(p.Agent.TokenEnv); env != "" {
		if v := strings.TrimSpace(os.Getenv(env)); v != "" {
			token = v
		}
	}
	opts := []agent.Option{agent.WithTimeout(p.Agent.Timeout)}
	if token != "" {
		opts = append(opts, agent.WithHeaderProvider(func() map[string]string {
			return map[string]string{"X-Agent-Token": token}
		}))
	}
	client := agent.NewClient(p.Agent.Endpoints[slot], opts...)
	return agent.New(client, p.Info(), caps), nil
}
