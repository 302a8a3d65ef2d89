// Package session connects a line transport to a Connector: it leases a target for the
// requested profile, runs the Connector until quit, then journals and archives the game.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/park285/retrouci/internal/archive"
	"github.com/park285/retrouci/internal/connector"
	"github.com/park285/retrouci/internal/journal"
	"github.com/park285/retrouci/internal/obslog"
	"github.com/park285/retrouci/internal/profile"
	"github.com/park285/retrouci/internal/target"
	"github.com/park285/retrouci/internal/uci"
)

const archiveTimeout = 5 * time.Second

var errUncleanShutdown = errors.New("session: target did not shut down cleanly")

// Profiles resolves a profile key.
type Profiles interface {
	Get(key string) (profile.Profile, error)
}

// Leaser hands out exclusive targets.
type Leaser interface {
	Acquire(ctx context.Context, key string) (target.Target, error)
	Release(t target.Target, err error)
}

// Archiver stores finished games.
type Archiver interface {
	SaveResult(ctx context.Context, rec archive.Record) error
}

type Deps struct {
	Profiles Profiles
	Pool     Leaser
	Journal  *journal.Store // optional
	Archive  Archiver       // optional

	WatchInterval   time.Duration
	InfoInterval    time.Duration
	ShutdownTimeout time.Duration
}

// RunFunc drives one session over an already open transport.
type RunFunc func(ctx context.Context, commands <-chan uci.Command, sink connector.Sink) error

type Runner struct {
	deps   Deps
	logger *zap.Logger
}

func NewRunner(deps Deps) *Runner {
	return &Runner{deps: deps, logger: obslog.L()}
}

// Bind fixes the profile, giving a RunFunc for a transport.
func (r *Runner) Bind(profileKey string) RunFunc {
	return func(ctx context.Context, commands <-chan uci.Command, sink connector.Sink) error {
		_, err := r.Run(ctx, profileKey, commands, sink)
		return err
	}
}

// Run plays one session. The target goes back to the pool only when the session ended
// without a critical failure and the target stopped cleanly.
// 종료가 깔끔하지 않은 타깃은 고루틴이 남아 있을 수 있어 다음 세션에 넘기지 않는다.
func (r *Runner) Run(ctx context.Context, profileKey string, commands <-chan uci.Command, sink connector.Sink) (connector.Summary, error) {
	p, err := r.deps.Profiles.Get(profileKey)
	if err != nil {
		return connector.Summary{}, err
	}
	id := uuid.NewString()
	logger := r.logger.With(zap.String("session_id", id), zap.String("profile", profileKey))

	t, err := r.deps.Pool.Acquire(ctx, profileKey)
	if err != nil {
		logger.Error("target_acquire_error", zap.Error(err))
		return connector.Summary{}, err
	}

	opts := []connector.Option{connector.WithLogger(logger)}
	var rec *journal.Recorder
	if r.deps.Journal != nil {
		rec = journal.NewRecorder(r.deps.Journal, profileKey)
		opts = append(opts, connector.WithObserver(rec))
	}

	c := connector.New(t, sink, connector.Config{
		SessionID:       id,
		EngineColor:     p.Color(),
		PollInterval:    p.PollInterval,
		StableSamples:   p.StableSamples,
		WatchInterval:   r.deps.WatchInterval,
		InfoInterval:    r.deps.InfoInterval,
		ShutdownTimeout: r.deps.ShutdownTimeout,
	}, opts...)

	logger.Info("session_start", zap.String("target", t.Info().Name))
	runErr := c.Run(ctx, commands)
	sum := c.Summary()

	switch {
	case sum.Critical:
		r.deps.Pool.Release(t, runErr)
	case !sum.CleanShutdown:
		logger.Warn("target_discarded", zap.Error(errUncleanShutdown))
		r.deps.Pool.Release(t, errUncleanShutdown)
	default:
		r.deps.Pool.Release(t, nil)
	}
	if rec != nil {
		rec.Close()
	}
	if r.deps.Archive != nil {
		actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), archiveTimeout)
		if err := r.deps.Archive.SaveResult(actx, archive.RecordFrom(profileKey, sum)); err != nil {
			logger.Warn("archive_save_error", zap.Error(err))
		}
		cancel()
	}
	logger.Info("session_end",
		zap.Int("moves", len(sum.Moves)),
		zap.Duration("setup", sum.Times.Setup),
		zap.Duration("thinking", sum.Times.Thinking),
		zap.Bool("critical", sum.Critical),
		zap.Bool("clean", sum.CleanShutdown),
	)
	return sum, runErr
}
