package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/park285/retrouci/internal/bridgebuilder"
	"github.com/park285/retrouci/internal/obslog"
	"github.com/park285/retrouci/internal/profile"
	"github.com/park285/retrouci/internal/target"
)

// targetcheck boots every slot of one profile, reads the board once and shuts it down.
func main() {
	if err := obslog.InitFromEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	logger := obslog.L()
	defer obslog.Sync()

	key := strings.TrimSpace(os.Getenv("RETROUCI_PROFILE"))
	if key == "" {
		key = "grandmaster"
	}
	catalog, err := profile.Load(os.Getenv("RETROUCI_PROFILES"))
	if err != nil {
		logger.Fatal("profiles", zap.Error(err))
	}
	p, err := catalog.Get(key)
	if err != nil {
		logger.Fatal("profile", zap.Error(err))
	}

	slots := p.Capacity()
	if slots == 0 {
		slots = 1
	}
	factory := bridgebuilder.Factory(p, os.Getenv("RETROUCI_AGENT_TOKEN"))
	failed := 0
	for slot := 0; slot < slots; slot++ {
		if err := probe(factory, slot, p.SetupLatencyCeiling, logger.With(zap.String("profile", key), zap.Int("slot", slot))); err != nil {
			failed++
		}
	}
	if failed > 0 {
		os.Exit(1)
	}
}

func probe(factory target.Factory, slot int, ceiling time.Duration, logger *zap.Logger) error {
	if ceiling <= 0 {
		ceiling = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), ceiling)
	defer cancel()

	t, err := factory(ctx, slot)
	if err != nil {
		logger.Error("build_error", zap.Error(err))
		return err
	}
	begin := time.Now()
	if err := t.Start(ctx); err != nil {
		logger.Error("start_error", zap.Error(err))
		return err
	}
	logger.Info("start_ok", zap.String("name", t.Info().Name), zap.Duration("took", time.Since(begin)))

	obs, err := t.QueryState(ctx)
	if err != nil {
		logger.Error("state_error", zap.Error(err))
	} else {
		logger.Info("state_ok", zap.String("placement", obs.Placement), zap.Bool("thinking", obs.Thinking))
	}

	sctx, scancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer scancel()
	if serr := t.Shutdown(sctx); serr != nil {
		logger.Warn("shutdown_error", zap.Error(serr))
	}
	return err
}
