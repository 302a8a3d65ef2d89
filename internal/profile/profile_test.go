package profile

import (
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	nchess "github.com/corentings/chess/v2"
)

func TestEmbeddedProfiles(t *testing.T) {
	c, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := []string{"chess19xx", "grandmaster", "sim", "stockfish-stand-in"}
	if got := c.Keys(); !slices.Equal(got, want) {
		t.Fatalf("keys = %v, want %v", got, want)
	}

	gm, err := c.Get("grandmaster")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if gm.Info().Name != "Grandmaster Chess" || gm.Year != "1993" || gm.Driver != DriverAgent {
		t.Fatalf("unexpected grandmaster profile %+v", gm)
	}
	caps, err := gm.Caps()
	if err != nil {
		t.Fatalf("Caps: %v", err)
	}
	if caps.ArbitraryPosition || caps.Ponder || caps.StopMidCompute {
		t.Fatalf("grandmaster declares no features, got %+v", caps)
	}
	if caps.MoveCeiling() != 180*time.Second || gm.Capacity() != 1 {
		t.Fatalf("unexpected ceiling %v capacity %d", caps.MoveCeiling(), gm.Capacity())
	}

	sim, _ := c.Get("sim")
	simCaps, _ := sim.Caps()
	if !simCaps.ArbitraryPosition || !simCaps.Ponder || !simCaps.StopMidCompute {
		t.Fatalf("sim should support every feature, got %+v", simCaps)
	}
	if sim.Sim == nil || sim.Sim.ThinkTime != 1500*time.Millisecond {
		t.Fatalf("sim durations not decoded: %+v", sim.Sim)
	}

	sf, _ := c.Get("stockfish-stand-in")
	if len(sf.Info().Options) != 1 || *sf.Info().Options[0].Max != 20 {
		t.Fatalf("declared options not decoded: %+v", sf.Options)
	}
	if sf.UCIEngine.SetOptions["Skill Level"] != "1" {
		t.Fatalf("set_options not decoded: %+v", sf.UCIEngine)
	}

	if _, err := c.Get("chessmaster"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestOverrideFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "profiles.yaml")
	body := `profiles:
  grandmaster:
    name: Grandmaster Chess (lab)
    year: "1993"
    driver: agent
    engine_color: black
    capabilities: [stop_mid_compute]
    agent:
      endpoints: [http://10.0.0.2:7341, http://10.0.0.3:7341]
  lab-sim:
    name: Lab Sim
    driver: sim
    sim:
      script: [e2e4, g1f3]
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	gm, _ := c.Get("grandmaster")
	if gm.Name != "Grandmaster Chess (lab)" || gm.Color() != nchess.Black || gm.Capacity() != 2 {
		t.Fatalf("override not applied: %+v", gm)
	}
	lab, err := c.Get("lab-sim")
	if err != nil || !slices.Equal(lab.Sim.Script, []string{"e2e4", "g1f3"}) || lab.Color() != nchess.White {
		t.Fatalf("new profile not loaded: %+v %v", lab, err)
	}
}

func TestInvalidProfiles(t *testing.T) {
	cases := map[string]string{
		"unknown capability": "profiles:\n  x:\n    name: X\n    driver: sim\n    capabilities: [teleport]\n",
		"missing endpoints":  "profiles:\n  x:\n    name: X\n    driver: agent\n",
		"missing path":       "profiles:\n  x:\n    name: X\n    driver: uciengine\n",
		"unknown driver":     "profiles:\n  x:\n    name: X\n    driver: floppy\n",
		"bad colour":         "profiles:\n  x:\n    name: X\n    driver: sim\n    engine_color: green\n",
		"missing name":       "profiles:\n  x:\n    driver: sim\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "p.yaml")
			if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
				t.Fatalf("write: %v", err)
			}
			if _, err := Load(path); err == nil {
				t.Fatalf("expected an error")
			}
		})
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("missing override file should fail")
	}
}
