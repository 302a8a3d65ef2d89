// Package profile loads target profiles: which legacy program a session drives, the
// driver that reaches it and what it can do.
package profile

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	nchess "github.com/corentings/chess/v2"
	yaml "gopkg.in/yaml.v3"

	"github.com/park285/retrouci/internal/target"
	"github.com/park285/retrouci/internal/target/board"
)

//go:embed profiles.yaml
var defaultFiles embed.FS

// ErrNotFound is returned for an unknown profile key.
var ErrNotFound = errors.New("profile: not found")

// Driver names.
const (
	DriverAgent     = "agent"
	DriverSim       = "sim"
	DriverUCIEngine = "uciengine"
)

type Profile struct {
	Key string `yaml:"-"`

	Name         string          `yaml:"name"`
	Author       string          `yaml:"author"`
	Year         string          `yaml:"year"`
	Driver       string          `yaml:"driver"`
	EngineColor  string          `yaml:"engine_color"`
	Capabilities []string        `yaml:"capabilities"`
	Options      []target.Option `yaml:"options"`

	SetupLatencyCeiling time.Duration `yaml:"setup_latency_ceiling"`
	MoveLatencyCeiling  time.Duration `yaml:"move_latency_ceiling"`
	PollInterval        time.Duration `yaml:"poll_interval"`
	StableSamples       int           `yaml:"stable_samples"`

	Agent     *AgentSpec  `yaml:"agent,omitempty"`
	Sim       *SimSpec    `yaml:"sim,omitempty"`
	UCIEngine *EngineSpec `yaml:"uciengine,omitempty"`
}

// AgentSpec lists the automation agents; each endpoint is one pool slot.
type AgentSpec struct {
	Endpoints []string      `yaml:"endpoints"`
	TokenEnv  string        `yaml:"token_env"`
	Timeout   time.Duration `yaml:"timeout"`
}

type SimSpec struct {
	Script      []string      `yaml:"script"`
	ThinkTime   time.Duration `yaml:"think_time"`
	InputDelay  time.Duration `yaml:"input_delay"`
	BootDelay   time.Duration `yaml:"boot_delay"`
	DirectMoves bool          `yaml:"direct_moves"`
}

type EngineSpec struct {
	Path        string            `yaml:"path"`
	Args        []string          `yaml:"args"`
	GoArgs      []string          `yaml:"go_args"`
	SetOptions  map[string]string `yaml:"set_options"`
	DirectMoves bool              `yaml:"direct_moves"`
}

// Info is the identity reported to the GUI.
func (p Profile) Info() target.Info {
	return target.Info{Name: p.Name, Author: p.Author, Year: p.Year, Options: slices.Clone(p.Options)}
}

// Caps builds the capability descriptor from the profile tags.
func (p Profile) Caps() (target.Capabilities, error) {
	base := target.Capabilities{
		SetupLatencyCeiling: p.SetupLatencyCeiling,
		MoveLatencyCeiling:  p.MoveLatencyCeiling,
	}
	caps, err := target.WithFeatures(base, p.Capabilities...)
	if err != nil {
		return target.Capabilities{}, fmt.Errorf("profile %s: %w", p.Key, err)
	}
	return caps, nil
}

// Color is the side the legacy program plays.
func (p Profile) Color() nchess.Color {
	c, err := board.ParseColor(p.EngineColor)
	if err != nil {
		return nchess.White
	}
	return c
}

// Capacity는 동시에 띄울 수 있는 타깃 수. 0이면 풀 기본값.
func (p Profile) Capacity() int {
	if p.Driver == DriverAgent && p.Agent != nil {
		return len(p.Agent.Endpoints)
	}
	return 0
}

// Validate checks the fields a driver needs.
func (p Profile) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("profile %s: name required", p.Key)
	}
	if _, err := board.ParseColor(p.EngineColor); err != nil {
		return fmt.Errorf("profile %s: %w", p.Key, err)
	}
	if _, err := p.Caps(); err != nil {
		return err
	}
	if p.StableSamples < 0 || p.PollInterval < 0 {
		return fmt.Errorf("profile %s: negative polling settings", p.Key)
	}
	switch p.Driver {
	case DriverAgent:
		if p.Agent == nil || len(p.Agent.Endpoints) == 0 {
			return fmt.Errorf("profile %s: agent driver needs endpoints", p.Key)
		}
	case DriverSim:
	case DriverUCIEngine:
		if p.UCIEngine == nil || strings.TrimSpace(p.UCIEngine.Path) == "" {
			return fmt.Errorf("profile %s: uciengine driver needs a path", p.Key)
		}
	default:
		return fmt.Errorf("profile %s: unknown driver %q", p.Key, p.Driver)
	}
	return nil
}

type file struct {
	Profiles map[string]Profile `yaml:"profiles"`
}

// Catalog holds the embedded profiles plus overrides.
type Catalog struct {
	mu       sync.RWMutex
	profiles map[string]Profile
}

// Load reads the embedded profiles, then the override file if path is set.
func Load(overridePath string) (*Catalog, error) {
	c := &Catalog{profiles: make(map[string]Profile)}
	raw, err := fs.ReadFile(defaultFiles, "profiles.yaml")
	if err != nil {
		return nil, fmt.Errorf("read embedded profiles: %w", err)
	}
	if err := c.apply(raw); err != nil {
		return nil, fmt.Errorf("embedded profiles: %w", err)
	}
	if strings.TrimSpace(overridePath) != "" {
		b, err := os.ReadFile(overridePath)
		if err != nil {
			return nil, fmt.Errorf("read profile overrides: %w", err)
		}
		if err := c.apply(b); err != nil {
			return nil, fmt.Errorf("parse %s: %w", overridePath, err)
		}
	}
	return c, nil
}

func (c *Catalog) apply(b []byte) error {
	var f file
	if err := yaml.Unmarshal(b, &f); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, p := range f.Profiles {
		p.Key = key
		if err := p.Validate(); err != nil {
			return err
		}
		c.profiles[key] = p
	}
	return nil
}

func (c *Catalog) Get(key string) (Profile, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.profiles[key]
	if !ok {
		return Profile{}, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return p, nil
}

// Keys lists profile keys in sorted order.
func (c *Catalog) Keys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	keys := make([]string, 0, len(c.profiles))
	for k := range c.profiles {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
