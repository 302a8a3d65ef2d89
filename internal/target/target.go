// Package target defines the contract between the Connector and an automation object
// that drives one legacy chess program instance.
package target

import (
	"context"
	"errors"
	"time"
)

// ErrUnsupported is returned by operations the bound program cannot perform.
var ErrUnsupported = errors.New("target: operation unsupported")

// Target drives one legacy program. Except for RequestCancel, methods are only called
// one at a time. RequestCancel may be called while another method is in flight.
type Target interface {
	Info() Info
	Capabilities() Capabilities

	Start(ctx context.Context) error
	NavigateToGame(ctx context.Context) error
	QueryState(ctx context.Context) (Observation, error)
	ApplyMove(ctx context.Context, move string) error
	SetArbitraryState(ctx context.Context, fen string) error
	RequestCancel() bool
	Shutdown(ctx context.Context) error
}

// OptionSetter is implemented by targets that accept the options they declare in Info.
type OptionSetter interface {
	SetOption(ctx context.Context, name, value string) error
}

// Info is the program's identity as reported to the GUI.
type Info struct {
	Name    string
	Author  string
	Year    string
	Options []Option
}

// Option is a program setting exposed as a UCI option.
type Option struct {
	Name    string   `yaml:"name" json:"name"`
	Type    string   `yaml:"type" json:"type"`
	Default string   `yaml:"default" json:"default"`
	Min     *int     `yaml:"min,omitempty" json:"min,omitempty"`
	Max     *int     `yaml:"max,omitempty" json:"max,omitempty"`
	Vars    []string `yaml:"vars,omitempty" json:"vars,omitempty"`
}

// Observation is what the program currently shows. Placement is the piece-placement
// field of a FEN. Move and PonderMove are set only by targets that can read them directly.
type Observation struct {
	Placement  string    `json:"placement"`
	Thinking   bool      `json:"thinking"`
	Move       string    `json:"move,omitempty"`
	PonderMove string    `json:"ponder,omitempty"`
	At         time.Time `json:"at"`
}

// Factory creates a target for pool slot n.
type Factory func(ctx context.Context, slot int) (Target, error)
