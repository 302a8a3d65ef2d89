package target

import (
	"fmt"
	"strings"
	"time"
)

// Feature is a capability tag.
type Feature string

const (
	FeatureArbitraryPosition Feature = "arbitrary_position"
	FeaturePonder            Feature = "ponder"
	FeatureStopMidCompute    Feature = "stop_mid_compute"
)

// Default latency ceilings.
const (
	DefaultSetupLatencyCeiling = 30 * time.Second
	DefaultMoveLatencyCeiling  = 180 * time.Second
)

// Capabilities is fixed when the target is built and never changes afterwards.
type Capabilities struct {
	ArbitraryPosition   bool
	Ponder              bool
	StopMidCompute      bool
	SetupLatencyCeiling time.Duration
	MoveLatencyCeiling  time.Duration
}

// Supports reports whether f is available. Unknown tags are unsupported.
func (c Capabilities) Supports(f Feature) bool {
	switch f {
	case FeatureArbitraryPosition:
		return c.ArbitraryPosition
	case FeaturePonder:
		return c.Ponder
	case FeatureStopMidCompute:
		return c.StopMidCompute
	default:
		return false
	}
}

// SetupCeiling returns the setup bound, falling back to the default.
func (c Capabilities) SetupCeiling() time.Duration {
	if c.SetupLatencyCeiling <= 0 {
		return DefaultSetupLatencyCeiling
	}
	return c.SetupLatencyCeiling
}

// MoveCeiling returns the search bound, falling back to the default.
func (c Capabilities) MoveCeiling() time.Duration {
	if c.MoveLatencyCeiling <= 0 {
		return DefaultMoveLatencyCeiling
	}
	return c.MoveLatencyCeiling
}

// Features lists the supported tags in a stable order.
func (c Capabilities) Features() []Feature {
	var out []Feature
	for _, f := range []Feature{FeatureArbitraryPosition, FeaturePonder, FeatureStopMidCompute} {
		if c.Supports(f) {
			out = append(out, f)
		}
	}
	return out
}

// ParseFeature validates a tag.
func ParseFeature(s string) (Feature, error) {
	f := Feature(strings.ToLower(strings.TrimSpace(s)))
	switch f {
	case FeatureArbitraryPosition, FeaturePonder, FeatureStopMidCompute:
		return f, nil
	}
	return "", fmt.Errorf("unknown capability %q", s)
}

// WithFeatures returns caps with the given tags enabled.
func WithFeatures(base Capabilities, tags ...string) (Capabilities, error) {
	out := base
	for _, tag := range tags {
		f, err := ParseFeature(tag)
		if err != nil {
			return Capabilities{}, err
		}
		switch f {
		case FeatureArbitraryPosition:
			out.ArbitraryPosition = true
		case FeaturePonder:
			out.Ponder = true
		case FeatureStopMidCompute:
			out.StopMidCompute = true
		}
	}
	return out, nil
}
