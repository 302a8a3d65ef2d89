// Package agent drives a legacy program through an HTTP automation agent running next
// to the emulator. The agent owns screen reading and input injection; this side only
// maps the target contract onto its JSON endpoints:
//
//	POST /start       boot the emulator and the program
//	POST /navigate    walk the menus to a fresh game
//	GET  /state       {"placement","thinking","move","ponder"}
//	POST /move        {"move":"e2e4"}
//	POST /position    {"fen":"..."}; 501 when the program has no board editor
//	POST /option      {"name","value"}
//	POST /cancel      {"accepted":bool}
//	POST /shutdown
package agent

import (
	"context"
	"errors"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/park285/retrouci/internal/obslog"
	"github.com/park285/retrouci/internal/target"
)

const cancelTimeout = 2 * time.Second

type moveRequest struct {
	Move string `json:"move"`
}

type positionRequest struct {
	FEN string `json:"fen"`
}

type optionRequest struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type cancelResponse struct {
	Accepted bool `json:"accepted"`
}

// Target is a target.Target backed by an agent Client.
type Target struct {
	client *Client
	info   target.Info
	caps   target.Capabilities
	logger *zap.Logger
}

var (
	_ target.Target       = (*Target)(nil)
	_ target.OptionSetter = (*Target)(nil)
)

func New(client *Client, info target.Info, caps target.Capabilities) *Target {
	return &Target{
		client: client,
		info:   info,
		caps:   caps,
		logger: obslog.L().With(zap.String("agent", client.BaseURL())),
	}
}

func (t *Target) Info() target.Info                 { return t.info }
func (t *Target) Capabilities() target.Capabilities { return t.caps }

func (t *Target) Start(ctx context.Context) error {
	return t.client.doJSON(ctx, fasthttp.MethodPost, "/start", nil, nil, false)
}

func (t *Target) NavigateToGame(ctx context.Context) error {
	return t.client.doJSON(ctx, fasthttp.MethodPost, "/navigate", nil, nil, false)
}

func (t *Target) QueryState(ctx context.Context) (target.Observation, error) {
	var obs target.Observation
	if err := t.client.doJSON(ctx, fasthttp.MethodGet, "/state", nil, &obs, true); err != nil {
		return target.Observation{}, err
	}
	if obs.At.IsZero() {
		obs.At = time.Now()
	}
	return obs, nil
}

func (t *Target) ApplyMove(ctx context.Context, move string) error {
	return t.client.doJSON(ctx, fasthttp.MethodPost, "/move", moveRequest{Move: move}, nil, false)
}

func (t *Target) SetArbitraryState(ctx context.Context, fen string) error {
	if !t.caps.ArbitraryPosition {
		return target.ErrUnsupported
	}
	err := t.client.doJSON(ctx, fasthttp.MethodPost, "/position", positionRequest{FEN: fen}, nil, false)
	var se *StatusError
	if errors.As(err, &se) && se.Code == fasthttp.StatusNotImplemented {
		return target.ErrUnsupported
	}
	return err
}

func (t *Target) SetOption(ctx context.Context, name, value string) error {
	return t.client.doJSON(ctx, fasthttp.MethodPost, "/option", optionRequest{Name: name, Value: value}, nil, false)
}

// RequestCancel asks the program to move now. It may run concurrently with a poll.
func (t *Target) RequestCancel() bool {
	if !t.caps.StopMidCompute {
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), cancelTimeout)
	defer cancel()
	var resp cancelResponse
	if err := t.client.doJSON(ctx, fasthttp.MethodPost, "/cancel", nil, &resp, false); err != nil {
		t.logger.Warn("agent_cancel_error", zap.Error(err))
		return false
	}
	return resp.Accepted
}

func (t *Target) Shutdown(ctx context.Context) error {
	return t.client.doJSON(ctx, fasthttp.MethodPost, "/shutdown", nil, nil, false)
}
