package session

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	nchess "github.com/corentings/chess/v2"
	"github.com/redis/go-redis/v9"
	"nhooyr.io/websocket"

	"github.com/park285/retrouci/internal/archive"
	"github.com/park285/retrouci/internal/journal"
	"github.com/park285/retrouci/internal/profile"
	"github.com/park285/retrouci/internal/target"
	"github.com/park285/retrouci/internal/target/simtarget"
	"github.com/park285/retrouci/internal/uci"
)

const waitTimeout = 3 * time.Second

type profileMap map[string]profile.Profile

func (m profileMap) Get(key string) (profile.Profile, error) {
	p, ok := m[key]
	if !ok {
		return profile.Profile{}, fmt.Errorf("%w: %s", profile.ErrNotFound, key)
	}
	return p, nil
}

type fakeArchive struct {
	mu   sync.Mutex
	recs []archive.Record
}

func (a *fakeArchive) SaveResult(_ context.Context, rec archive.Record) error {
	a.mu.Lock()
	a.recs = append(a.recs, rec)
	a.mu.Unlock()
	return nil
}

func (a *fakeArchive) records() []archive.Record {
	a.mu.Lock()
	defer a.mu.Unlock()
	return slices.Clone(a.recs)
}

type testBed struct {
	runner  *Runner
	archive *fakeArchive
	store   *journal.Store
	builds  *int
}

func newSim() target.Target {
	return simtarget.New(simtarget.Config{
		Info:        target.Info{Name: "Retro Sim", Author: "retrouci"},
		Caps:        target.Capabilities{StopMidCompute: true},
		EngineColor: nchess.Black,
	})
}

// stuckTarget never finishes Shutdown.
type stuckTarget struct {
	target.Target
}

func (stuckTarget) Shutdown(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func newTestBed(t *testing.T, withJournal bool) *testBed {
	return newTestBedWith(t, withJournal, newSim)
}

func newTestBedWith(t *testing.T, withJournal bool, build func() target.Target) *testBed {
	t.Helper()
	builds := 0
	var mu sync.Mutex
	pool := target.NewPool(target.PoolConfig{DefaultCapacity: 1})
	err := pool.Register("sim", 1, func(context.Context, int) (target.Target, error) {
		mu.Lock()
		builds++
		mu.Unlock()
		return build(), nil
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	bed := &testBed{archive: &fakeArchive{}, builds: &builds}
	deps := Deps{
		Profiles: profileMap{"sim": {Key: "sim", Name: "Retro Sim", Driver: profile.DriverSim, EngineColor: "black", PollInterval: 2 * time.Millisecond, StableSamples: 1}},
		Pool:     pool,
		Archive:  bed.archive,

		ShutdownTimeout: 500 * time.Millisecond,
		InfoInterval:    time.Hour,
	}
	if withJournal {
		mr, err := miniredis.Run()
		if err != nil {
			t.Fatalf("miniredis: %v", err)
		}
		t.Cleanup(mr.Close)
		bed.store = journal.NewStore(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
		deps.Journal = bed.store
	}
	bed.runner = NewRunner(deps)
	return bed
}

// syncLines collects written output and lets a test wait for a line.
type syncLines struct {
	mu  sync.Mutex
	buf strings.Builder
}

func (s *syncLines) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Write(p)
}

func (s *syncLines) lines() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return strings.Split(strings.TrimSpace(s.buf.String()), "\n")
}

func (s *syncLines) waitFor(t *testing.T, line string) {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for time.Now().Before(deadline) {
		if slices.Contains(s.lines(), line) {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("never saw %q in %q", line, s.lines())
}

func TestServeLinesPlaysAGame(t *testing.T) {
	bed := newTestBed(t, false)
	in, feed := io.Pipe()
	out := &syncLines{}
	done := make(chan error, 1)
	go func() { done <- ServeLines(context.Background(), in, out, bed.runner.Bind("sim")) }()

	fmt.Fprintln(feed, "uci")
	fmt.Fprintln(feed, "isready")
	out.waitFor(t, "readyok")
	fmt.Fprintln(feed, "")
	fmt.Fprintln(feed, "position startpos moves e2e4")
	fmt.Fprintln(feed, "go wtime 1000 btime 1000")
	out.waitFor(t, "bestmove a7a5")
	feed.Close()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("ServeLines: %v", err)
		}
	case <-time.After(waitTimeout):
		t.Fatalf("EOF did not end the session")
	}
	lines := out.lines()
	if lines[0] != "id name Retro Sim" || !slices.Contains(lines, "uciok") {
		t.Fatalf("unexpected handshake %q", lines)
	}
	recs := bed.archive.records()
	if len(recs) != 1 || !slices.Equal(recs[0].MovesUCI, []string{"e2e4", "a7a5"}) || recs[0].Profile != "sim" || recs[0].SessionID == "" {
		t.Fatalf("unexpected archive %+v", recs)
	}
}

func TestRunnerReusesTargets(t *testing.T) {
	bed := newTestBed(t, false)
	for i := 0; i < 2; i++ {
		in := strings.NewReader("isready\nquit\n")
		if err := ServeLines(context.Background(), in, io.Discard, bed.runner.Bind("sim")); err != nil {
			t.Fatalf("session %d: %v", i, err)
		}
	}
	if *bed.builds != 1 {
		t.Fatalf("expected one target build, got %d", *bed.builds)
	}
	if _, err := bed.runner.Run(context.Background(), "chess19xx", nil, func(string) {}); err == nil {
		t.Fatalf("unknown profile accepted")
	}
}

// lineCommands feeds lines and then closes, like a GUI that hung up.
func lineCommands(lines ...string) <-chan uci.Command {
	ch := make(chan uci.Command, len(lines))
	for _, line := range lines {
		if cmd, ok := uci.Parse(line, time.Now()); ok {
			ch <- cmd
		}
	}
	close(ch)
	return ch
}

func TestRunnerDiscardsUncleanTarget(t *testing.T) {
	bed := newTestBedWith(t, false, func() target.Target { return stuckTarget{Target: newSim()} })
	for i := 0; i < 2; i++ {
		sum, err := bed.runner.Run(context.Background(), "sim", lineCommands("isready", "quit"), func(string) {})
		if err != nil {
			t.Fatalf("session %d: %v", i, err)
		}
		if sum.CleanShutdown || sum.Critical {
			t.Fatalf("session %d: expected an unclean, non-critical end, got %+v", i, sum)
		}
	}
	// capacity is one, so a reused target would have left builds at 1
	if *bed.builds != 2 {
		t.Fatalf("a target that did not stop must be rebuilt, builds=%d", *bed.builds)
	}
}

func TestWebsocketSession(t *testing.T) {
	bed := newTestBed(t, true)
	srv := httptest.NewServer(NewWSServer(bed.runner, bed.store, "sim").Handler())
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/uci?profile=sim", nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.CloseNow()

	readUntil := func(want string) {
		t.Helper()
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				t.Fatalf("waiting for %q: %v", want, err)
			}
			if string(data) == want {
				return
			}
		}
	}

	if err := conn.Write(ctx, websocket.MessageText, []byte("uci\nisready")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	readUntil("readyok")

	var listing sessionsResponse
	deadline := time.Now().Add(waitTimeout)
	for time.Now().Before(deadline) {
		resp, err := http.Get(srv.URL + "/sessions")
		if err != nil {
			t.Fatalf("GET /sessions: %v", err)
		}
		_ = json.NewDecoder(resp.Body).Decode(&listing)
		resp.Body.Close()
		if len(listing.Journal) == 1 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if listing.Local["sim"] != 1 || len(listing.Journal) != 1 || listing.Journal[0].Profile != "sim" {
		t.Fatalf("unexpected listing %+v", listing)
	}

	if err := conn.Write(ctx, websocket.MessageText, []byte("position startpos moves d2d4\ngo")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	readUntil("bestmove a7a5")
	if err := conn.Write(ctx, websocket.MessageText, []byte("quit")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	readUntil("info string shutdown complete")
	if _, _, err := conn.Read(ctx); websocket.CloseStatus(err) != websocket.StatusNormalClosure {
		t.Fatalf("expected a normal close, got %v", err)
	}

	active, err := bed.store.Active(context.Background())
	if err != nil || len(active) != 0 {
		t.Fatalf("finished session still journaled as active: %+v %v", active, err)
	}
}
