package journal

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/park285/retrouci/internal/connector"
	"github.com/park285/retrouci/internal/obslog"
)

const (
	recorderBuffer = 128
	writeTimeout   = 2 * time.Second
)

// Recorder is a connector.Observer that writes snapshots on its own goroutine. The
// Connector never waits on Redis: when the buffer is full the snapshot is dropped.
type Recorder struct {
	store   *Store
	profile string
	logger  *zap.Logger

	ch        chan connector.Snapshot
	done      chan struct{}
	closeOnce sync.Once
}

var _ connector.Observer = (*Recorder)(nil)

func NewRecorder(store *Store, profile string) *Recorder {
	r := &Recorder{
		store:   store,
		profile: profile,
		logger:  obslog.L().With(zap.String("profile", profile)),
		ch:      make(chan connector.Snapshot, recorderBuffer),
		done:    make(chan struct{}),
	}
	go r.loop()
	return r
}

func (r *Recorder) Observe(s connector.Snapshot) {
	select {
	case r.ch <- s:
	default:
		r.logger.Warn("journal_drop", zap.String("session_id", s.SessionID), zap.String("state", s.State))
	}
}

// Close는 남은 스냅샷을 기록하고 writer를 멈춘다.
func (r *Recorder) Close() {
	r.closeOnce.Do(func() { close(r.ch) })
	<-r.done
}

func (r *Recorder) loop() {
	defer close(r.done)
	for s := range r.ch {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		e := Entry{Profile: r.profile, Snapshot: s}
		var err error
		if s.State == connector.StateTerminating.String() {
			err = r.store.Finish(ctx, e)
		} else {
			err = r.store.Save(ctx, e)
		}
		cancel()
		if err != nil {
			r.logger.Warn("journal_write_error", zap.String("session_id", s.SessionID), zap.Error(err))
		}
	}
}
