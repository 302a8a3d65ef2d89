package session

import (
	"bufio"
	"context"
	"io"
	"sync"
	"time"

	"github.com/park285/retrouci/internal/connector"
	"github.com/park285/retrouci/internal/uci"
)

// lineWriter writes one flushed line per call and is safe for concurrent use.
type lineWriter struct {
	mu sync.Mutex
	w  *bufio.Writer
}

func (lw *lineWriter) write(line string) error {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	if _, err := lw.w.WriteString(line + "\n"); err != nil {
		return err
	}
	return lw.w.Flush()
}

// ServeLines runs a session over a line stream such as stdin/stdout. End of input is
// treated as quit.
func ServeLines(ctx context.Context, r io.Reader, w io.Writer, run RunFunc) error {
	out := &lineWriter{w: bufio.NewWriter(w)}
	commands := make(chan uci.Command, 16)
	done := make(chan struct{})
	defer close(done)

	go func() {
		defer close(commands)
		sc := bufio.NewScanner(r)
		sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for sc.Scan() {
			cmd, ok := uci.Parse(sc.Text(), time.Now())
			if !ok {
				continue
			}
			select {
			case commands <- cmd:
			case <-done:
				return
			case <-ctx.Done():
				return
			}
			if cmd.Name == uci.CmdQuit {
				return
			}
		}
	}()

	sink := connector.Sink(func(line string) { _ = out.write(line) })
	return run(ctx, commands, sink)
}
