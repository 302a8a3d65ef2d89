package uciengine

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
)

var errEngineExited = errors.New("uciengine: engine output closed")

// Pipes is a running engine process seen through its standard streams.
type Pipes struct {
	Stdin  io.WriteCloser
	Stdout io.Reader
	Close  func() error
}

// Launcher starts one engine process.
type Launcher func(ctx context.Context) (*Pipes, error)

// ExecLauncher runs a binary. The process outlives the ctx passed to the launcher;
// it ends with Pipes.Close.
func ExecLauncher(path string, args ...string) Launcher {
	return func(ctx context.Context) (*Pipes, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		cmd := exec.Command(path, args...)
		stdin, err := cmd.StdinPipe()
		if err != nil {
			return nil, fmt.Errorf("create stdin pipe: %w", err)
		}
		stdout, err := cmd.StdoutPipe()
		if err != nil {
			stdin.Close()
			return nil, fmt.Errorf("create stdout pipe: %w", err)
		}
		cmd.Stderr = os.Stderr

		if err := cmd.Start(); err != nil {
			stdin.Close()
			stdout.Close()
			return nil, fmt.Errorf("start engine: %w", err)
		}
		return &Pipes{
			Stdin:  stdin,
			Stdout: stdout,
			Close: func() error {
				stdin.Close()
				if cmd.Process != nil {
					_ = cmd.Process.Kill()
				}
				err := cmd.Wait()
				var exitErr *exec.ExitError
				if errors.As(err, &exitErr) {
					// killed on purpose
					return nil
				}
				return err
			},
		}, nil
	}
}

// readLoop forwards trimmed lines until the stream ends, then closes out.
func readLoop(r io.Reader, out chan<- string) {
	defer close(out)
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		out <- strings.TrimSpace(sc.Text())
	}
}

func buildPositionCommand(fen string, moves []string) string {
	var sb strings.Builder
	if strings.TrimSpace(fen) == "" {
		sb.WriteString("position startpos")
	} else {
		sb.WriteString("position fen ")
		sb.WriteString(fen)
	}
	if len(moves) > 0 {
		sb.WriteString(" moves ")
		sb.WriteString(strings.Join(moves, " "))
	}
	sb.WriteString("\n")
	return sb.String()
}
