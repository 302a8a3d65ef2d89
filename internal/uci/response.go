package uci

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Fixed responses.
const (
	UCIOK    = "uciok"
	ReadyOK  = "readyok"
	NullMove = "0000"
)

func IDName(name string) string     { return "id name " + strings.TrimSpace(name) }
func IDAuthor(author string) string { return "id author " + strings.TrimSpace(author) }

// BestMove renders `bestmove <m> [ponder <p>]`.
func BestMove(move, ponder string) string {
	if strings.TrimSpace(move) == "" {
		move = NullMove
	}
	if ponder == "" {
		return "bestmove " + move
	}
	return "bestmove " + move + " ponder " + ponder
}

// InfoString renders a free-form info line.
func InfoString(format string, args ...any) string {
	msg := format
	if len(args) > 0 {
		msg = fmt.Sprintf(format, args...)
	}
	return "info string " + strings.ReplaceAll(msg, "\n", " ")
}

// Info is a search progress report. Time is thinking time only. Setup goes out on its
// own info string line because pv runs to the end of its line.
type Info struct {
	Time  time.Duration
	Setup time.Duration
	PV    []string
}

// Lines renders the report as one or two info lines.
func (i Info) Lines() []string {
	var sb strings.Builder
	sb.WriteString("info time ")
	sb.WriteString(strconv.FormatInt(i.Time.Milliseconds(), 10))
	if len(i.PV) > 0 {
		sb.WriteString(" pv ")
		sb.WriteString(strings.Join(i.PV, " "))
	}
	out := []string{sb.String()}
	if i.Setup > 0 {
		out = append(out, InfoString("setup %dms", i.Setup.Milliseconds()))
	}
	return out
}

// OptionSpec describes one `option` line.
type OptionSpec struct {
	Name    string
	Type    string // check | spin | combo | button | string
	Default string
	Min     *int
	Max     *int
	Vars    []string
}

func (o OptionSpec) String() string {
	var sb strings.Builder
	sb.WriteString("option name ")
	sb.WriteString(o.Name)
	sb.WriteString(" type ")
	sb.WriteString(o.Type)
	if o.Type != "button" {
		sb.WriteString(" default ")
		if o.Default == "" && o.Type == "string" {
			sb.WriteString("<empty>")
		} else {
			sb.WriteString(o.Default)
		}
	}
	if o.Min != nil {
		sb.WriteString(" min ")
		sb.WriteString(strconv.Itoa(*o.Min))
	}
	if o.Max != nil {
		sb.WriteString(" max ")
		sb.WriteString(strconv.Itoa(*o.Max))
	}
	for _, v := range o.Vars {
		sb.WriteString(" var ")
		sb.WriteString(v)
	}
	return sb.String()
}
