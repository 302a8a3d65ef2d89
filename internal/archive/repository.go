// Package archive stores finished bridge games in Postgres.
package archive

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	nchess "github.com/corentings/chess/v2"
	_ "github.com/lib/pq"

	"github.com/park285/retrouci/internal/connector"
	"github.com/park285/retrouci/internal/uci"
)

//go:embed schema.sql
var schema string

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type Repository struct {
	db   execer
	conn *sql.DB
}

func NewRepository(databaseURL string) (*Repository, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(30 * time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Repository{db: db, conn: db}, nil
}

func (r *Repository) Close() error {
	if r == nil || r.conn == nil {
		return nil
	}
	return r.conn.Close()
}

// EnsureSchema creates the bridge_games table when it is missing.
func (r *Repository) EnsureSchema(ctx context.Context) error {
	if r == nil || r.db == nil {
		return nil
	}
	_, err := r.db.ExecContext(ctx, schema)
	return err
}

// Record is one finished session.
type Record struct {
	SessionID  string
	Profile    string
	TargetName string
	EngineSide string
	StartFEN   string
	MovesUCI   []string
	MovesSAN   []string
	Result     string
	ECO        string
	Opening    string
	Setup      time.Duration
	Thinking   time.Duration
	Fault      string
	Critical   bool
	StartedAt  time.Time
	EndedAt    time.Time
}

// RecordFrom turns a connector summary into a record.
func RecordFrom(profile string, s connector.Summary) Record {
	rec := Record{
		SessionID:  s.SessionID,
		Profile:    profile,
		TargetName: s.Target,
		EngineSide: strings.ToLower(s.EngineSide.Name()),
		StartFEN:   s.StartFEN,
		MovesUCI:   s.Moves,
		MovesSAN:   s.SAN,
		Setup:      s.Times.Setup,
		Thinking:   s.Times.Thinking,
		Critical:   s.Critical,
		StartedAt:  s.StartedAt,
		EndedAt:    s.EndedAt,
	}
	if s.Fault != nil {
		rec.Fault = s.Fault.Error()
	}
	rec.Result = "*"
	if game := replay(s.StartFEN, s.Moves); game != nil {
		rec.Result = resultToken(game.Outcome())
		if standardStart(s.StartFEN) {
			if code, title, ok := classifyOpening(game); ok {
				rec.ECO, rec.Opening = code, title
			}
		}
	}
	return rec
}

// SaveResult upserts a finished session.
func (r *Repository) SaveResult(ctx context.Context, rec Record) error {
	if r == nil || r.db == nil || strings.TrimSpace(rec.SessionID) == "" {
		return nil
	}
	movesUCIRaw, _ := json.Marshal(nonNil(rec.MovesUCI))
	movesSANRaw, _ := json.Marshal(nonNil(rec.MovesSAN))
	pgn := buildPGN(rec)

	q := `INSERT INTO bridge_games (
        session_id, profile, target_name, engine_side, start_fen,
        moves_uci, moves_san, pgn, result,
        setup_ms, thinking_ms, fault, critical,
        started_at, ended_at, eco, opening
      ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17
      ) ON CONFLICT (session_id) DO UPDATE SET
        profile=EXCLUDED.profile,
        target_name=EXCLUDED.target_name,
        engine_side=EXCLUDED.engine_side,
        start_fen=EXCLUDED.start_fen,
        moves_uci=EXCLUDED.moves_uci,
        moves_san=EXCLUDED.moves_san,
        pgn=EXCLUDED.pgn,
        result=EXCLUDED.result,
        setup_ms=EXCLUDED.setup_ms,
        thinking_ms=EXCLUDED.thinking_ms,
        fault=EXCLUDED.fault,
        critical=EXCLUDED.critical,
        started_at=EXCLUDED.started_at,
        ended_at=EXCLUDED.ended_at,
        eco=EXCLUDED.eco,
        opening=EXCLUDED.opening`

	_, err := r.db.ExecContext(ctx, q,
		rec.SessionID, rec.Profile, rec.TargetName, rec.EngineSide, rec.StartFEN,
		string(movesUCIRaw), string(movesSANRaw), pgn, rec.Result,
		rec.Setup.Milliseconds(), rec.Thinking.Milliseconds(), rec.Fault, rec.Critical,
		rec.StartedAt, rec.EndedAt, rec.ECO, rec.Opening,
	)
	return err
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func standardStart(fen string) bool { return fen == "" || fen == uci.StartFEN }

// replay rebuilds the game; nil if the record does not replay.
func replay(startFEN string, moves []string) *nchess.Game {
	var game *nchess.Game
	if standardStart(startFEN) {
		game = nchess.NewGame()
	} else {
		opt, err := nchess.FEN(startFEN)
		if err != nil {
			return nil
		}
		game = nchess.NewGame(opt)
	}
	for _, mv := range moves {
		if err := game.PushNotationMove(mv, nchess.UCINotation{}, nil); err != nil {
			return nil
		}
	}
	return game
}

func resultToken(o nchess.Outcome) string {
	switch o {
	case nchess.WhiteWon:
		return "1-0"
	case nchess.BlackWon:
		return "0-1"
	case nchess.Draw:
		return "1/2-1/2"
	default:
		return "*"
	}
}

func buildPGN(rec Record) string {
	var b strings.Builder
	date := rec.EndedAt
	if date.IsZero() {
		date = time.Now()
	}
	// 프로그램 쪽에 타깃 이름, 반대쪽은 GUI
	white, black := sanitizePGN(rec.TargetName), "GUI"
	if rec.EngineSide == "black" {
		white, black = black, white
	}
	result := rec.Result
	if result == "" {
		result = "*"
	}

	b.WriteString("[Event \"retrouci\"]\n")
	b.WriteString(fmt.Sprintf("[Site \"%s\"]\n", sanitizePGN(rec.Profile)))
	b.WriteString(fmt.Sprintf("[Date \"%04d.%02d.%02d\"]\n", date.Year(), int(date.Month()), date.Day()))
	b.WriteString(fmt.Sprintf("[White \"%s\"]\n", white))
	b.WriteString(fmt.Sprintf("[Black \"%s\"]\n", black))
	if rec.ECO != "" {
		b.WriteString(fmt.Sprintf("[ECO \"%s\"]\n", sanitizePGN(rec.ECO)))
		b.WriteString(fmt.Sprintf("[Opening \"%s\"]\n", sanitizePGN(rec.Opening)))
	}
	if !standardStart(rec.StartFEN) {
		b.WriteString("[SetUp \"1\"]\n")
		b.WriteString(fmt.Sprintf("[FEN \"%s\"]\n", sanitizePGN(rec.StartFEN)))
	}
	if rec.Fault != "" {
		b.WriteString("[Termination \"abandoned\"]\n")
	}
	b.WriteString(fmt.Sprintf("[Result \"%s\"]\n\n", result))

	turn, blackFirst := startTurn(rec.StartFEN)
	moves := rec.MovesSAN
	i := 0
	if blackFirst && len(moves) > 0 {
		b.WriteString(fmt.Sprintf("%d... %s ", turn, strings.TrimSpace(moves[0])))
		turn++
		i = 1
	}
	for ; i < len(moves); i += 2 {
		b.WriteString(fmt.Sprintf("%d. %s", turn, strings.TrimSpace(moves[i])))
		if i+1 < len(moves) {
			b.WriteString(" ")
			b.WriteString(strings.TrimSpace(moves[i+1]))
		}
		b.WriteString(" ")
		turn++
	}
	b.WriteString(result)
	return b.String()
}

// startTurn reads the full-move number and side to move from a FEN.
func startTurn(fen string) (int, bool) {
	fields := strings.Fields(fen)
	turn := 1
	if len(fields) >= 6 {
		if _, err := fmt.Sscanf(fields[5], "%d", &turn); err != nil || turn < 1 {
			turn = 1
		}
	}
	return turn, len(fields) >= 2 && fields[1] == "b"
}

func sanitizePGN(s string) string {
	s = strings.ReplaceAll(s, "\\", " ")
	s = strings.ReplaceAll(s, "\"", "'")
	return strings.TrimSpace(s)
}
