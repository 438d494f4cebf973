// Package trainer drives endgame training sessions: it validates and
// applies player moves, grades them against the tablebase oracle, and
// plays the oracle-optimal reply for the opposing side.
package trainer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/freeeve/endgametrainer/internal/eval"
	"github.com/freeeve/endgametrainer/internal/fen"
	"github.com/freeeve/endgametrainer/internal/tablebase"
)

// ErrInvalidTurn is returned when a move arrives while it is not the
// player's turn: a reply is pending, blunder feedback is unresolved, or
// the game is over. A UI-sync error, surfaced as a no-op.
var ErrInvalidTurn = errors.New("not the player's turn")

// DefaultReplyDelay paces the opponent's reply so it reads as a move,
// not an instant rebuttal.
const DefaultReplyDelay = 500 * time.Millisecond

// State is the orchestrator's position in the move-handling cycle.
type State int

const (
	StateIdle State = iota
	StateValidating
	StateApplying
	StateEvaluating
	StateBranching
	StateFeedbackBlunder
	StateSchedulingReply
	StateTerminal
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateValidating:
		return "validating"
	case StateApplying:
		return "applying"
	case StateEvaluating:
		return "evaluating"
	case StateBranching:
		return "branching"
	case StateFeedbackBlunder:
		return "feedback-blunder"
	case StateSchedulingReply:
		return "scheduling-reply"
	case StateTerminal:
		return "terminal"
	default:
		return "unknown"
	}
}

// PositionEvaluator is the oracle stack interface; satisfied by
// *tablebase.Evaluator.
type PositionEvaluator interface {
	Evaluate(ctx context.Context, fenStr string) (*tablebase.Result, error)
	Peek(fenStr string) (*tablebase.Result, bool)
}

// Config configures a session.
type Config struct {
	Evaluator  PositionEvaluator
	Thresholds eval.Thresholds
	ReplyDelay time.Duration // DefaultReplyDelay if zero
	Logger     zerolog.Logger
}

// OutcomeKind is the shape of a handled move's result.
type OutcomeKind string

const (
	OutcomeAccepted        OutcomeKind = "accepted"
	OutcomeBlunderFlagged  OutcomeKind = "blunder_flagged"
	OutcomeGameOver        OutcomeKind = "game_over"
	OutcomeEvalUnavailable OutcomeKind = "evaluation_unavailable"
)

// MoveOutcome reports what happened to a player move. The move is on the
// board for every kind; blunder_flagged additionally halts play until the
// player decides to retry (rolling the move back) or continue, and
// evaluation_unavailable means the move stands but no feedback could be
// produced.
type MoveOutcome struct {
	Kind            OutcomeKind      `json:"kind"`
	UCI             string           `json:"uci,omitempty"`
	FENAfter        string           `json:"fen_after,omitempty"`
	Quality         *eval.Quality    `json:"quality,omitempty"`
	BestAlternative *eval.RankedMove `json:"best_alternative,omitempty"`
	EvalBefore      *eval.Formatted  `json:"eval_before,omitempty"`
	Result          GameResult       `json:"result,omitempty"`
}

// EventType tags asynchronous session events.
type EventType string

const (
	EventReply          EventType = "reply"
	EventReplyCancelled EventType = "reply_cancelled"
	EventReplyFailed    EventType = "reply_failed"
	EventGameOver       EventType = "game_over"
)

// Event is pushed on the session's event feed for the parts of a move
// cycle that complete after HandlePlayerMove has returned.
type Event struct {
	Type     EventType  `json:"type"`
	SAN      string     `json:"san,omitempty"`
	UCI      string     `json:"uci,omitempty"`
	FEN      string     `json:"fen,omitempty"`
	Result   GameResult `json:"result,omitempty"`
	ErrorMsg string     `json:"error,omitempty"`
}

// replyHandle is the cancellable handle for one scheduled opponent reply.
// It is owned by the session's own state, never by package-level state,
// so cancellation stays composable and testable.
type replyHandle struct {
	timer  *time.Timer
	cancel context.CancelFunc
	done   chan struct{}
}

// Session is one training game: a position, a player side, and the
// orchestrator state machine that sequences move handling.
type Session struct {
	id        string
	cfg       Config
	engine    *Engine
	evaluator PositionEvaluator
	log       zerolog.Logger

	mu           sync.Mutex
	state        State
	fenCurrent   string
	fenPrev      string // position before the player's last committed move
	playerSide   byte
	result       GameResult
	pendingReply *replyHandle

	// set while in StateFeedbackBlunder when the flagged move itself
	// ended the game; consumed by ResolveBlunder.
	blunderOver   bool
	blunderResult GameResult

	events chan Event

	movesHandled    uint64
	blundersFlagged uint64
	repliesPlayed   uint64
}

// NewSession starts a session at the given position with the given
// player side ('w' or 'b').
func NewSession(id string, cfg Config, fenStr string, playerSide byte) (*Session, error) {
	if _, err := fen.Normalize(fenStr); err != nil {
		return nil, err
	}
	if playerSide != 'w' && playerSide != 'b' {
		return nil, fmt.Errorf("%w: bad player side %q", fen.ErrInvalidPosition, playerSide)
	}
	if cfg.ReplyDelay == 0 {
		cfg.ReplyDelay = DefaultReplyDelay
	}
	return &Session{
		id:         id,
		cfg:        cfg,
		engine:     NewEngine(),
		evaluator:  cfg.Evaluator,
		log:        cfg.Logger.With().Str("session", id).Logger(),
		state:      StateIdle,
		fenCurrent: fenStr,
		playerSide: playerSide,
		events:     make(chan Event, 16),
	}, nil
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Events returns the asynchronous event feed. Events are dropped rather
// than blocking the orchestrator when no one is draining the channel.
func (s *Session) Events() <-chan Event { return s.events }

// HandlePlayerMove runs one full move-handling cycle:
// validate → apply → evaluate before/after → classify → branch.
//
// Oracle failures never undo the move: the board is the source of truth,
// feedback degrades to evaluation_unavailable and the session returns to
// idle so play can continue while the oracle is down.
func (s *Session) HandlePlayerMove(ctx context.Context, move string) (*MoveOutcome, error) {
	s.mu.Lock()
	if s.state != StateIdle || s.pendingReply != nil {
		state := s.state
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: session is %s", ErrInvalidTurn, state)
	}
	side, err := fen.SideToMove(s.fenCurrent)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	if side != s.playerSide {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: opponent to move", ErrInvalidTurn)
	}
	s.state = StateValidating
	fenBefore := s.fenCurrent
	s.mu.Unlock()

	s.setState(StateApplying)
	applied, err := s.engine.Apply(fenBefore, move)
	if err != nil {
		s.setState(StateIdle)
		return nil, err
	}
	atomic.AddUint64(&s.movesHandled, 1)

	s.setState(StateEvaluating)
	before, after, evalErr := s.evaluatePair(ctx, fenBefore, applied.FENAfter)
	if evalErr != nil {
		// The move already passed the legality engine; it stands.
		s.commitMove(fenBefore, applied.FENAfter)
		s.setState(StateIdle)
		if isOracleDown(evalErr) {
			s.log.Warn().Err(evalErr).Msg("evaluation unavailable, continuing without feedback")
			return &MoveOutcome{
				Kind:     OutcomeEvalUnavailable,
				UCI:      applied.UCI,
				FENAfter: applied.FENAfter,
			}, nil
		}
		return nil, evalErr
	}

	s.setState(StateBranching)
	beforeView := eval.Format(before, s.playerSide)
	afterOppView := eval.Format(after, opponent(s.playerSide))
	afterView := afterOppView.ForOpponent()

	quality := eval.Classify(beforeView, afterView, beforeView.TopMoves, s.cfg.Thresholds)

	s.log.Info().
		Str("move", applied.UCI).
		Str("tier", string(quality.Tier)).
		Str("robustness", string(quality.Robustness)).
		Str("before", string(beforeView.Category)).
		Str("after", string(afterView.Category)).
		Msg("move classified")

	if quality.Tier == eval.TierBlunder {
		atomic.AddUint64(&s.blundersFlagged, 1)
		s.mu.Lock()
		s.fenPrev = fenBefore
		s.fenCurrent = applied.FENAfter
		s.state = StateFeedbackBlunder
		s.blunderOver = applied.GameOver
		s.blunderResult = applied.Result
		s.mu.Unlock()
		return &MoveOutcome{
			Kind:            OutcomeBlunderFlagged,
			UCI:             applied.UCI,
			FENAfter:        applied.FENAfter,
			Quality:         &quality,
			BestAlternative: beforeView.Best(),
			EvalBefore:      &beforeView,
		}, nil
	}

	s.commitMove(fenBefore, applied.FENAfter)

	if applied.GameOver {
		s.mu.Lock()
		s.state = StateTerminal
		s.result = applied.Result
		s.mu.Unlock()
		s.emit(Event{Type: EventGameOver, FEN: applied.FENAfter, Result: applied.Result})
		return &MoveOutcome{
			Kind:     OutcomeGameOver,
			UCI:      applied.UCI,
			FENAfter: applied.FENAfter,
			Quality:  &quality,
			Result:   applied.Result,
		}, nil
	}

	s.scheduleReply()
	return &MoveOutcome{
		Kind:     OutcomeAccepted,
		UCI:      applied.UCI,
		FENAfter: applied.FENAfter,
		Quality:  &quality,
	}, nil
}

// ResolveBlunder settles flagged blunder feedback. retry restores the
// position before the move; accepting keeps the move and lets the
// opponent reply, or ends the game when the move itself was terminal.
func (s *Session) ResolveBlunder(retry bool) error {
	s.mu.Lock()
	if s.state != StateFeedbackBlunder {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("%w: no blunder to resolve in %s", ErrInvalidTurn, state)
	}
	if retry {
		s.fenCurrent = s.fenPrev
		s.fenPrev = ""
		s.state = StateIdle
		s.blunderOver = false
		s.blunderResult = ""
		s.mu.Unlock()
		s.log.Info().Msg("blunder retried, position restored")
		return nil
	}
	if s.blunderOver {
		// The flagged move itself ended the game; there is no reply
		// to schedule once the player stands by it.
		s.state = StateTerminal
		s.result = s.blunderResult
		s.blunderOver = false
		fenCur := s.fenCurrent
		result := s.result
		s.mu.Unlock()
		s.log.Info().Str("result", string(result)).Msg("blunder accepted, game over")
		s.emit(Event{Type: EventGameOver, FEN: fenCur, Result: result})
		return nil
	}
	s.state = StateIdle
	s.mu.Unlock()
	s.log.Info().Msg("blunder accepted, continuing")
	s.scheduleReply()
	return nil
}

// CancelPendingReply cancels a scheduled opponent reply and any in-flight
// oracle query behind it. Safe to call when nothing is pending.
func (s *Session) CancelPendingReply() {
	s.mu.Lock()
	h := s.pendingReply
	s.pendingReply = nil
	if s.state == StateSchedulingReply {
		s.state = StateIdle
	}
	s.mu.Unlock()

	if h == nil {
		return
	}
	if h.timer != nil {
		h.timer.Stop()
	}
	h.cancel()
	s.emit(Event{Type: EventReplyCancelled})
	s.log.Debug().Msg("pending reply cancelled")
}

// TakeBack cancels any pending reply and restores the position before
// the player's most recent move. If the opponent already replied, both
// halves of the pair are undone so the player is on turn again.
func (s *Session) TakeBack() error {
	s.CancelPendingReply()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fenPrev == "" {
		return fmt.Errorf("%w: nothing to take back", ErrInvalidTurn)
	}
	s.fenCurrent = s.fenPrev
	s.fenPrev = ""
	s.state = StateIdle
	s.result = ResultOngoing
	s.blunderOver = false
	s.blunderResult = ""
	return nil
}

// Reset aborts everything in flight and restarts the session at a new
// position. Any state may reset.
func (s *Session) Reset(fenStr string, playerSide byte) error {
	if _, err := fen.Normalize(fenStr); err != nil {
		return err
	}
	if playerSide != 'w' && playerSide != 'b' {
		return fmt.Errorf("%w: bad player side %q", fen.ErrInvalidPosition, playerSide)
	}

	s.CancelPendingReply()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.fenCurrent = fenStr
	s.fenPrev = ""
	s.playerSide = playerSide
	s.state = StateIdle
	s.result = ResultOngoing
	s.blunderOver = false
	s.blunderResult = ""
	return nil
}

// GetCachedEvaluation is a synchronous cache peek: no fetch, formatted
// for the side to move of the given position.
func (s *Session) GetCachedEvaluation(fenStr string) (*eval.Formatted, bool) {
	res, ok := s.evaluator.Peek(fenStr)
	if !ok {
		return nil, false
	}
	side, err := fen.SideToMove(fenStr)
	if err != nil {
		return nil, false
	}
	f := eval.Format(res, side)
	return &f, true
}

// Snapshot is a point-in-time view of the session for the API layer.
type Snapshot struct {
	ID              string     `json:"id"`
	FEN             string     `json:"fen"`
	PlayerSide      string     `json:"player_side"`
	State           string     `json:"state"`
	Result          GameResult `json:"result,omitempty"`
	ReplyPending    bool       `json:"reply_pending"`
	MovesHandled    uint64     `json:"moves_handled"`
	BlundersFlagged uint64     `json:"blunders_flagged"`
	RepliesPlayed   uint64     `json:"replies_played"`
}

// Snapshot returns the session's current state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		ID:              s.id,
		FEN:             s.fenCurrent,
		PlayerSide:      string(s.playerSide),
		State:           s.state.String(),
		Result:          s.result,
		ReplyPending:    s.pendingReply != nil,
		MovesHandled:    atomic.LoadUint64(&s.movesHandled),
		BlundersFlagged: atomic.LoadUint64(&s.blundersFlagged),
		RepliesPlayed:   atomic.LoadUint64(&s.repliesPlayed),
	}
}

// evaluatePair fetches before/after evaluations concurrently; the two
// queries proceed in parallel and are individually cancellable through
// ctx. The first oracle-class error wins.
func (s *Session) evaluatePair(ctx context.Context, fenBefore, fenAfter string) (before, after *tablebase.Result, err error) {
	var wg sync.WaitGroup
	var errBefore, errAfter error

	wg.Add(2)
	go func() {
		defer wg.Done()
		before, errBefore = s.evaluator.Evaluate(ctx, fenBefore)
	}()
	go func() {
		defer wg.Done()
		after, errAfter = s.evaluator.Evaluate(ctx, fenAfter)
	}()
	wg.Wait()

	if errBefore != nil {
		return nil, nil, errBefore
	}
	if errAfter != nil {
		return nil, nil, errAfter
	}
	return before, after, nil
}

// scheduleReply arms the delayed opponent reply with a fresh cancellable
// handle stored on the session.
func (s *Session) scheduleReply() {
	fctx, cancel := context.WithCancel(context.Background())
	h := &replyHandle{cancel: cancel, done: make(chan struct{})}

	s.mu.Lock()
	fenCur := s.fenCurrent
	delay := s.cfg.ReplyDelay
	// Arm the timer before the handle becomes visible so a concurrent
	// CancelPendingReply never sees it half-built.
	h.timer = time.AfterFunc(delay, func() {
		s.playReply(fctx, h, fenCur)
	})
	s.state = StateSchedulingReply
	s.pendingReply = h
	s.mu.Unlock()

	s.log.Debug().Dur("delay", delay).Msg("opponent reply scheduled")
}

// playReply fires after the pacing delay: it looks up the opponent's
// strongest move from the oracle (normally a cache hit) and applies it.
// If the handle was cancelled in the meantime the board is untouched.
func (s *Session) playReply(ctx context.Context, h *replyHandle, fenCur string) {
	defer close(h.done)

	res, err := s.evaluator.Evaluate(ctx, fenCur)
	if err != nil {
		s.abandonReply(h)
		if ctx.Err() != nil {
			return // cancelled; CancelPendingReply already emitted
		}
		s.log.Warn().Err(err).Msg("opponent reply failed, returning turn to player")
		s.emit(Event{Type: EventReplyFailed, ErrorMsg: err.Error()})
		return
	}

	oppSide, err := fen.SideToMove(fenCur)
	if err != nil {
		s.abandonReply(h)
		return
	}
	oppView := eval.Format(res, oppSide)
	best := oppView.Best()
	if best == nil {
		// No legal replies: the position was already terminal.
		s.abandonReply(h)
		return
	}

	applied, err := s.engine.Apply(fenCur, best.UCI)
	if err != nil {
		s.abandonReply(h)
		s.log.Error().Err(err).Str("uci", best.UCI).Msg("oracle best move was not applicable")
		s.emit(Event{Type: EventReplyFailed, ErrorMsg: err.Error()})
		return
	}

	s.mu.Lock()
	if s.pendingReply != h || ctx.Err() != nil {
		// Cancelled between evaluation and application; drop the move.
		s.mu.Unlock()
		return
	}
	s.pendingReply = nil
	// fenPrev keeps the position before the player's move so a takeback
	// undoes the full move pair and leaves the player on turn again.
	s.fenCurrent = applied.FENAfter
	if applied.GameOver {
		s.state = StateTerminal
		s.result = applied.Result
	} else {
		s.state = StateIdle
	}
	s.mu.Unlock()

	atomic.AddUint64(&s.repliesPlayed, 1)
	s.log.Info().Str("san", best.SAN).Str("uci", best.UCI).Msg("opponent reply played")
	s.emit(Event{Type: EventReply, SAN: best.SAN, UCI: best.UCI, FEN: applied.FENAfter})
	if applied.GameOver {
		s.emit(Event{Type: EventGameOver, FEN: applied.FENAfter, Result: applied.Result})
	}
}

// abandonReply clears the pending handle if it is still ours and returns
// the turn to the player.
func (s *Session) abandonReply(h *replyHandle) {
	s.mu.Lock()
	if s.pendingReply == h {
		s.pendingReply = nil
		if s.state == StateSchedulingReply {
			s.state = StateIdle
		}
	}
	s.mu.Unlock()
}

func (s *Session) commitMove(fenBefore, fenAfter string) {
	s.mu.Lock()
	s.fenPrev = fenBefore
	s.fenCurrent = fenAfter
	s.mu.Unlock()
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

func (s *Session) emit(ev Event) {
	select {
	case s.events <- ev:
	default:
		s.log.Warn().Str("type", string(ev.Type)).Msg("event feed full, dropping event")
	}
}

// isOracleDown reports whether an error is an oracle-availability class
// failure: unavailable, timed out, or misbehaving (schema).
func isOracleDown(err error) bool {
	return errors.Is(err, tablebase.ErrUnavailable) ||
		errors.Is(err, tablebase.ErrTimeout) ||
		errors.Is(err, tablebase.ErrSchema) ||
		errors.Is(err, tablebase.ErrInvalidQuery)
}

func opponent(side byte) byte {
	if side == 'w' {
		return 'b'
	}
	return 'w'
}
