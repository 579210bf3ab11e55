package game

import "errors"

// Protocol violations surfaced to API callers. Each maps to exactly one
// failure reason at the HTTP boundary; internal faults never leak.
var (
	ErrSessionFull       = errors.New("session_full")
	ErrInvalidPhase      = errors.New("invalid_phase")
	ErrNotYourTurn       = errors.New("not_your_turn")
	ErrAlreadyCommitted  = errors.New("already_committed")
	ErrFairnessViolation = errors.New("fairness_violation")
	ErrNotParticipant    = errors.New("not_participant")
	ErrInvalidBetAmount  = errors.New("invalid_bet_amount")
	ErrInvalidAction     = errors.New("invalid_action")
	ErrInvalidSeed       = errors.New("invalid_seed")
	ErrTableNotFound     = errors.New("table_not_found")
	ErrDeckExhausted     = errors.New("deck_exhausted")
)
