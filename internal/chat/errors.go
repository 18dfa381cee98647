package chat

import (
	"errors"
	"fmt"
)

// Sentinel errors for actions the current state does not allow.
var (
	// ErrEmptyQuestion indicates a blank submission; nothing happened.
	ErrEmptyQuestion = errors.New("empty question")

	// ErrNotReady indicates the pipeline has not been initialized yet.
	ErrNotReady = errors.New("session not ready")

	// ErrBusy indicates a question is already being answered.
	ErrBusy = errors.New("session busy answering")

	// ErrSessionFailed indicates pipeline initialization failed; the
	// session accepts no further questions.
	ErrSessionFailed = errors.New("session failed to initialize")

	// ErrSessionClosed indicates the session was closed and its pipeline
	// released.
	ErrSessionClosed = errors.New("session closed")
)

// InitError reports a failed pipeline construction. It is terminal for the
// session.
type InitError struct {
	Err error
}

func (e *InitError) Error() string { return fmt.Sprintf("error initializing pipeline: %v", e.Err) }
func (e *InitError) Unwrap() error { return e.Err }

// AnswerError reports a failed turn. The session stays ready and the turn
// is not recorded.
type AnswerError struct {
	Question string
	Err      error
}

func (e *AnswerError) Error() string { return fmt.Sprintf("error generating response: %v", e.Err) }
func (e *AnswerError) Unwrap() error { return e.Err }

// EvalError reports a failed evaluation request. Session state is unchanged.
type EvalError struct {
	Err error
}

func (e *EvalError) Error() string {
	return fmt.Sprintf("error getting RAG triad evaluations: %v", e.Err)
}
func (e *EvalError) Unwrap() error { return e.Err }
