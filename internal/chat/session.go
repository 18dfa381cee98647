// Package chat holds the conversational session: a memoized pipeline handle,
// the ordered question/answer history and the state machine that guards
// them.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// Pipeline is the opaque retrieval-and-generation collaborator.
type Pipeline interface {
	Answer(ctx context.Context, question string) (string, error)
	Evaluate(ctx context.Context) (json.RawMessage, error)
}

// Builder constructs a Pipeline. It must return either a usable pipeline or
// an error, never both.
type Builder func(ctx context.Context) (Pipeline, error)

// State is the session lifecycle state.
type State int

const (
	StateUninitialized State = iota
	StateInitializing
	StateReady
	StateAnswering
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateAnswering:
		return "answering"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Session is one user's conversation. It owns its pipeline handle; handles
// are never shared between sessions. Methods are safe for concurrent use, but
// only one question is answered at a time.
type Session struct {
	build  Builder
	logger *zap.Logger

	once sync.Once

	mu       sync.Mutex
	state    State
	pipeline Pipeline
	initErr  error
	history  []Turn
	closed   bool
}

// Option configures a [Session].
type Option func(*Session)

// WithLogger sets the session logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Session) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewSession returns an uninitialized session that will build its pipeline
// with build on first [Session.Init].
func NewSession(build Builder, opts ...Option) *Session {
	s := &Session{build: build, logger: zap.NewNop()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Init builds the pipeline exactly once. Concurrent callers wait for the
// same build; later calls return its outcome. A failure is returned as
// *InitError and leaves the session failed.
func (s *Session) Init(ctx context.Context) error {
	s.once.Do(func() {
		s.mu.Lock()
		s.state = StateInitializing
		s.mu.Unlock()

		p, err := s.runBuild(ctx)

		s.mu.Lock()
		if err != nil {
			s.initErr = &InitError{Err: err}
			s.state = StateFailed
			s.mu.Unlock()
			s.logger.Error("pipeline initialization failed", zap.Error(err))
			return
		}
		s.state = StateReady
		if s.closed {
			// Closed while building: nobody will ever release it otherwise.
			s.mu.Unlock()
			if err := release(ctx, p); err != nil {
				s.logger.Warn("release pipeline", zap.Error(err))
			}
			return
		}
		s.pipeline = p
		s.mu.Unlock()
		s.logger.Info("pipeline initialized")
	})
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initErr
}

func (s *Session) runBuild(ctx context.Context) (p Pipeline, err error) {
	defer func() {
		if r := recover(); r != nil {
			p, err = nil, fmt.Errorf("pipeline builder panicked: %v", r)
		}
	}()
	if s.build == nil {
		return nil, errors.New("no pipeline builder configured")
	}
	p, err = s.build(ctx)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, errors.New("pipeline builder returned no pipeline")
	}
	return p, nil
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the initialization error, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initErr
}

// Submit forwards a question to the pipeline and records the turn on
// success. Blank questions return ErrEmptyQuestion without touching the
// pipeline. A failed answer returns *AnswerError and records nothing.
func (s *Session) Submit(ctx context.Context, question string) (Turn, error) {
	q := strings.TrimSpace(question)
	if q == "" {
		return Turn{}, ErrEmptyQuestion
	}

	s.mu.Lock()
	if err := s.readyLocked(); err != nil {
		s.mu.Unlock()
		return Turn{}, err
	}
	s.state = StateAnswering
	p := s.pipeline
	s.mu.Unlock()

	answer, err := p.Answer(ctx, q)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateReady
	if err != nil {
		s.logger.Warn("answer failed", zap.String("question", q), zap.Error(err))
		return Turn{}, &AnswerError{Question: q, Err: err}
	}
	turn := Turn{Question: q, Answer: answer}
	s.history = append(s.history, turn)
	s.logger.Debug("turn recorded", zap.Int("turns", len(s.history)))
	return turn, nil
}

// Clear empties the history. The pipeline is not touched.
func (s *Session) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.readyLocked(); err != nil {
		return err
	}
	s.history = nil
	return nil
}

// Evaluations asks the pipeline for its evaluation report and returns it
// uninterpreted. Failures are returned as *EvalError.
func (s *Session) Evaluations(ctx context.Context) (json.RawMessage, error) {
	s.mu.Lock()
	if err := s.readyLocked(); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	s.state = StateAnswering
	p := s.pipeline
	s.mu.Unlock()

	report, err := p.Evaluate(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateReady
	if err != nil {
		return nil, &EvalError{Err: err}
	}
	return report, nil
}

// Close releases the pipeline handle. Afterwards every action returns
// ErrSessionClosed. A session that is answering is not closed and ErrBusy
// is returned. If releasing fails the handle is kept so Close can be
// retried.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.state == StateAnswering {
		s.mu.Unlock()
		return ErrBusy
	}
	s.closed = true
	p := s.pipeline
	s.pipeline = nil
	s.mu.Unlock()

	if err := release(ctx, p); err != nil {
		s.mu.Lock()
		s.pipeline = p
		s.mu.Unlock()
		return err
	}
	return nil
}

func release(ctx context.Context, p Pipeline) error {
	c, ok := p.(interface{ Close(context.Context) error })
	if !ok {
		return nil
	}
	if err := c.Close(ctx); err != nil {
		return fmt.Errorf("release pipeline: %w", err)
	}
	return nil
}

// History returns a copy of the recorded turns in order.
func (s *Session) History() []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Turn(nil), s.history...)
}

// Summary returns the pipeline's description of its source, when it has one.
func (s *Session) Summary() string {
	s.mu.Lock()
	p := s.pipeline
	s.mu.Unlock()
	if sp, ok := p.(interface{ Summary() string }); ok {
		return sp.Summary()
	}
	return ""
}

// Transcript renders the history.
func (s *Session) Transcript() string {
	return Render(s.History())
}

func (s *Session) readyLocked() error {
	if s.closed {
		return ErrSessionClosed
	}
	switch s.state {
	case StateReady:
		return nil
	case StateAnswering:
		return ErrBusy
	case StateFailed:
		return fmt.Errorf("%w: %w", ErrSessionFailed, s.initErr)
	default:
		return ErrNotReady
	}
}
