package githubapi

import (
	"fmt"
	"time"
)

// RetryPhase is one state of a request's retry lifecycle.
type RetryPhase string

const (
	// RetryAttempting means a request attempt is about to be issued.
	RetryAttempting RetryPhase = "attempting"
	// RetryWaitingOnRateLimit means the next attempt waits for rate-limit budget.
	RetryWaitingOnRateLimit RetryPhase = "waiting_on_rate_limit"
	// RetryBackingOff means the next attempt waits out an exponential backoff.
	RetryBackingOff RetryPhase = "backing_off"
	// RetryFailed is terminal: the request failed.
	RetryFailed RetryPhase = "failed"
	// RetrySucceeded is terminal: the request produced a usable response.
	RetrySucceeded RetryPhase = "succeeded"
)

// RetryEventKind classifies the outcome of one attempt or wait.
type RetryEventKind string

const (
	// EventResponseOK is a usable response.
	EventResponseOK RetryEventKind = "response_ok"
	// EventRateLimited is a primary or secondary rate-limit response.
	EventRateLimited RetryEventKind = "rate_limited"
	// EventTransientFailure is a network error or a retryable status.
	EventTransientFailure RetryEventKind = "transient_failure"
	// EventPermanentFailure is a non-retryable failure.
	EventPermanentFailure RetryEventKind = "permanent_failure"
	// EventWaitComplete marks the end of a rate-limit wait or backoff.
	EventWaitComplete RetryEventKind = "wait_complete"
)

// RetryState tracks one request's position in the retry lifecycle.
type RetryState struct {
	Phase   RetryPhase
	Attempt int
	WaitFor time.Duration
	Reason  string
	Err     error
}

// RetryEvent is one observation fed into the state machine.
type RetryEvent struct {
	Kind     RetryEventKind
	Decision Decision
	Err      error
}

// RetryStateMachine configures retry transitions.
type RetryStateMachine struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// Start returns the initial state.
func (m RetryStateMachine) Start() RetryState {
	return RetryState{
		Phase:   RetryAttempting,
		Attempt: 1,
	}
}

// Terminal reports whether no further events change the state.
func (s RetryState) Terminal() bool {
	return s.Phase == RetryFailed || s.Phase == RetrySucceeded
}

// Apply applies an event to a previous state and returns a new state.
func (m RetryStateMachine) Apply(previous RetryState, event RetryEvent) RetryState {
	if previous.Terminal() {
		return previous
	}
	next := previous
	next.WaitFor = 0
	next.Reason = ""

	switch previous.Phase {
	case RetryWaitingOnRateLimit, RetryBackingOff:
		if event.Kind == EventWaitComplete {
			next.Phase = RetryAttempting
			next.Attempt++
		}
		return next
	}

	maxAttempts := m.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	switch event.Kind {
	case EventResponseOK:
		next.Phase = RetrySucceeded
		next.Err = nil
	case EventPermanentFailure:
		next.Phase = RetryFailed
		next.Err = event.Err
	case EventRateLimited:
		if previous.Attempt >= maxAttempts {
			next.Phase = RetryFailed
			next.Err = fmt.Errorf("%w after %d attempts (%s)", ErrRateLimitExceeded, previous.Attempt, event.Decision.Reason)
			return next
		}
		next.Phase = RetryWaitingOnRateLimit
		next.WaitFor = event.Decision.WaitFor
		next.Reason = event.Decision.Reason
	case EventTransientFailure:
		if previous.Attempt >= maxAttempts {
			next.Phase = RetryFailed
			if event.Err != nil {
				next.Err = fmt.Errorf("%w after %d attempts: %w", ErrTransientNetwork, previous.Attempt, event.Err)
			} else {
				next.Err = fmt.Errorf("%w after %d attempts", ErrTransientNetwork, previous.Attempt)
			}
			return next
		}
		next.Phase = RetryBackingOff
		next.WaitFor = backoffForAttempt(m.InitialBackoff, m.MaxBackoff, previous.Attempt)
		next.Reason = "transient_failure"
		next.Err = event.Err
	}
	return next
}

func backoffForAttempt(initial, maxBackoff time.Duration, attempt int) time.Duration {
	backoff := initial
	for i := 1; i < attempt; i++ {
		backoff *= 2
		if maxBackoff > 0 && backoff > maxBackoff {
			return maxBackoff
		}
	}
	if maxBackoff > 0 && backoff > maxBackoff {
		return maxBackoff
	}
	return backoff
}
