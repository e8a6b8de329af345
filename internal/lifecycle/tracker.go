// Package lifecycle tracks the status of asynchronous ledger writes. One
// Tracker exists per logical capability (selling, buying, breeding, ...) and
// moves through Idle -> Loading -> Succeeded -> Confirmed, or to Failed from
// any non-terminal state. Confirmed and Failed only leave via Reset.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/alanyoungcy/kittymarket/internal/domain"
)

// ErrInvalidTransition is returned when a transition is not legal from the
// tracker's current status.
var ErrInvalidTransition = errors.New("lifecycle: invalid transition")

// Observer is called after every transition, outside the tracker lock.
type Observer func(name string, from, to domain.RequestState)

// Tracker is the request state machine for one capability. It is safe for
// concurrent use.
type Tracker struct {
	name string
	now  func() time.Time

	mu        sync.Mutex
	state     domain.RequestState
	run       uint64 // incremented on every successful Start
	observers []Observer
}

// New creates a Tracker in the Idle state.
func New(name string) *Tracker {
	t := &Tracker{name: name, now: time.Now}
	t.state = domain.RequestState{Status: domain.RequestIdle, UpdatedAt: t.now().UTC()}
	return t
}

// Name returns the capability name.
func (t *Tracker) Name() string { return t.name }

// State returns the current status and last error.
func (t *Tracker) State() domain.RequestState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Watch registers an observer for future transitions.
func (t *Tracker) Watch(fn Observer) {
	if fn == nil {
		return
	}
	t.mu.Lock()
	t.observers = append(t.observers, fn)
	t.mu.Unlock()
}

// Start moves the tracker to Loading and clears the previous error. It is a
// no-op returning false while a write is already in flight (Loading or
// Succeeded), which keeps duplicate submissions out.
func (t *Tracker) Start() bool {
	notify, ok := t.begin()
	if ok {
		notify()
	}
	return ok
}

// begin moves the tracker to Loading and returns the observer notification
// for the caller to run once its own locks are released.
func (t *Tracker) begin() (notify func(), ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch t.state.Status {
	case domain.RequestLoading, domain.RequestSucceeded:
		return nil, false
	}
	t.run++
	return t.setLocked(domain.RequestLoading, "", ""), true
}

// Succeed records that the gateway accepted the write. Only legal from
// Loading.
func (t *Tracker) Succeed(txHash string) error {
	t.mu.Lock()
	if t.state.Status != domain.RequestLoading {
		return t.invalidLocked("succeed")
	}
	t.transitionLocked(domain.RequestSucceeded, "", txHash)
	return nil
}

// Confirm records that the ledger event for the write was observed. The
// event and the send acknowledgment complete independently, so Confirm is
// legal from Loading as well as Succeeded. Confirming twice is a no-op.
func (t *Tracker) Confirm() error {
	t.mu.Lock()
	switch t.state.Status {
	case domain.RequestLoading, domain.RequestSucceeded:
		t.transitionLocked(domain.RequestConfirmed, "", t.state.TxHash)
		return nil
	case domain.RequestConfirmed:
		t.mu.Unlock()
		return nil
	default:
		return t.invalidLocked("confirm")
	}
}

// Fail moves the tracker to Failed with msg. Legal from every non-terminal
// status.
func (t *Tracker) Fail(msg string) error {
	t.mu.Lock()
	if t.state.Status.Terminal() {
		return t.invalidLocked("fail")
	}
	t.transitionLocked(domain.RequestFailed, msg, t.state.TxHash)
	return nil
}

// Reset returns a terminal tracker to Idle so it can be reused.
func (t *Tracker) Reset() error {
	t.mu.Lock()
	if !t.state.Status.Terminal() {
		return t.invalidLocked("reset")
	}
	t.transitionLocked(domain.RequestIdle, "", "")
	return nil
}

// FailAfter fails the tracker with msg if the run that is current now has
// not reached a terminal status within d. The returned func cancels the
// watchdog.
func (t *Tracker) FailAfter(ctx context.Context, d time.Duration, msg string) (stop func()) {
	t.mu.Lock()
	run := t.run
	t.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	timer := time.NewTimer(d)
	go func() {
		defer timer.Stop()
		select {
		case <-ctx.Done():
		case <-timer.C:
			t.failRun(run, msg)
		}
	}()
	return cancel
}

func (t *Tracker) failRun(run uint64, msg string) {
	t.mu.Lock()
	if t.run != run || t.state.Status.Terminal() || t.state.Status == domain.RequestIdle {
		t.mu.Unlock()
		return
	}
	t.transitionLocked(domain.RequestFailed, msg, t.state.TxHash)
}

// transitionLocked must be called with t.mu held; it releases the lock
// before notifying observers.
func (t *Tracker) transitionLocked(to domain.RequestStatus, errMsg, txHash string) {
	notify := t.setLocked(to, errMsg, txHash)
	t.mu.Unlock()
	notify()
}

// setLocked must be called with t.mu held. It updates the state and returns
// the observer calls for the transition.
func (t *Tracker) setLocked(to domain.RequestStatus, errMsg, txHash string) func() {
	from := t.state
	t.state = domain.RequestState{
		Status:    to,
		Error:     errMsg,
		TxHash:    txHash,
		UpdatedAt: t.now().UTC(),
	}
	next := t.state
	observers := make([]Observer, len(t.observers))
	copy(observers, t.observers)
	return func() {
		for _, fn := range observers {
			fn(t.name, from, next)
		}
	}
}

func (t *Tracker) invalidLocked(op string) error {
	status := t.state.Status
	t.mu.Unlock()
	return fmt.Errorf("%w: %s from %s (%s)", ErrInvalidTransition, op, status, t.name)
}

// Message is the short text a UI shows for a state.
func Message(s domain.RequestState) string {
	switch s.Status {
	case domain.RequestLoading, domain.RequestSucceeded:
		return "Waiting for result..."
	case domain.RequestConfirmed:
		return "Success!"
	case domain.RequestFailed:
		if s.Error != "" {
			return s.Error
		}
		return "Oops... an error occurred!"
	default:
		return ""
	}
}
