package query

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hazyhaar/domquery/dom"
)

// State is the element lifecycle state a wait targets.
type State string

const (
	StateAttached State = "attached" // at least one match exists
	StateDetached State = "detached" // no match exists
	StateVisible  State = "visible"  // a match exists and passes the oracle
	StateHidden   State = "hidden"   // a match exists and fails the oracle
)

// ValidState reports whether s is one of the four wait states.
func ValidState(s State) bool {
	switch s {
	case StateAttached, StateDetached, StateVisible, StateHidden:
		return true
	}
	return false
}

// DefaultWaitTimeout bounds a wait when the caller does not set one.
const DefaultWaitTimeout = 30 * time.Second

// WaitOptions tunes one WaitForSelector call.
//
// As with ResolveOptions, the zero value of Pierce stays in the light tree
// and defaults() leaves it alone: there is no way to tell an explicit false
// from an unset field. Callers wanting the piercing default should start
// from DefaultWaitOptions.
type WaitOptions struct {
	State    State
	Timeout  time.Duration
	Pierce   bool
	Strategy Strategy
}

// DefaultWaitOptions waits for visibility with shadow piercing and the
// default timeout.
func DefaultWaitOptions() WaitOptions {
	return WaitOptions{State: StateVisible, Timeout: DefaultWaitTimeout, Pierce: true, Strategy: StrategyAuto}
}

func (o *WaitOptions) defaults() {
	if o.State == "" {
		o.State = StateVisible
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultWaitTimeout
	}
	if o.Strategy == "" {
		o.Strategy = StrategyAuto
	}
}

// TimeoutError is the only user-visible failure of the wait primitive.
type TimeoutError struct {
	Selector string
	State    State
	Timeout  time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("query: wait for %q to become %s: timeout after %s", e.Selector, e.State, e.Timeout)
}

// watchedAttrs is the fixed attribute allowlist change subscriptions use.
// Anything that can flip visibility or interactability re-triggers a check.
var watchedAttrs = []string{"style", "class", "hidden", "disabled"}

// WaitForSelector blocks until the selector reaches the requested state,
// the timeout elapses, or ctx is cancelled. A satisfied state at call time
// returns immediately without installing any subscription. Settlement is
// exactly-once: on any outcome every subscription and the timer are torn
// down before the call returns.
func (e *Engine) WaitForSelector(ctx context.Context, selector string, opts WaitOptions) error {
	opts.defaults()

	check := func() bool { return e.stateSatisfied(selector, opts) }

	// Checking phase: one fresh resolution before anything is installed.
	if check() {
		return nil
	}

	task := &waitTask{
		check: check,
		done:  make(chan struct{}),
	}

	// Waiting phase: subscribe on the nearest root plus every shadow root
	// discovered by a one-time scan. Subtrees attached after this point are
	// not separately observed; they are only seen when an ancestor-level
	// mutation re-triggers a check.
	onChange := func(dom.Change) { task.recheck() }
	cfg := dom.SubscribeConfig{Structure: true, Text: true, Attributes: watchedAttrs}

	body := e.doc.Body()
	e.doc.Read(func() {
		task.subs = append(task.subs, e.doc.Subscribe(body, cfg, onChange))
		if opts.Pierce {
			for _, frag := range e.shadowFragments() {
				task.subs = append(task.subs, e.doc.Subscribe(frag, cfg, onChange))
			}
		}
	})

	// A mutation may have landed between the first check and the
	// subscriptions going in.
	task.recheck()

	timer := time.NewTimer(opts.Timeout)
	defer timer.Stop()

	e.logger.Debug("query: waiting for selector",
		"selector", selector, "state", opts.State, "timeout", opts.Timeout)

	select {
	case <-task.done:
		return nil
	case <-timer.C:
		if !task.abort() {
			// A success notification settled first in the same tick.
			return nil
		}
		return &TimeoutError{Selector: selector, State: opts.State, Timeout: opts.Timeout}
	case <-ctx.Done():
		if !task.abort() {
			return nil
		}
		return ctx.Err()
	}
}

// stateSatisfied classifies a fresh resolution against the requested
// state. The first match decides visibility. A fully absent element reads
// as not hidden, matching upstream evaluator behaviour.
func (e *Engine) stateSatisfied(selector string, opts WaitOptions) bool {
	var ok bool
	e.doc.Read(func() {
		matches := e.resolveAll(selector, ResolveOptions{Strategy: opts.Strategy, Pierce: opts.Pierce})
		switch opts.State {
		case StateAttached:
			ok = len(matches) > 0
		case StateDetached:
			ok = len(matches) == 0
		case StateVisible:
			ok = len(matches) > 0 && e.visible(matches[0])
		case StateHidden:
			ok = len(matches) > 0 && !e.visible(matches[0])
		}
	})
	return ok
}

// waitTask tracks one in-flight wait: its subscriptions and the settled
// flag that guards against the timeout and a late notification racing.
type waitTask struct {
	mu      sync.Mutex
	settled bool
	subs    []*dom.Subscription
	check   func() bool
	done    chan struct{}
}

// recheck runs a fresh state check; on success it settles the task. Runs
// on the mutating goroutine via subscription callbacks.
func (t *waitTask) recheck() {
	t.mu.Lock()
	if t.settled {
		t.mu.Unlock()
		return
	}
	if !t.check() {
		t.mu.Unlock()
		return
	}
	t.settled = true
	subs := t.subs
	t.subs = nil
	t.mu.Unlock()

	for _, s := range subs {
		s.Cancel()
	}
	close(t.done)
}

// abort settles the task without success. Returns false when the task had
// already settled.
func (t *waitTask) abort() bool {
	t.mu.Lock()
	if t.settled {
		t.mu.Unlock()
		return false
	}
	t.settled = true
	subs := t.subs
	t.subs = nil
	t.mu.Unlock()

	for _, s := range subs {
		s.Cancel()
	}
	return true
}
