package amqtx

// Completion is the single-resolution contract threaded through every
// asynchronous protocol exchange in this package. The first call to Complete
// or Fail resolves it; later calls are ignored. Resolutions always happen on
// the session's processing goroutine, so implementations do not need to be
// safe for concurrent use.
type Completion interface {
	// Complete resolves the exchange successfully.
	Complete()
	// Fail resolves the exchange with the supplied cause.
	Fail(err error)
	// Completed reports whether the exchange has been resolved either way.
	Completed() bool
}

// Latch is the basic Completion implementation: it records the first
// resolution and exposes it to callers that poll rather than chain.
type Latch struct {
	resolved bool
	failed   bool
	err      error
	observer func()
}

// NewLatch returns an unresolved latch.
func NewLatch() *Latch {
	return &Latch{}
}

// Observe registers fn to run exactly once when the latch resolves. If the
// latch is already resolved, fn runs immediately. The observer inspects the
// latch itself (Failed, Err) to learn the outcome.
func (l *Latch) Observe(fn func()) *Latch {
	if l.resolved {
		if fn != nil {
			fn()
		}
		return l
	}
	l.observer = fn
	return l
}

// Complete resolves the latch successfully. Ignored after resolution.
func (l *Latch) Complete() {
	if l.resolved {
		return
	}
	l.resolved = true
	l.notify()
}

// Fail resolves the latch with err. Ignored after resolution.
func (l *Latch) Fail(err error) {
	if l.resolved {
		return
	}
	l.resolved = true
	l.failed = true
	l.err = err
	l.notify()
}

// Completed reports whether the latch has been resolved.
func (l *Latch) Completed() bool {
	return l.resolved
}

// Failed reports whether the latch resolved through Fail.
func (l *Latch) Failed() bool {
	return l.failed
}

// Err returns the failure cause recorded by Fail, nil otherwise.
func (l *Latch) Err() error {
	return l.err
}

func (l *Latch) notify() {
	if l.observer == nil {
		return
	}
	fn := l.observer
	l.observer = nil
	fn()
}
