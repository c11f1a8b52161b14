// Package alarm runs a callback on a timer. Whether the alarm keeps firing
// after each callback is decided by a Policy rather than by alarm variants.
package alarm

import (
	"sync"
	"time"

	"k8s.io/utils/clock"
)

// Policy is consulted after every fire with the number of fires so far. The
// alarm rearms when it returns true and stops otherwise.
type Policy func(fires int) bool

// Once fires a single time.
func Once() Policy {
	return func(int) bool { return false }
}

// Repeat fires until cancelled.
func Repeat() Policy {
	return func(int) bool { return true }
}

// RepeatN fires n times.
func RepeatN(n int) Policy {
	return func(fires int) bool { return fires < n }
}

// While keeps firing as long as cond holds after a fire.
func While(cond func() bool) Policy {
	return func(int) bool { return cond() }
}

// Alarm is a running timer. The zero value is not usable; use New.
type Alarm struct {
	clock  clock.Clock
	timer  clock.Timer
	fn     func()
	policy Policy
	stop   chan struct{}
	done   chan struct{}
	delay  time.Duration
	once   sync.Once
	mu     sync.Mutex
}

// New arms an alarm that calls fn after delay and then as often as policy
// allows, each time delay after the previous callback returned.
func New(clk clock.Clock, delay time.Duration, policy Policy, fn func()) *Alarm {
	if clk == nil {
		clk = clock.RealClock{}
	}

	if policy == nil {
		policy = Once()
	}

	a := &Alarm{
		clock:  clk,
		fn:     fn,
		policy: policy,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
		delay:  delay,
	}
	a.timer = clk.NewTimer(delay)

	go a.run()

	return a
}

func (a *Alarm) run() {
	defer close(a.done)
	defer a.timer.Stop()

	fires := 0

	for {
		select {
		case <-a.stop:
			return
		case <-a.timer.C():
		}

		select {
		case <-a.stop:
			return
		default:
		}

		fires++
		a.fn()

		if !a.policy(fires) {
			return
		}

		a.mu.Lock()
		a.timer.Reset(a.delay)
		a.mu.Unlock()
	}
}

// Delay returns the current interval.
func (a *Alarm) Delay() time.Duration {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.delay
}

// SetDelay reschedules the pending fire to d from now; later fires use d too.
func (a *Alarm) SetDelay(d time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.delay = d
	if !a.timer.Stop() {
		select {
		case <-a.timer.C():
		default:
		}
	}
	a.timer.Reset(d)
}

// Cancel stops the alarm without waiting for a running callback.
func (a *Alarm) Cancel() {
	a.once.Do(func() {
		close(a.stop)
	})
}

// Done is closed once the alarm will not fire again.
func (a *Alarm) Done() <-chan struct{} {
	return a.done
}
