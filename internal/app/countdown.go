package app

import (
	"sync"
	"time"
)

// Countdown runs a fixed-interval tick callback on its own goroutine. Stop
// is the explicit cancellation handle: it is idempotent and does not return
// until the tick loop has exited, so no tick can land after teardown.
type Countdown struct {
	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// StartCountdown invokes tick every interval until tick returns false or
// Stop is called.
func StartCountdown(interval time.Duration, tick func() bool) *Countdown {
	c := &Countdown{
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	go func() {
		defer close(c.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-c.stop:
				return
			case <-ticker.C:
				if !tick() {
					return
				}
			}
		}
	}()
	return c
}

// Stop cancels the countdown and waits for the loop to exit.
func (c *Countdown) Stop() {
	c.stopOnce.Do(func() { close(c.stop) })
	<-c.done
}

// Done is closed once the tick loop has exited, whether by Stop or by the
// callback ending it.
func (c *Countdown) Done() <-chan struct{} {
	return c.done
}
