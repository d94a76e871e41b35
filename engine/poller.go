package engine

import "time"

// poller runs one scope's polling loop at a fixed interval. Polls run
// synchronously in the loop goroutine, so a poll never overlaps itself:
// ticks that fire while a poll is in flight are dropped, which is the
// "skip if the previous one has not returned" rule.
type poller struct {
	interval time.Duration
	poll     func()
	stopChan chan struct{}
}

func newPoller(interval time.Duration, poll func()) *poller {
	return &poller{
		interval: interval,
		poll:     poll,
		stopChan: make(chan struct{}),
	}
}

func (p *poller) Start() {
	go p.run()
}

// Stop ends the loop. An in-flight poll completes; its result is still
// applied by the caller.
func (p *poller) Stop() {
	close(p.stopChan)
}

func (p *poller) run() {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopChan:
			return
		case <-ticker.C:
			p.poll()
			// A tick that fired while the poll ran is dropped, not
			// queued, so a slow poll is never followed back to back.
			select {
			case <-ticker.C:
			default:
			}
		}
	}
}
