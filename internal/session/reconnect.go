package session

import "time"

// reconnectState is the explicit bookkeeping for the transport reconnect
// policy: attempt count, whether a redial is already scheduled, and the
// pending timer. Keeping it in one struct (instead of closure-captured
// cells) lets teardown cancel everything in a single place.
type reconnectState struct {
	attempts int
	inFlight bool
	timer    *time.Timer
}

// cancel stops any pending redial without resetting the attempt count.
func (r *reconnectState) cancel() {
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	r.inFlight = false
}

// reset clears the state entirely; called once the transport reports synced
// and during teardown.
func (r *reconnectState) reset() {
	r.cancel()
	r.attempts = 0
}
