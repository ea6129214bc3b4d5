package failover

// Transition indicates whether a health-check outcome changed an
// interface's failed-set membership.
type Transition int

const (
	TransitionNone Transition = iota
	TransitionFailed
	TransitionRecovered
)

// tracker holds the hysteresis counters for one interface. The counters
// are mutually exclusive: an outcome always resets the opposite counter.
// Access is guarded by the manager's mutex.
type tracker struct {
	consecFails     int
	consecSuccesses int
	failed          bool
}

// onOutcome applies one health-check result and reports the membership
// transition, if any. Repeated outcomes past a threshold never produce a
// second transition.
func (t *tracker) onOutcome(healthy bool, failThreshold, recoverThreshold int) Transition {
	if healthy {
		t.consecSuccesses++
		t.consecFails = 0
		if t.failed && t.consecSuccesses >= recoverThreshold {
			t.failed = false
			return TransitionRecovered
		}
		return TransitionNone
	}

	t.consecFails++
	t.consecSuccesses = 0
	if !t.failed && t.consecFails >= failThreshold {
		t.failed = true
		return TransitionFailed
	}
	return TransitionNone
}
