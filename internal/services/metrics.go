package services

// Admission outcomes reported to SecurityMetrics
const (
	OutcomeAllowed         = "allowed"
	OutcomeTemporaryBlock  = "temporary_block"
	OutcomePermanentBlock  = "permanent_block"
	OutcomeSessionConflict = "session_conflict"
)

// Session end reasons reported to SecurityMetrics
const (
	SessionEndLogout  = "logout"
	SessionEndForced  = "forced"
	SessionEndExpired = "expired"
)

// SecurityMetrics receives counters from the protection core
type SecurityMetrics interface {
	AdmissionDecided(outcome string)
	FailureRecorded()
	BlockApplied(kind string)
	SessionEnded(reason string)
}

type noopMetrics struct{}

func (noopMetrics) AdmissionDecided(string) {}
func (noopMetrics) FailureRecorded()        {}
func (noopMetrics) BlockApplied(string)     {}
func (noopMetrics) SessionEnded(string)     {}
