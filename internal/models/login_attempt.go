package models

import "time"

// FailureRecord is the failure ledger of one username for the current lockout cycle
type FailureRecord struct {
	Username string
	Failures []time.Time
}

// Count returns the number of failures in the cycle
func (r *FailureRecord) Count() int {
	if r == nil {
		return 0
	}
	return len(r.Failures)
}

// LastFailure returns the most recent failure, or the zero time
func (r *FailureRecord) LastFailure() time.Time {
	if r == nil || len(r.Failures) == 0 {
		return time.Time{}
	}
	return r.Failures[len(r.Failures)-1]
}

// AddressSighting records a source address seen on a failed attempt for forensic display
type AddressSighting struct {
	SourceAddress string    `json:"ip_address"`
	SeenAt        time.Time `json:"seen_at"`
}
