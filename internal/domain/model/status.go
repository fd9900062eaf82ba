package model

// CanonicalStatus is the gateway-independent settlement state of a payment attempt
// and of the payable it settles.
type CanonicalStatus string

const (
	StatusPending    CanonicalStatus = "pending"
	StatusProcessing CanonicalStatus = "processing"
	StatusSucceeded  CanonicalStatus = "succeeded"
	StatusFailed     CanonicalStatus = "failed"
)

// Known reports whether s is one of the four canonical values.
func (s CanonicalStatus) Known() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusSucceeded, StatusFailed:
		return true
	}
	return false
}

// Terminal reports whether a payment attempt in this state is closed.
func (s CanonicalStatus) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// Coerce maps unknown (passed-through) gateway statuses to pending.
func (s CanonicalStatus) Coerce() CanonicalStatus {
	if s.Known() {
		return s
	}
	return StatusPending
}

// ReadyForProcessing is the value of a payable's ready_for_payment_processing flag
// once it carries status s.
func (s CanonicalStatus) ReadyForProcessing() bool {
	return s != StatusSucceeded && s != StatusProcessing
}
