package domain

import "fmt"

// PaymentStatus is the closed set of payment lifecycle states.
type PaymentStatus string

const (
	StatusPending    PaymentStatus = "pending"
	StatusProcessing PaymentStatus = "processing"
	StatusCompleted  PaymentStatus = "completed"
	StatusFailed     PaymentStatus = "failed"
	StatusCancelled  PaymentStatus = "cancelled"
	StatusRefunded   PaymentStatus = "refunded"
)

var allStatuses = []PaymentStatus{
	StatusPending, StatusProcessing, StatusCompleted,
	StatusFailed, StatusCancelled, StatusRefunded,
}

// transitions is the only place payment status legality is decided.
var transitions = map[PaymentStatus][]PaymentStatus{
	StatusPending:    {StatusProcessing, StatusFailed, StatusCancelled},
	StatusProcessing: {StatusCompleted, StatusFailed},
	StatusCompleted:  {StatusRefunded},
}

func ParseStatus(s string) (PaymentStatus, error) {
	for _, st := range allStatuses {
		if string(st) == s {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown payment status %q", s)
}

func (s PaymentStatus) Valid() bool {
	_, err := ParseStatus(string(s))
	return err == nil
}

// IsTerminal reports whether no further transition can leave s.
// Completed is not terminal: it may still move to refunded.
func (s PaymentStatus) IsTerminal() bool {
	return s.Valid() && len(transitions[s]) == 0
}

// NotifiesPayer reports whether entering s is an outcome the payer is told about.
func (s PaymentStatus) NotifiesPayer() bool {
	return s == StatusCompleted || s.IsTerminal()
}

// IsOpen reports whether the gateway may still settle the payment.
func (s PaymentStatus) IsOpen() bool {
	return s == StatusPending || s == StatusProcessing
}

func CanTransition(from, to PaymentStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// TransitionPath returns the ordered states a payment passes through to get from
// `from` to `to`. A gateway may report completion for a payment we still hold as
// pending (the processing notification was never sent or got lost); that case is
// walked through processing. Every hop is a legal transition.
func TransitionPath(from, to PaymentStatus) ([]PaymentStatus, bool) {
	if CanTransition(from, to) {
		return []PaymentStatus{to}, true
	}
	if from == StatusPending && CanTransition(StatusProcessing, to) {
		return []PaymentStatus{StatusProcessing, to}, true
	}
	return nil, false
}
