package order

import (
	"strings"

	"github.com/go-faster/errors"
)

// Status is the fulfilment state of an order.
type Status string

const (
	StatusPending   Status = "pending"
	StatusShipped   Status = "shipped"
	StatusDelivered Status = "delivered"
)

// Statuses lists every valid status in workflow order.
var Statuses = []Status{StatusPending, StatusShipped, StatusDelivered}

// ParseStatus returns the Status named by s or an *InvalidStatusError.
func ParseStatus(s string) (Status, error) {
	for _, st := range Statuses {
		if string(st) == s {
			return st, nil
		}
	}
	return "", &InvalidStatusError{Value: s}
}

// StatusPolicy decides which status changes are allowed.
type StatusPolicy string

const (
	// PolicyStrict only moves forward one step at a time.
	PolicyStrict StatusPolicy = "strict"
	// PolicyPermissive accepts any valid status from any state.
	PolicyPermissive StatusPolicy = "permissive"
)

// ParseStatusPolicy parses a policy name. An empty name selects PolicyStrict.
func ParseStatusPolicy(s string) (StatusPolicy, error) {
	switch StatusPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", PolicyStrict:
		return PolicyStrict, nil
	case PolicyPermissive:
		return PolicyPermissive, nil
	default:
		return "", errors.Errorf("unknown status policy %q", s)
	}
}

// Allows reports whether an order in status from may move to status to.
// Setting the current status again is always allowed.
func (p StatusPolicy) Allows(from, to Status) bool {
	if from == to {
		return true
	}
	if p == PolicyPermissive {
		return true
	}
	switch from {
	case StatusPending:
		return to == StatusShipped
	case StatusShipped:
		return to == StatusDelivered
	default:
		return false
	}
}
