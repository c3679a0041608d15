package ledger

import (
	"errors"
	"fmt"
)

// ErrResponseMissing is returned when delivery is confirmed before a response exists
var ErrResponseMissing = errors.New("transaction has no response")

// ErrRecoveryDataMissing is returned when a replay is attempted without recovery data
var ErrRecoveryDataMissing = errors.New("transaction has no recovery data")

// DeliveryFailure is the typed result of recording a failed delivery. The
// caller decides whether to route the response to the fallback store.
type DeliveryFailure struct {
	TransactionID string
	Reason        string
	// RecordErr is set when the failure itself could not be persisted
	RecordErr error
}

func (e *DeliveryFailure) Error() string {
	if e.RecordErr != nil {
		return fmt.Sprintf("delivery failed for %s: %s (not recorded: %v)", e.TransactionID, e.Reason, e.RecordErr)
	}
	return fmt.Sprintf("delivery failed for %s: %s", e.TransactionID, e.Reason)
}

func (e *DeliveryFailure) Unwrap() error {
	return e.RecordErr
}
