package ledger

import (
	"errors"
	"slices"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// Shared predicates, used identically by every stock transition.

// QuorumReached reports whether enough members confirmed to settle. The
// initiator is the first confirmer, hence the +1.
func QuorumReached(t *Transaction) bool {
	return len(t.Confirmer) >= t.ConfirmRequire+1
}

// RejectQuorumReached reports whether enough members rejected.
func RejectQuorumReached(t *Transaction) bool {
	return len(t.Rejector) >= t.ConfirmRequire
}

func HasConfirmed(t *Transaction, id UserID) bool {
	return slices.Contains(t.Confirmer, id)
}

func HasRejected(t *Transaction, id UserID) bool {
	return slices.Contains(t.Rejector, id)
}

// NewTransactionID returns a fresh random transaction id.
func NewTransactionID() TransactionID {
	return TransactionID(uuid.NewString())
}

// ParseTransactionID validates a client-supplied transaction id.
func ParseTransactionID(raw string) (TransactionID, error) {
	if raw == "" {
		return "", deny(ErrValidation, "transaction_id is required")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return "", deny(ErrValidation, "%q is not a valid transaction id", raw)
	}
	return TransactionID(id.String()), nil
}

// MaxAmount caps the shares in a single trade.
const MaxAmount int64 = 1_000_000_000

// ParseAmount parses a positive whole number of shares, at most MaxAmount.
func ParseAmount(raw string) (int64, error) {
	raw = strings.TrimSpace(raw)
	n, err := strconv.ParseInt(raw, 10, 64)
	if errors.Is(err, strconv.ErrRange) || (err == nil && n > MaxAmount) {
		return 0, deny(ErrValidation, "amount must be at most %d", MaxAmount)
	}
	if err != nil {
		if _, ferr := strconv.ParseFloat(raw, 64); ferr == nil {
			return 0, deny(ErrValidation, "amount must be a whole number")
		}
		return 0, deny(ErrValidation, "amount is not a number")
	}
	if n <= 0 {
		return 0, deny(ErrValidation, "amount must be greater than 0")
	}
	return n, nil
}
