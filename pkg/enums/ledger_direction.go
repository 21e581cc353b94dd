package enums

import "fmt"

// LedgerDirection says whether an entry credits or debits the wallet.
type LedgerDirection string

const (
	LedgerDirectionCredit LedgerDirection = "credit"
	LedgerDirectionDebit  LedgerDirection = "debit"
)

var validLedgerDirections = []LedgerDirection{
	LedgerDirectionCredit,
	LedgerDirectionDebit,
}

// String implements fmt.Stringer.
func (l LedgerDirection) String() string {
	return string(l)
}

// IsValid reports whether the value is a known LedgerDirection.
func (l LedgerDirection) IsValid() bool {
	for _, candidate := range validLedgerDirections {
		if candidate == l {
			return true
		}
	}
	return false
}

// ParseLedgerDirection converts raw input into a LedgerDirection.
func ParseLedgerDirection(value string) (LedgerDirection, error) {
	for _, candidate := range validLedgerDirections {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid ledger direction %q", value)
}
