package enums

import "fmt"

// LedgerSource tags the origin of a wallet ledger entry.
type LedgerSource string

const (
	LedgerSourceEscrowRefund  LedgerSource = "escrow_refund"
	LedgerSourceDeposit       LedgerSource = "deposit"
	LedgerSourceWithdrawal    LedgerSource = "withdrawal"
	LedgerSourceAdminAdjust   LedgerSource = "admin_adjust"
	LedgerSourceAuctionPayout LedgerSource = "auction_payout"
)

var validLedgerSources = []LedgerSource{
	LedgerSourceEscrowRefund,
	LedgerSourceDeposit,
	LedgerSourceWithdrawal,
	LedgerSourceAdminAdjust,
	LedgerSourceAuctionPayout,
}

// String implements fmt.Stringer.
func (l LedgerSource) String() string {
	return string(l)
}

// IsValid reports whether the value is a known LedgerSource.
func (l LedgerSource) IsValid() bool {
	for _, candidate := range validLedgerSources {
		if candidate == l {
			return true
		}
	}
	return false
}

// ParseLedgerSource converts raw input into a LedgerSource.
func ParseLedgerSource(value string) (LedgerSource, error) {
	for _, candidate := range validLedgerSources {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid ledger source %q", value)
}
