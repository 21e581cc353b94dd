package enums

import "fmt"

// ListingStatus tracks the auction lifecycle of a property listing.
type ListingStatus string

const (
	ListingStatusDraft     ListingStatus = "draft"
	ListingStatusPublished ListingStatus = "published"
	// ListingStatusProcessing is the interim settlement claim, not a terminal
	// state; the settlement scan reclaims it after the lease expires.
	ListingStatusProcessing ListingStatus = "processing"
	ListingStatusOwned      ListingStatus = "owned"
	ListingStatusClosed     ListingStatus = "closed"
)

var validListingStatuses = []ListingStatus{
	ListingStatusDraft,
	ListingStatusPublished,
	ListingStatusProcessing,
	ListingStatusOwned,
	ListingStatusClosed,
}

// String implements fmt.Stringer.
func (l ListingStatus) String() string {
	return string(l)
}

// IsValid reports whether the value is a known ListingStatus.
func (l ListingStatus) IsValid() bool {
	for _, candidate := range validListingStatuses {
		if candidate == l {
			return true
		}
	}
	return false
}

// IsTerminal reports whether settlement has finished with the listing.
func (l ListingStatus) IsTerminal() bool {
	return l == ListingStatusOwned || l == ListingStatusClosed
}

// ParseListingStatus converts raw input into a ListingStatus.
func ParseListingStatus(value string) (ListingStatus, error) {
	for _, candidate := range validListingStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid listing status %q", value)
}
