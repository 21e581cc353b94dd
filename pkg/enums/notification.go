package enums

import "fmt"

// NotificationType maps to the notification_type enum in Postgres.
type NotificationType string

const (
	NotificationTypeAuctionWon      NotificationType = "auction_won"
	NotificationTypeEscrowRefund    NotificationType = "escrow_refund"
	NotificationTypeAuctionWarning  NotificationType = "auction_warning"
	NotificationTypeSystemAnnounce  NotificationType = "system_announcement"
	NotificationTypeListingActivity NotificationType = "listing_activity"
)

var validNotificationTypes = []NotificationType{
	NotificationTypeAuctionWon,
	NotificationTypeEscrowRefund,
	NotificationTypeAuctionWarning,
	NotificationTypeSystemAnnounce,
	NotificationTypeListingActivity,
}

// IsValid checks whether the given type matches the canonical enum.
func (n NotificationType) IsValid() bool {
	for _, candidate := range validNotificationTypes {
		if candidate == n {
			return true
		}
	}
	return false
}

// ParseNotificationType converts raw strings into NotificationType.
func ParseNotificationType(value string) (NotificationType, error) {
	for _, candidate := range validNotificationTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid notification type %q", value)
}
