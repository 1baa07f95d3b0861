package model

import "time"

// DeletionRequest is a poster's request for an administrator to remove an item.
type DeletionRequest struct {
	ID         int64      `json:"id"`
	ItemID     *int64     `json:"item_id"` // nil once the item is gone
	UserID     int64      `json:"user_id"`
	Reason     string     `json:"reason,omitempty"`
	Status     string     `json:"status"`
	CreatedAt  time.Time  `json:"created_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
	ResolvedBy *int64     `json:"resolved_by,omitempty"`

	// ItemTitle is the item's current title, or the title it had when the
	// request was filed if the item has since been removed.
	ItemTitle string `json:"item_title,omitempty"`
	Username  string `json:"username,omitempty"`
}

// Deletion request statuses.
const (
	RequestStatusPending  = "pending"
	RequestStatusApproved = "approved"
	RequestStatusRejected = "rejected"
)

// ValidRequestStatus reports whether s is one of the request statuses.
func ValidRequestStatus(s string) bool {
	switch s {
	case RequestStatusPending, RequestStatusApproved, RequestStatusRejected:
		return true
	}
	return false
}
