package model

import "time"

// Item is a lost or found object report.
type Item struct {
	ID          int64     `json:"id"`
	UserID      *int64    `json:"user_id,omitempty"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Type        string    `json:"type"`
	Location    string    `json:"location,omitempty"`
	Contact     string    `json:"contact,omitempty"`
	HasImage    bool      `json:"has_image"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`

	// Joined fields (not always populated).
	Username string `json:"username,omitempty"`
}

// Item types.
const (
	ItemTypeLost  = "lost"
	ItemTypeFound = "found"
)

// ValidItemType reports whether t is one of the item types.
func ValidItemType(t string) bool {
	return t == ItemTypeLost || t == ItemTypeFound
}

// OwnedBy reports whether the item was posted by the given user.
func (i *Item) OwnedBy(userID int64) bool {
	return i.UserID != nil && *i.UserID == userID
}
