package models

import "time"

// Group is a multi-party conversation. The admin is always a member and is
// the only user allowed to change the member set.
type Group struct {
	ID        string    `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	AdminID   string    `db:"admin_id" json:"admin_id"`
	Members   []string  `json:"members"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// IsMember reports whether the user belongs to the group.
func (g Group) IsMember(userID string) bool {
	for _, id := range g.Members {
		if id == userID {
			return true
		}
	}
	return false
}
