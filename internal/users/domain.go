package users

import "time"

// User is a staff member as seen through the directory. ChainID is the chain the user
// belongs to directly or through their store.
type User struct {
	ID        int64     `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	ChainID   *int64    `json:"chain_id,omitempty"`
	StoreID   *int64    `json:"store_id,omitempty"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
