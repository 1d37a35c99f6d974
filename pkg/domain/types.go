package domain

import "time"

// Store is a top-level inventory container with a globally unique name.
type Store struct {
	ID   uint   `json:"id"`
	Name string `json:"name"`
}

// Item is a priced good belonging to exactly one store.
type Item struct {
	ID      uint    `json:"id"`
	Name    string  `json:"name"`
	Price   float64 `json:"price"`
	StoreID uint    `json:"store_id"`
}

// Tag is a label scoped to one store, attachable to multiple items.
// Tag names are unique per store, not globally.
type Tag struct {
	ID      uint   `json:"id"`
	Name    string `json:"name"`
	StoreID uint   `json:"store_id"`
}

type User struct {
	ID           uint   `json:"id"`
	Username     string `json:"username"`
	PasswordHash string `json:"-"`
}

// AuditEvent records the outcome of an authentication operation.
type AuditEvent struct {
	ID        uint              `json:"id"`
	Event     string            `json:"event"`
	Outcome   string            `json:"outcome"`
	IP        string            `json:"ip,omitempty"`
	Detail    map[string]string `json:"detail,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}
