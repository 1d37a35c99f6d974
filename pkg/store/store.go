package store

import (
	"errors"

	"stockroom/pkg/domain"
)

var (
	// ErrNotFound indicates a mutation targeted a missing row.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicate indicates a unique constraint violation.
	ErrDuplicate = errors.New("duplicate record")
	// ErrTagAssigned indicates a tag still has linked items.
	ErrTagAssigned = errors.New("tag assigned to one or more items")
	// ErrNotLinked indicates the item/tag association does not exist.
	ErrNotLinked = errors.New("item not linked with tag")
)

// Store defines persistence operations for stores, items, tags, and users.
//
// Lookup methods return (value, false, nil) when the row is absent;
// mutation methods report business-rule violations with the sentinel
// errors above so callers can map them to responses.
type Store interface {
	// stores
	CreateStore(name string) (domain.Store, error)
	GetStore(id uint) (domain.Store, bool, error)
	ListStores() ([]domain.Store, error)
	DeleteStore(id uint) error

	// items
	CreateItem(name string, price float64, storeID uint) (domain.Item, error)
	GetItem(id uint) (domain.Item, bool, error)
	ListItems() ([]domain.Item, error)
	UpdateItem(id uint, name string, price float64) (domain.Item, error)
	DeleteItem(id uint) error

	// tags
	CreateTag(storeID uint, name string) (domain.Tag, error)
	GetTag(id uint) (domain.Tag, bool, error)
	ListTagsByStore(storeID uint) ([]domain.Tag, error)
	DeleteTag(id uint) error
	LinkItemTag(itemID, tagID uint) error
	UnlinkItemTag(itemID, tagID uint) error
	TagLinkCount(tagID uint) (int64, error)

	// users
	CreateUser(username, passwordHash string) (domain.User, error)
	GetUserByUsername(username string) (domain.User, bool, error)
	GetUserByID(id uint) (domain.User, bool, error)
	DeleteUser(id uint) error

	// audit
	AppendAuditEvent(event domain.AuditEvent) error
	ListAuditEvents(limit int) ([]domain.AuditEvent, error)
}
