package store

import (
	"time"

	"gorm.io/datatypes"
)

// GORM models used for persistence.
type StoreModel struct {
	ID    uint        `gorm:"primaryKey"`
	Name  string      `gorm:"uniqueIndex;not null"`
	Items []ItemModel `gorm:"foreignKey:StoreID;constraint:OnDelete:CASCADE"`
	Tags  []TagModel  `gorm:"foreignKey:StoreID;constraint:OnDelete:CASCADE"`
}

type ItemModel struct {
	ID      uint    `gorm:"primaryKey"`
	Name    string  `gorm:"not null"`
	Price   float64 `gorm:"not null"`
	StoreID uint    `gorm:"not null;index"`
}

// TagModel enforces per-store name uniqueness with a composite unique
// index, so tag creation is a single atomic conditional insert.
type TagModel struct {
	ID      uint   `gorm:"primaryKey"`
	Name    string `gorm:"not null;uniqueIndex:idx_tags_store_name"`
	StoreID uint   `gorm:"not null;uniqueIndex:idx_tags_store_name"`
}

// ItemTagModel is the item<->tag association. The composite primary key
// makes duplicate links idempotent at the storage layer.
type ItemTagModel struct {
	ItemID uint      `gorm:"primaryKey"`
	TagID  uint      `gorm:"primaryKey"`
	Item   ItemModel `gorm:"foreignKey:ItemID;constraint:OnDelete:CASCADE"`
	Tag    TagModel  `gorm:"foreignKey:TagID;constraint:OnDelete:CASCADE"`
}

// TableName keeps the association table name free of the model suffix.
func (ItemTagModel) TableName() string { return "item_tags" }

type UserModel struct {
	ID           uint   `gorm:"primaryKey"`
	Username     string `gorm:"uniqueIndex;not null"`
	PasswordHash string `gorm:"not null"`
}

type AuditEventModel struct {
	ID        uint           `gorm:"primaryKey"`
	Event     string         `gorm:"not null;index"`
	Outcome   string         `gorm:"not null"`
	IP        string
	Detail    datatypes.JSON `gorm:"type:jsonb"`
	CreatedAt time.Time      `gorm:"not null;index"`
}
