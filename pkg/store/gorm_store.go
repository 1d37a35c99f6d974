package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
	"stockroom/pkg/domain"
)

const migrateLockID int64 = 52815281

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations under an advisory lock.
func NewGormStore(dsn string) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:         gormLog,
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := withMigrationLock(db, func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(
			&StoreModel{},
			&ItemModel{},
			&TagModel{},
			&ItemTagModel{},
			&UserModel{},
			&AuditEventModel{},
		); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// CreateStore inserts a store; the unique index reports name conflicts.
func (s *GormStore) CreateStore(name string) (domain.Store, error) {
	model := StoreModel{Name: name}
	if err := s.db.Create(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return domain.Store{}, ErrDuplicate
		}
		return domain.Store{}, err
	}
	return storeFromModel(model), nil
}

// GetStore retrieves a store by primary key.
func (s *GormStore) GetStore(id uint) (domain.Store, bool, error) {
	var model StoreModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Store{}, false, nil
		}
		return domain.Store{}, false, err
	}
	return storeFromModel(model), true, nil
}

// ListStores returns all stores ordered by id.
func (s *GormStore) ListStores() ([]domain.Store, error) {
	var models []StoreModel
	if err := s.db.Order("id ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Store, 0, len(models))
	for _, m := range models {
		res = append(res, storeFromModel(m))
	}
	return res, nil
}

// DeleteStore removes a store and everything it owns in one transaction.
// The foreign keys also cascade; the explicit deletes state the rule.
func (s *GormStore) DeleteStore(id uint) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec(
			"DELETE FROM item_tags WHERE item_id IN (SELECT id FROM item_models WHERE store_id = ?)",
			id,
		).Error; err != nil {
			return err
		}
		if err := tx.Delete(&ItemModel{}, "store_id = ?", id).Error; err != nil {
			return err
		}
		if err := tx.Delete(&TagModel{}, "store_id = ?", id).Error; err != nil {
			return err
		}
		return tx.Delete(&StoreModel{}, "id = ?", id).Error
	})
}

// CreateItem inserts an item for a store.
func (s *GormStore) CreateItem(name string, price float64, storeID uint) (domain.Item, error) {
	model := ItemModel{Name: name, Price: price, StoreID: storeID}
	if err := s.db.Create(&model).Error; err != nil {
		return domain.Item{}, err
	}
	return itemFromModel(model), nil
}

// GetItem retrieves an item by primary key.
func (s *GormStore) GetItem(id uint) (domain.Item, bool, error) {
	var model ItemModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Item{}, false, nil
		}
		return domain.Item{}, false, err
	}
	return itemFromModel(model), true, nil
}

// ListItems returns all items ordered by id.
func (s *GormStore) ListItems() ([]domain.Item, error) {
	var models []ItemModel
	if err := s.db.Order("id ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Item, 0, len(models))
	for _, m := range models {
		res = append(res, itemFromModel(m))
	}
	return res, nil
}

// UpdateItem sets name and price on an existing item.
func (s *GormStore) UpdateItem(id uint, name string, price float64) (domain.Item, error) {
	var model ItemModel
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&model, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		model.Name = name
		model.Price = price
		return tx.Save(&model).Error
	})
	if err != nil {
		return domain.Item{}, err
	}
	return itemFromModel(model), nil
}

// DeleteItem removes an item and its tag links.
func (s *GormStore) DeleteItem(id uint) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&ItemTagModel{}, "item_id = ?", id).Error; err != nil {
			return err
		}
		return tx.Delete(&ItemModel{}, "id = ?", id).Error
	})
}

// CreateTag inserts a tag. The composite unique index on (store_id, name)
// makes this the single atomic conditional insert; there is no pre-check.
func (s *GormStore) CreateTag(storeID uint, name string) (domain.Tag, error) {
	model := TagModel{Name: name, StoreID: storeID}
	if err := s.db.Create(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return domain.Tag{}, ErrDuplicate
		}
		return domain.Tag{}, err
	}
	return tagFromModel(model), nil
}

// GetTag retrieves a tag by primary key.
func (s *GormStore) GetTag(id uint) (domain.Tag, bool, error) {
	var model TagModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Tag{}, false, nil
		}
		return domain.Tag{}, false, err
	}
	return tagFromModel(model), true, nil
}

// ListTagsByStore returns tags belonging to a store.
func (s *GormStore) ListTagsByStore(storeID uint) ([]domain.Tag, error) {
	var models []TagModel
	if err := s.db.Where("store_id = ?", storeID).Order("id ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Tag, 0, len(models))
	for _, m := range models {
		res = append(res, tagFromModel(m))
	}
	return res, nil
}

// DeleteTag removes a tag only when no item links to it. The link count
// and the delete run in one transaction so a concurrent link cannot slip
// between the check and the delete.
func (s *GormStore) DeleteTag(id uint) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&ItemTagModel{}).Where("tag_id = ?", id).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return ErrTagAssigned
		}
		return tx.Delete(&TagModel{}, "id = ?", id).Error
	})
}

// LinkItemTag records the association; repeating a link is a no-op.
func (s *GormStore) LinkItemTag(itemID, tagID uint) error {
	model := ItemTagModel{ItemID: itemID, TagID: tagID}
	return s.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&model).Error
}

// UnlinkItemTag removes the association, reporting ErrNotLinked when it
// was not there.
func (s *GormStore) UnlinkItemTag(itemID, tagID uint) error {
	res := s.db.Where("item_id = ? AND tag_id = ?", itemID, tagID).Delete(&ItemTagModel{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotLinked
	}
	return nil
}

// TagLinkCount returns the number of items linked to a tag.
func (s *GormStore) TagLinkCount(tagID uint) (int64, error) {
	var count int64
	if err := s.db.Model(&ItemTagModel{}).Where("tag_id = ?", tagID).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// CreateUser registers a user; the unique index reports username conflicts.
func (s *GormStore) CreateUser(username, passwordHash string) (domain.User, error) {
	model := UserModel{Username: username, PasswordHash: passwordHash}
	if err := s.db.Create(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return domain.User{}, ErrDuplicate
		}
		return domain.User{}, err
	}
	return userFromModel(model), nil
}

// GetUserByUsername looks up a user by username.
func (s *GormStore) GetUserByUsername(username string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.Where("username = ?", username).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// GetUserByID returns a user by ID.
func (s *GormStore) GetUserByID(id uint) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// DeleteUser removes a user.
func (s *GormStore) DeleteUser(id uint) error {
	return s.db.Delete(&UserModel{}, "id = ?", id).Error
}

// AppendAuditEvent records an authentication event.
func (s *GormStore) AppendAuditEvent(event domain.AuditEvent) error {
	model := auditEventToModel(event)
	return s.db.Create(&model).Error
}

// ListAuditEvents returns recent audit events, newest first.
func (s *GormStore) ListAuditEvents(limit int) ([]domain.AuditEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	var models []AuditEventModel
	if err := s.db.Order("created_at DESC").Limit(limit).Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.AuditEvent, 0, len(models))
	for _, m := range models {
		res = append(res, auditEventFromModel(m))
	}
	return res, nil
}

func storeFromModel(m StoreModel) domain.Store {
	return domain.Store{ID: m.ID, Name: m.Name}
}

func itemFromModel(m ItemModel) domain.Item {
	return domain.Item{ID: m.ID, Name: m.Name, Price: m.Price, StoreID: m.StoreID}
}

func tagFromModel(m TagModel) domain.Tag {
	return domain.Tag{ID: m.ID, Name: m.Name, StoreID: m.StoreID}
}

func userFromModel(m UserModel) domain.User {
	return domain.User{ID: m.ID, Username: m.Username, PasswordHash: m.PasswordHash}
}

func auditEventToModel(e domain.AuditEvent) AuditEventModel {
	var detail datatypes.JSON
	if len(e.Detail) > 0 {
		raw, _ := json.Marshal(e.Detail)
		detail = datatypes.JSON(raw)
	}
	created := e.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	return AuditEventModel{
		Event:     e.Event,
		Outcome:   e.Outcome,
		IP:        e.IP,
		Detail:    detail,
		CreatedAt: created,
	}
}

func auditEventFromModel(m AuditEventModel) domain.AuditEvent {
	var detail map[string]string
	if len(m.Detail) > 0 {
		_ = json.Unmarshal(m.Detail, &detail)
	}
	return domain.AuditEvent{
		ID:        m.ID,
		Event:     m.Event,
		Outcome:   m.Outcome,
		IP:        m.IP,
		Detail:    detail,
		CreatedAt: m.CreatedAt,
	}
}
