package store

import (
	"sync"
	"time"

	"stockroom/pkg/domain"
)

// MemoryStore keeps all data in-process. It backs tests and local
// development and honors the same invariants as the Postgres store.
type MemoryStore struct {
	mu     sync.RWMutex
	nextID map[string]uint

	stores map[uint]domain.Store
	items  map[uint]domain.Item
	tags   map[uint]domain.Tag
	users  map[uint]domain.User

	storeOrder []uint
	itemOrder  []uint
	tagOrder   []uint

	links map[[2]uint]struct{} // (item ID, tag ID)
	audit []domain.AuditEvent
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nextID: make(map[string]uint),
		stores: make(map[uint]domain.Store),
		items:  make(map[uint]domain.Item),
		tags:   make(map[uint]domain.Tag),
		users:  make(map[uint]domain.User),
		links:  make(map[[2]uint]struct{}),
	}
}

func (m *MemoryStore) nextRowID(table string) uint {
	m.nextID[table]++
	return m.nextID[table]
}

// CreateStore inserts a store, rejecting duplicate names.
func (m *MemoryStore) CreateStore(name string) (domain.Store, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, st := range m.stores {
		if st.Name == name {
			return domain.Store{}, ErrDuplicate
		}
	}
	st := domain.Store{ID: m.nextRowID("stores"), Name: name}
	m.stores[st.ID] = st
	m.storeOrder = append(m.storeOrder, st.ID)
	return st, nil
}

// GetStore retrieves a store by ID.
func (m *MemoryStore) GetStore(id uint) (domain.Store, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.stores[id]
	return st, ok, nil
}

// ListStores returns stores in insertion order.
func (m *MemoryStore) ListStores() ([]domain.Store, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Store, 0, len(m.storeOrder))
	for _, id := range m.storeOrder {
		if st, ok := m.stores[id]; ok {
			res = append(res, st)
		}
	}
	return res, nil
}

// DeleteStore removes a store with its items, tags, and links.
func (m *MemoryStore) DeleteStore(id uint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for itemID, item := range m.items {
		if item.StoreID != id {
			continue
		}
		for key := range m.links {
			if key[0] == itemID {
				delete(m.links, key)
			}
		}
		delete(m.items, itemID)
	}
	for tagID, tag := range m.tags {
		if tag.StoreID != id {
			continue
		}
		for key := range m.links {
			if key[1] == tagID {
				delete(m.links, key)
			}
		}
		delete(m.tags, tagID)
	}
	delete(m.stores, id)
	return nil
}

// CreateItem inserts an item.
func (m *MemoryStore) CreateItem(name string, price float64, storeID uint) (domain.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item := domain.Item{ID: m.nextRowID("items"), Name: name, Price: price, StoreID: storeID}
	m.items[item.ID] = item
	m.itemOrder = append(m.itemOrder, item.ID)
	return item, nil
}

// GetItem retrieves an item by ID.
func (m *MemoryStore) GetItem(id uint) (domain.Item, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	item, ok := m.items[id]
	return item, ok, nil
}

// ListItems returns items in insertion order.
func (m *MemoryStore) ListItems() ([]domain.Item, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Item, 0, len(m.itemOrder))
	for _, id := range m.itemOrder {
		if item, ok := m.items[id]; ok {
			res = append(res, item)
		}
	}
	return res, nil
}

// UpdateItem sets name and price on an existing item.
func (m *MemoryStore) UpdateItem(id uint, name string, price float64) (domain.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[id]
	if !ok {
		return domain.Item{}, ErrNotFound
	}
	item.Name = name
	item.Price = price
	m.items[id] = item
	return item, nil
}

// DeleteItem removes an item and its tag links.
func (m *MemoryStore) DeleteItem(id uint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key := range m.links {
		if key[0] == id {
			delete(m.links, key)
		}
	}
	delete(m.items, id)
	return nil
}

// CreateTag inserts a tag, rejecting duplicate names within the store.
func (m *MemoryStore) CreateTag(storeID uint, name string) (domain.Tag, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, tag := range m.tags {
		if tag.StoreID == storeID && tag.Name == name {
			return domain.Tag{}, ErrDuplicate
		}
	}
	tag := domain.Tag{ID: m.nextRowID("tags"), Name: name, StoreID: storeID}
	m.tags[tag.ID] = tag
	m.tagOrder = append(m.tagOrder, tag.ID)
	return tag, nil
}

// GetTag retrieves a tag by ID.
func (m *MemoryStore) GetTag(id uint) (domain.Tag, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tag, ok := m.tags[id]
	return tag, ok, nil
}

// ListTagsByStore returns a store's tags in insertion order.
func (m *MemoryStore) ListTagsByStore(storeID uint) ([]domain.Tag, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Tag, 0)
	for _, id := range m.tagOrder {
		if tag, ok := m.tags[id]; ok && tag.StoreID == storeID {
			res = append(res, tag)
		}
	}
	return res, nil
}

// DeleteTag removes a tag unless an item still links to it.
func (m *MemoryStore) DeleteTag(id uint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key := range m.links {
		if key[1] == id {
			return ErrTagAssigned
		}
	}
	delete(m.tags, id)
	return nil
}

// LinkItemTag records the association; repeating a link is a no-op.
func (m *MemoryStore) LinkItemTag(itemID, tagID uint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.links[[2]uint{itemID, tagID}] = struct{}{}
	return nil
}

// UnlinkItemTag removes the association if present.
func (m *MemoryStore) UnlinkItemTag(itemID, tagID uint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := [2]uint{itemID, tagID}
	if _, ok := m.links[key]; !ok {
		return ErrNotLinked
	}
	delete(m.links, key)
	return nil
}

// TagLinkCount returns the number of items linked to a tag.
func (m *MemoryStore) TagLinkCount(tagID uint) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var count int64
	for key := range m.links {
		if key[1] == tagID {
			count++
		}
	}
	return count, nil
}

// CreateUser registers a user, rejecting duplicate usernames.
func (m *MemoryStore) CreateUser(username, passwordHash string) (domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Username == username {
			return domain.User{}, ErrDuplicate
		}
	}
	user := domain.User{ID: m.nextRowID("users"), Username: username, PasswordHash: passwordHash}
	m.users[user.ID] = user
	return user, nil
}

// GetUserByUsername looks up a user by username.
func (m *MemoryStore) GetUserByUsername(username string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.users {
		if u.Username == username {
			return u, true, nil
		}
	}
	return domain.User{}, false, nil
}

// GetUserByID returns a user by ID.
func (m *MemoryStore) GetUserByID(id uint) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	return u, ok, nil
}

// DeleteUser removes a user.
func (m *MemoryStore) DeleteUser(id uint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.users, id)
	return nil
}

// AppendAuditEvent records an authentication event.
func (m *MemoryStore) AppendAuditEvent(event domain.AuditEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	event.ID = m.nextRowID("audit")
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	m.audit = append(m.audit, event)
	return nil
}

// ListAuditEvents returns recent audit events, newest first.
func (m *MemoryStore) ListAuditEvents(limit int) ([]domain.AuditEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if limit <= 0 || limit > len(m.audit) {
		limit = len(m.audit)
	}
	res := make([]domain.AuditEvent, 0, limit)
	for i := len(m.audit) - 1; i >= 0 && len(res) < limit; i-- {
		res = append(res, m.audit[i])
	}
	return res, nil
}
