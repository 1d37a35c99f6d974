package store

import (
	"errors"
	"testing"

	"stockroom/pkg/domain"
)

func domainAuditEvent(event, outcome string) domain.AuditEvent {
	return domain.AuditEvent{Event: event, Outcome: outcome, IP: "203.0.113.9"}
}

func TestMemoryStoreUniqueStoreName(t *testing.T) {
	m := NewMemoryStore()

	if _, err := m.CreateStore("Acme"); err != nil {
		t.Fatalf("create store: %v", err)
	}
	if _, err := m.CreateStore("Acme"); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("duplicate store name: want ErrDuplicate, got %v", err)
	}
	stores, err := m.ListStores()
	if err != nil {
		t.Fatalf("list stores: %v", err)
	}
	if len(stores) != 1 {
		t.Fatalf("store count changed on conflict: %d", len(stores))
	}
}

func TestMemoryStoreTagNameScopedToStore(t *testing.T) {
	m := NewMemoryStore()
	s1, _ := m.CreateStore("one")
	s2, _ := m.CreateStore("two")

	if _, err := m.CreateTag(s1.ID, "sale"); err != nil {
		t.Fatalf("create tag: %v", err)
	}
	if _, err := m.CreateTag(s1.ID, "sale"); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("same store duplicate: want ErrDuplicate, got %v", err)
	}
	if _, err := m.CreateTag(s2.ID, "sale"); err != nil {
		t.Fatalf("same name under another store should succeed: %v", err)
	}
}

func TestMemoryStoreTagDeleteGuardedByLinks(t *testing.T) {
	m := NewMemoryStore()
	st, _ := m.CreateStore("one")
	item, _ := m.CreateItem("chair", 19.99, st.ID)
	tag, _ := m.CreateTag(st.ID, "furniture")

	if err := m.LinkItemTag(item.ID, tag.ID); err != nil {
		t.Fatalf("link: %v", err)
	}
	if err := m.DeleteTag(tag.ID); !errors.Is(err, ErrTagAssigned) {
		t.Fatalf("delete linked tag: want ErrTagAssigned, got %v", err)
	}
	if _, ok, _ := m.GetTag(tag.ID); !ok {
		t.Fatal("failed delete must not mutate the tag")
	}

	if err := m.UnlinkItemTag(item.ID, tag.ID); err != nil {
		t.Fatalf("unlink: %v", err)
	}
	if err := m.DeleteTag(tag.ID); err != nil {
		t.Fatalf("delete after unlink: %v", err)
	}
}

func TestMemoryStoreLinkIdempotentUnlinkOnce(t *testing.T) {
	m := NewMemoryStore()
	st, _ := m.CreateStore("one")
	item, _ := m.CreateItem("chair", 19.99, st.ID)
	tag, _ := m.CreateTag(st.ID, "furniture")

	if err := m.LinkItemTag(item.ID, tag.ID); err != nil {
		t.Fatalf("link: %v", err)
	}
	if err := m.LinkItemTag(item.ID, tag.ID); err != nil {
		t.Fatalf("repeat link must be a no-op: %v", err)
	}
	count, err := m.TagLinkCount(tag.ID)
	if err != nil {
		t.Fatalf("link count: %v", err)
	}
	if count != 1 {
		t.Fatalf("double link produced %d memberships", count)
	}

	if err := m.UnlinkItemTag(item.ID, tag.ID); err != nil {
		t.Fatalf("unlink: %v", err)
	}
	if err := m.UnlinkItemTag(item.ID, tag.ID); !errors.Is(err, ErrNotLinked) {
		t.Fatalf("second unlink: want ErrNotLinked, got %v", err)
	}
}

func TestMemoryStoreDeleteStoreCascades(t *testing.T) {
	m := NewMemoryStore()
	st, _ := m.CreateStore("one")
	other, _ := m.CreateStore("two")
	item, _ := m.CreateItem("chair", 19.99, st.ID)
	keep, _ := m.CreateItem("desk", 120, other.ID)
	tag, _ := m.CreateTag(st.ID, "furniture")
	_ = m.LinkItemTag(item.ID, tag.ID)

	if err := m.DeleteStore(st.ID); err != nil {
		t.Fatalf("delete store: %v", err)
	}
	if _, ok, _ := m.GetItem(item.ID); ok {
		t.Fatal("owned item must be deleted with the store")
	}
	if _, ok, _ := m.GetTag(tag.ID); ok {
		t.Fatal("owned tag must be deleted with the store")
	}
	if count, _ := m.TagLinkCount(tag.ID); count != 0 {
		t.Fatal("links must be deleted with the store")
	}
	if _, ok, _ := m.GetItem(keep.ID); !ok {
		t.Fatal("other store's item must survive")
	}
}

func TestMemoryStoreUserUniqueness(t *testing.T) {
	m := NewMemoryStore()
	if _, err := m.CreateUser("alice", "hash"); err != nil {
		t.Fatalf("create user: %v", err)
	}
	if _, err := m.CreateUser("alice", "hash2"); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("duplicate username: want ErrDuplicate, got %v", err)
	}
	u, ok, err := m.GetUserByUsername("alice")
	if err != nil || !ok {
		t.Fatalf("lookup: ok=%v err=%v", ok, err)
	}
	if err := m.DeleteUser(u.ID); err != nil {
		t.Fatalf("delete user: %v", err)
	}
	if _, ok, _ := m.GetUserByID(u.ID); ok {
		t.Fatal("user should be gone")
	}
}

func TestMemoryStoreAuditTrail(t *testing.T) {
	m := NewMemoryStore()
	for _, outcome := range []string{"success", "failure", "failure"} {
		if err := m.AppendAuditEvent(domainAuditEvent("login", outcome)); err != nil {
			t.Fatalf("append audit: %v", err)
		}
	}
	events, err := m.ListAuditEvents(2)
	if err != nil {
		t.Fatalf("list audit: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("limit ignored: got %d events", len(events))
	}
	if events[0].Outcome != "failure" {
		t.Fatalf("expected newest first, got %q", events[0].Outcome)
	}
}
