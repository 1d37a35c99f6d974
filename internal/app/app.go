package app

import (
	"fmt"
	"strings"
	"time"

	"stockroom/pkg/auth"
	"stockroom/pkg/domain"
	"stockroom/pkg/store"
	"stockroom/pkg/token"
)

// Config holds runtime configuration for the core application.
type Config struct {
	DatabaseURL   string
	RedisAddr     string
	RedisPassword string
	JWTSecret     string
	JWTIssuer     string
	JWTAudience   string
	JWTLeeway     time.Duration
	AccessTTL     time.Duration
	RefreshTTL    time.Duration

	// Optional pre-built dependencies; tests inject these.
	Store   store.Store
	Tokens  *token.Issuer
	Revoker store.TokenRevoker
}

// App wires storage and token handling behind the resource operations.
type App struct {
	store  store.Store
	tokens *token.Issuer
}

// New constructs the application. Without an injected store it opens
// Postgres; without an injected revoker it uses Redis when configured
// and falls back to the in-process blocklist.
func New(cfg Config) (*App, error) {
	dataStore := cfg.Store
	if dataStore == nil {
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("database URL required")
		}
		var err error
		dataStore, err = store.NewGormStore(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("init postgres store: %w", err)
		}
	}

	issuer := cfg.Tokens
	if issuer == nil {
		revoker := cfg.Revoker
		if revoker == nil {
			if strings.TrimSpace(cfg.RedisAddr) != "" {
				revoker = store.NewRedisTokenRevoker(cfg.RedisAddr, cfg.RedisPassword)
			} else {
				revoker = store.NewMemoryTokenRevoker()
			}
		}
		var err error
		issuer, err = token.NewIssuer(token.Options{
			Secret:     cfg.JWTSecret,
			Issuer:     cfg.JWTIssuer,
			Audience:   cfg.JWTAudience,
			AccessTTL:  cfg.AccessTTL,
			RefreshTTL: cfg.RefreshTTL,
			Leeway:     cfg.JWTLeeway,
			Revoker:    revoker,
		})
		if err != nil {
			return nil, fmt.Errorf("init token issuer: %w", err)
		}
	}

	return &App{
		store:  dataStore,
		tokens: issuer,
	}, nil
}

// CreateStore inserts a store with a globally unique name.
func (a *App) CreateStore(name string) (domain.Store, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.Store{}, ErrNameRequired
	}
	st, err := a.store.CreateStore(name)
	if err == store.ErrDuplicate {
		return domain.Store{}, ErrStoreNameTaken
	}
	if err != nil {
		return domain.Store{}, fmt.Errorf("insert store: %w", err)
	}
	return st, nil
}

// GetStore fetches a store or reports not found.
func (a *App) GetStore(id uint) (domain.Store, error) {
	st, ok, err := a.store.GetStore(id)
	if err != nil {
		return domain.Store{}, fmt.Errorf("fetch store: %w", err)
	}
	if !ok {
		return domain.Store{}, ErrStoreNotFound
	}
	return st, nil
}

// ListStores returns all stores.
func (a *App) ListStores() ([]domain.Store, error) {
	return a.store.ListStores()
}

// DeleteStore removes a store and, transactionally, its items, tags,
// and item-tag links.
func (a *App) DeleteStore(id uint) error {
	if _, err := a.GetStore(id); err != nil {
		return err
	}
	if err := a.store.DeleteStore(id); err != nil {
		return fmt.Errorf("delete store: %w", err)
	}
	return nil
}

// CreateItem inserts an item under an existing store.
func (a *App) CreateItem(name string, price float64, storeID uint) (domain.Item, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.Item{}, ErrNameRequired
	}
	if _, err := a.GetStore(storeID); err != nil {
		return domain.Item{}, err
	}
	item, err := a.store.CreateItem(name, price, storeID)
	if err != nil {
		return domain.Item{}, fmt.Errorf("insert item: %w", err)
	}
	return item, nil
}

// GetItem fetches an item or reports not found.
func (a *App) GetItem(id uint) (domain.Item, error) {
	item, ok, err := a.store.GetItem(id)
	if err != nil {
		return domain.Item{}, fmt.Errorf("fetch item: %w", err)
	}
	if !ok {
		return domain.Item{}, ErrItemNotFound
	}
	return item, nil
}

// ListItems returns all items.
func (a *App) ListItems() ([]domain.Item, error) {
	return a.store.ListItems()
}

// UpdateItem sets name and price on an existing item.
func (a *App) UpdateItem(id uint, name string, price float64) (domain.Item, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.Item{}, ErrNameRequired
	}
	item, err := a.store.UpdateItem(id, name, price)
	if err == store.ErrNotFound {
		return domain.Item{}, ErrItemNotFound
	}
	if err != nil {
		return domain.Item{}, fmt.Errorf("update item: %w", err)
	}
	return item, nil
}

// DeleteItem removes an item and its tag links.
func (a *App) DeleteItem(id uint) error {
	if _, err := a.GetItem(id); err != nil {
		return err
	}
	if err := a.store.DeleteItem(id); err != nil {
		return fmt.Errorf("delete item: %w", err)
	}
	return nil
}

// TagsInStore lists the tags of an existing store.
func (a *App) TagsInStore(storeID uint) ([]domain.Tag, error) {
	if _, err := a.GetStore(storeID); err != nil {
		return nil, err
	}
	return a.store.ListTagsByStore(storeID)
}

// CreateTag inserts a tag under a store. Uniqueness of (store, name) is
// enforced by the storage layer in the insert itself.
func (a *App) CreateTag(storeID uint, name string) (domain.Tag, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.Tag{}, ErrNameRequired
	}
	if _, err := a.GetStore(storeID); err != nil {
		return domain.Tag{}, err
	}
	tag, err := a.store.CreateTag(storeID, name)
	if err == store.ErrDuplicate {
		return domain.Tag{}, ErrTagNameTaken
	}
	if err != nil {
		return domain.Tag{}, fmt.Errorf("insert tag: %w", err)
	}
	return tag, nil
}

// GetTag fetches a tag or reports not found.
func (a *App) GetTag(id uint) (domain.Tag, error) {
	tag, ok, err := a.store.GetTag(id)
	if err != nil {
		return domain.Tag{}, fmt.Errorf("fetch tag: %w", err)
	}
	if !ok {
		return domain.Tag{}, ErrTagNotFound
	}
	return tag, nil
}

// DeleteTag removes a tag unless items still link to it, in which case
// nothing is mutated.
func (a *App) DeleteTag(id uint) error {
	if _, err := a.GetTag(id); err != nil {
		return err
	}
	err := a.store.DeleteTag(id)
	if err == store.ErrTagAssigned {
		return ErrTagAssigned
	}
	if err != nil {
		return fmt.Errorf("delete tag: %w", err)
	}
	return nil
}

// LinkItemTag attaches a tag to an item; repeating the link is a no-op.
func (a *App) LinkItemTag(itemID, tagID uint) (domain.Tag, error) {
	if _, err := a.GetItem(itemID); err != nil {
		return domain.Tag{}, err
	}
	tag, err := a.GetTag(tagID)
	if err != nil {
		return domain.Tag{}, err
	}
	if err := a.store.LinkItemTag(itemID, tagID); err != nil {
		return domain.Tag{}, fmt.Errorf("link tag: %w", err)
	}
	return tag, nil
}

// UnlinkItemTag removes the link, returning both entities; a missing
// link is a conflict and mutates nothing.
func (a *App) UnlinkItemTag(itemID, tagID uint) (domain.Item, domain.Tag, error) {
	item, err := a.GetItem(itemID)
	if err != nil {
		return domain.Item{}, domain.Tag{}, err
	}
	tag, err := a.GetTag(tagID)
	if err != nil {
		return domain.Item{}, domain.Tag{}, err
	}
	err = a.store.UnlinkItemTag(itemID, tagID)
	if err == store.ErrNotLinked {
		return domain.Item{}, domain.Tag{}, ErrNotLinked
	}
	if err != nil {
		return domain.Item{}, domain.Tag{}, fmt.Errorf("unlink tag: %w", err)
	}
	return item, tag, nil
}

// Register creates a user with a PBKDF2-SHA256 password hash. No tokens
// are issued at this step.
func (a *App) Register(username, password string) error {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return ErrCredentialsRequired
	}
	if err := auth.ValidatePassword(password); err != nil {
		return err
	}
	passwordHash, err := auth.HashPassword(password)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	_, err = a.store.CreateUser(username, passwordHash)
	if err == store.ErrDuplicate {
		return ErrUsernameTaken
	}
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// GetUser fetches a user or reports not found.
func (a *App) GetUser(id uint) (domain.User, error) {
	user, ok, err := a.store.GetUserByID(id)
	if err != nil {
		return domain.User{}, fmt.Errorf("fetch user: %w", err)
	}
	if !ok {
		return domain.User{}, ErrUserNotFound
	}
	return user, nil
}

// DeleteUser removes a user.
func (a *App) DeleteUser(id uint) error {
	if _, err := a.GetUser(id); err != nil {
		return err
	}
	if err := a.store.DeleteUser(id); err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	return nil
}

// Login validates credentials and issues a fresh access token plus a
// refresh token. Unknown usernames and wrong passwords are
// indistinguishable to the caller.
func (a *App) Login(username, password string) (access, refresh string, err error) {
	username = strings.TrimSpace(username)
	user, ok, err := a.store.GetUserByUsername(username)
	if err != nil {
		return "", "", fmt.Errorf("fetch user: %w", err)
	}
	if !ok || !auth.CheckPassword(password, user.PasswordHash) {
		return "", "", ErrInvalidCredentials
	}
	access, err = a.tokens.IssueAccess(user.ID, true)
	if err != nil {
		return "", "", fmt.Errorf("issue access token: %w", err)
	}
	refresh, err = a.tokens.IssueRefresh(user.ID)
	if err != nil {
		return "", "", fmt.Errorf("issue refresh token: %w", err)
	}
	return access, refresh, nil
}

// Logout revokes the access token's jti. The blocklist write is durable
// before this returns.
func (a *App) Logout(rawToken string) error {
	claims, err := a.tokens.VerifyAccess(rawToken)
	if err != nil {
		return err
	}
	if err := a.tokens.Revoke(claims); err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	return nil
}

// Refresh validates a non-revoked refresh token and issues a new,
// non-fresh access token. The refresh token itself is not rotated.
func (a *App) Refresh(rawToken string) (string, error) {
	claims, err := a.tokens.VerifyRefresh(rawToken)
	if err != nil {
		return "", err
	}
	userID, err := claims.UserID()
	if err != nil {
		return "", err
	}
	access, err := a.tokens.IssueAccess(userID, false)
	if err != nil {
		return "", fmt.Errorf("issue access token: %w", err)
	}
	return access, nil
}

// UserFromAccessToken resolves the bearer of an access token, for the
// authentication middleware.
func (a *App) UserFromAccessToken(rawToken string) (domain.User, token.Claims, error) {
	claims, err := a.tokens.VerifyAccess(rawToken)
	if err != nil {
		return domain.User{}, token.Claims{}, err
	}
	userID, err := claims.UserID()
	if err != nil {
		return domain.User{}, token.Claims{}, err
	}
	user, ok, err := a.store.GetUserByID(userID)
	if err != nil {
		return domain.User{}, token.Claims{}, fmt.Errorf("fetch user: %w", err)
	}
	if !ok {
		return domain.User{}, token.Claims{}, ErrUserNotFound
	}
	return user, claims, nil
}

// RecordAuthEvent appends a row to the auth audit trail. Failures are
// reported to the caller but must not fail the request.
func (a *App) RecordAuthEvent(event, outcome, ip string, detail map[string]string) error {
	return a.store.AppendAuditEvent(domain.AuditEvent{
		Event:   event,
		Outcome: outcome,
		IP:      ip,
		Detail:  detail,
	})
}
