package app

import "errors"

// Sentinel errors carry the messages surfaced to API clients; the
// server maps them to HTTP statuses.
var (
	ErrStoreNotFound = errors.New("Store not found.")
	ErrItemNotFound  = errors.New("Item not found.")
	ErrTagNotFound   = errors.New("Tag not found.")
	ErrUserNotFound  = errors.New("User not found.")

	ErrStoreNameTaken = errors.New("A store with that name already exists.")
	ErrTagNameTaken   = errors.New("A tag with that name already exists in that store.")
	ErrUsernameTaken  = errors.New("A user with that username already exists.")

	ErrTagAssigned = errors.New("Tag not deleted since it is assigned to one or more items.")
	ErrNotLinked   = errors.New("Item not linked with tag.")

	ErrNameRequired = errors.New("A name is required.")
	ErrCredentialsRequired = errors.New("A username and password are required.")

	// ErrInvalidCredentials is returned for both unknown usernames and
	// wrong passwords so responses cannot be used for account enumeration.
	ErrInvalidCredentials = errors.New("Invalid credentials.")
)
