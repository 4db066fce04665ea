package ooth

import "context"

// Values is an arbitrary key-value sub-document owned by a single strategy.
type Values = map[string]any

// User is a sparse map from strategy name to that strategy's sub-document.
// ID is assigned once at creation and never changes.
type User struct {
	ID   string
	Data map[string]Values
}

// Strategy returns the sub-document owned by the named strategy, or nil.
func (u *User) Strategy(name string) Values {
	if u == nil {
		return nil
	}
	return u.Data[name]
}

// IsRegisteredWith reports whether the user carries a sub-document for the
// named strategy, even an empty one (guest accounts have an empty one).
func (u *User) IsRegisteredWith(name string) bool {
	if u == nil {
		return false
	}
	_, ok := u.Data[name]
	return ok
}

// IsRegistered reports whether any strategy has stored data on the user.
// A freshly created guest account is logged in but not yet registered.
func (u *User) IsRegistered() bool {
	if u == nil {
		return false
	}
	for _, values := range u.Data {
		if len(values) > 0 {
			return true
		}
	}
	return false
}

// FieldKey addresses one field inside one strategy's sub-document. Using a
// typed key instead of "strategy.field" string concatenation keeps typo and
// injection classes of bugs out of the core; storage adapters render their
// own path syntax via Path.
type FieldKey struct {
	Strategy string
	Field    string
}

// Path renders the key in the dotted notation used by document stores.
func (k FieldKey) Path() string {
	return k.Strategy + "." + k.Field
}

// Backend is the persistent store of user documents. Implementations must
// treat updates as merges: only the fields present in the update are
// touched, a nil value removes the field. Lookups that match nothing return
// (nil, nil); only genuine storage failures return an error.
//
// The core performs no locking around Backend calls. Two concurrent connect
// attempts presenting the same new unique value can both observe "no user"
// and insert twice; backends that enforce uniqueness at the storage layer
// should surface the conflict as an error.
type Backend interface {
	// GetUserByID fetches a user by its opaque id.
	GetUserByID(ctx context.Context, id string) (*User, error)

	// GetUser returns a user matching every field in the filter.
	GetUser(ctx context.Context, filter map[FieldKey]any) (*User, error)

	// GetUserByValue returns a user where any of the given fields equals
	// value. Used for cross-strategy unique-field lookups.
	GetUserByValue(ctx context.Context, keys []FieldKey, value any) (*User, error)

	// UpdateUser merges the per-strategy field sets into the user document.
	UpdateUser(ctx context.Context, id string, fields map[string]Values) error

	// InsertUser creates a new user from the per-strategy field sets and
	// returns its id.
	InsertUser(ctx context.Context, fields map[string]Values) (string, error)
}
