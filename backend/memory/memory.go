// Package memory provides an in-memory ooth.Backend for development and
// tests. Documents are deep-copied on the way in and out so callers can
// never alias internal state.
package memory

import (
	"context"
	"reflect"
	"sync"

	"github.com/google/uuid"

	ooth "github.com/nickredmark/ooth-sub000"
)

// Backend keeps all user documents in a mutex-guarded map.
type Backend struct {
	mu    sync.RWMutex
	users map[string]map[string]ooth.Values
}

var _ ooth.Backend = (*Backend)(nil)

func New() *Backend {
	return &Backend{users: make(map[string]map[string]ooth.Values)}
}

func (b *Backend) GetUserByID(ctx context.Context, id string) (*ooth.User, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	data, ok := b.users[id]
	if !ok {
		return nil, nil
	}
	return &ooth.User{ID: id, Data: copyDoc(data)}, nil
}

func (b *Backend) GetUser(ctx context.Context, filter map[ooth.FieldKey]any) (*ooth.User, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for id, data := range b.users {
		if matchesAll(data, filter) {
			return &ooth.User{ID: id, Data: copyDoc(data)}, nil
		}
	}
	return nil, nil
}

func (b *Backend) GetUserByValue(ctx context.Context, keys []ooth.FieldKey, value any) (*ooth.User, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for id, data := range b.users {
		for _, key := range keys {
			if fieldEquals(data, key, value) {
				return &ooth.User{ID: id, Data: copyDoc(data)}, nil
			}
		}
	}
	return nil, nil
}

func (b *Backend) UpdateUser(ctx context.Context, id string, fields map[string]ooth.Values) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.users[id]
	if !ok {
		return nil
	}
	mergeDoc(data, fields)
	return nil
}

func (b *Backend) InsertUser(ctx context.Context, fields map[string]ooth.Values) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := uuid.NewString()
	data := make(map[string]ooth.Values)
	mergeDoc(data, fields)
	b.users[id] = data
	return id, nil
}

// mergeDoc applies per-strategy field sets; a nil value deletes the field.
func mergeDoc(data map[string]ooth.Values, fields map[string]ooth.Values) {
	for strategy, values := range fields {
		sub, ok := data[strategy]
		if !ok {
			sub = ooth.Values{}
			data[strategy] = sub
		}
		for field, value := range values {
			if value == nil {
				delete(sub, field)
			} else {
				sub[field] = value
			}
		}
	}
}

func matchesAll(data map[string]ooth.Values, filter map[ooth.FieldKey]any) bool {
	if len(filter) == 0 {
		return false
	}
	for key, value := range filter {
		if !fieldEquals(data, key, value) {
			return false
		}
	}
	return true
}

func fieldEquals(data map[string]ooth.Values, key ooth.FieldKey, value any) bool {
	sub, ok := data[key.Strategy]
	if !ok {
		return false
	}
	stored, ok := sub[key.Field]
	return ok && reflect.DeepEqual(stored, value)
}

func copyDoc(data map[string]ooth.Values) map[string]ooth.Values {
	out := make(map[string]ooth.Values, len(data))
	for strategy, values := range data {
		sub := make(ooth.Values, len(values))
		for field, value := range values {
			sub[field] = value
		}
		out[strategy] = sub
	}
	return out
}
