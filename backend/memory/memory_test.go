package memory_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ooth "github.com/nickredmark/ooth-sub000"
	"github.com/nickredmark/ooth-sub000/backend/memory"
)

func TestInsertAndGetByID(t *testing.T) {
	b := memory.New()
	ctx := context.Background()

	id, err := b.InsertUser(ctx, map[string]ooth.Values{
		"local": {"email": "a@example.com"},
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	u, err := b.GetUserByID(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, u)
	assert.Equal(t, id, u.ID)
	assert.Equal(t, "a@example.com", u.Strategy("local")["email"])

	u, err = b.GetUserByID(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, u)
}

func TestGetUserFilters(t *testing.T) {
	b := memory.New()
	ctx := context.Background()

	id, err := b.InsertUser(ctx, map[string]ooth.Values{
		"local": {"email": "a@example.com", "username": "alice"},
	})
	require.NoError(t, err)
	_, err = b.InsertUser(ctx, map[string]ooth.Values{
		"local": {"email": "b@example.com", "username": "bob"},
	})
	require.NoError(t, err)

	tests := []struct {
		name   string
		filter map[ooth.FieldKey]any
		want   string
	}{
		{
			"single field",
			map[ooth.FieldKey]any{{Strategy: "local", Field: "email"}: "a@example.com"},
			id,
		},
		{
			"all fields must match",
			map[ooth.FieldKey]any{
				{Strategy: "local", Field: "email"}:    "a@example.com",
				{Strategy: "local", Field: "username"}: "bob",
			},
			"",
		},
		{
			"empty filter matches nothing",
			map[ooth.FieldKey]any{},
			"",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, err := b.GetUser(ctx, tt.filter)
			require.NoError(t, err)
			if tt.want == "" {
				assert.Nil(t, u)
			} else {
				require.NotNil(t, u)
				assert.Equal(t, tt.want, u.ID)
			}
		})
	}
}

func TestGetUserByValueSearchesAnyKey(t *testing.T) {
	b := memory.New()
	ctx := context.Background()

	id, err := b.InsertUser(ctx, map[string]ooth.Values{
		"google": {"email": "a@example.com"},
	})
	require.NoError(t, err)

	keys := []ooth.FieldKey{
		{Strategy: "local", Field: "email"},
		{Strategy: "google", Field: "email"},
	}
	u, err := b.GetUserByValue(ctx, keys, "a@example.com")
	require.NoError(t, err)
	require.NotNil(t, u)
	assert.Equal(t, id, u.ID)

	u, err = b.GetUserByValue(ctx, keys, "nobody@example.com")
	require.NoError(t, err)
	assert.Nil(t, u)
}

func TestUpdateUserMergesAndDeletes(t *testing.T) {
	b := memory.New()
	ctx := context.Background()

	id, err := b.InsertUser(ctx, map[string]ooth.Values{
		"local": {"email": "a@example.com", "verificationToken": "hash"},
	})
	require.NoError(t, err)

	err = b.UpdateUser(ctx, id, map[string]ooth.Values{
		"local": {"verified": true, "verificationToken": nil},
		"guest": {},
	})
	require.NoError(t, err)

	u, err := b.GetUserByID(ctx, id)
	require.NoError(t, err)
	values := u.Strategy("local")
	assert.Equal(t, "a@example.com", values["email"], "untouched field lost")
	assert.Equal(t, true, values["verified"])
	assert.NotContains(t, values, "verificationToken")
	assert.True(t, u.IsRegisteredWith("guest"), "empty sub-document not created")
}

func TestReturnedUsersDoNotAliasStore(t *testing.T) {
	b := memory.New()
	ctx := context.Background()

	id, err := b.InsertUser(ctx, map[string]ooth.Values{
		"local": {"email": "a@example.com"},
	})
	require.NoError(t, err)

	u, err := b.GetUserByID(ctx, id)
	require.NoError(t, err)
	u.Strategy("local")["email"] = "tampered@example.com"

	again, err := b.GetUserByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "a@example.com", again.Strategy("local")["email"])
}

func TestGetUserByValueUncomparableValues(t *testing.T) {
	b := memory.New()
	ctx := context.Background()

	_, err := b.InsertUser(ctx, map[string]ooth.Values{
		"roles": {"roles": []string{"admin"}},
	})
	require.NoError(t, err)

	// Slice-valued fields must not panic during comparison.
	u, err := b.GetUserByValue(ctx, []ooth.FieldKey{{Strategy: "roles", Field: "roles"}}, []string{"admin"})
	require.NoError(t, err)
	assert.NotNil(t, u)
}
