package gormstore_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ooth "github.com/nickredmark/ooth-sub000"
	"github.com/nickredmark/ooth-sub000/backend/gormstore"
)

func TestJSONMapRoundTrip(t *testing.T) {
	in := gormstore.JSONMap{
		"local": {"email": "a@example.com", "verified": true},
		"guest": {},
	}

	raw, err := in.Value()
	require.NoError(t, err)

	var out gormstore.JSONMap
	require.NoError(t, out.Scan(raw))
	assert.Equal(t, "a@example.com", out["local"]["email"])
	assert.Equal(t, true, out["local"]["verified"])

	// Empty sub-documents survive, they carry guest-registration state.
	sub, ok := out["guest"]
	require.True(t, ok)
	assert.Empty(t, sub)
}

func TestJSONMapScanString(t *testing.T) {
	var out gormstore.JSONMap
	require.NoError(t, out.Scan(`{"local":{"email":"a@example.com"}}`))
	assert.Equal(t, "a@example.com", out["local"]["email"])
}

func TestJSONMapScanNil(t *testing.T) {
	out := gormstore.JSONMap{"local": ooth.Values{}}
	require.NoError(t, out.Scan(nil))
	assert.Nil(t, out)
}

func TestJSONMapScanRejectsOtherTypes(t *testing.T) {
	var out gormstore.JSONMap
	assert.Error(t, out.Scan(42))
}
