// Package jwtauth authenticates API requests by bearer token. It registers a
// passive secondary authenticator that tries the Authorization header on
// every request, plus a refresh method that re-issues a token from a live
// session.
package jwtauth

import (
	"context"
	"encoding/json"
	"net/http"

	ooth "github.com/nickredmark/ooth-sub000"
)

const Name = "jwt"

type Strategy struct{}

var _ ooth.Strategy = Strategy{}

func New() Strategy { return Strategy{} }

func (Strategy) Name() string { return Name }

func (Strategy) Install(o *ooth.Ooth) error {
	if !o.TokensEnabled() {
		return ooth.NewError(ooth.CodeInternal, "jwt strategy requires a shared secret", "")
	}

	err := o.RegisterSecondaryAuth(Name, "bearer",
		func(r *http.Request, currentUserID string) bool {
			return currentUserID == "" && ooth.BearerToken(r) != ""
		},
		func(r *http.Request) (string, error) {
			return o.VerifyToken(ooth.BearerToken(r))
		})
	if err != nil {
		return err
	}

	// Refresh restarts the expiry clock for a user whose token (or session)
	// is still valid; the auth afterware attaches the fresh token.
	o.RegisterPrimaryAuth(Name, "refresh", []ooth.Guard{ooth.RequireLogged},
		func(ctx context.Context, body json.RawMessage, userID string, r *http.Request) (string, error) {
			return userID, nil
		})
	return nil
}
