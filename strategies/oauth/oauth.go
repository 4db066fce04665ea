// Package oauth connects third-party OAuth2 providers as primary connect
// strategies. Each provider mounts two browser-facing endpoints:
//
//	GET /{provider}/auth      redirects to the provider's consent page
//	GET /{provider}/callback  exchanges the code and logs the user in
//
// The provider's user id is a strategy-scoped unique field, and the email it
// reports participates in the logical email field, so an OAuth login finds
// the account a local registration created with the same address.
package oauth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	ooth "github.com/nickredmark/ooth-sub000"
)

// Provider describes one upstream OAuth2 identity provider.
type Provider struct {
	// Name becomes the strategy name, e.g. "google" or "github".
	Name string

	// Config carries client credentials, endpoints, scopes and the
	// redirect URL (which must point at /{Name}/callback).
	Config *oauth2.Config

	// UserInfoURL is fetched with the bearer token after the exchange.
	UserInfoURL string

	// MapClaims turns the userinfo document into the claims stored in the
	// strategy sub-document. It must set "id"; "email", "name" and
	// "picture" feed the profile.
	MapClaims func(info map[string]any) (ooth.Values, error)

	// HTTPClient overrides the client used for the exchange and the
	// userinfo fetch. Defaults to http.DefaultClient.
	HTTPClient *http.Client
}

type Strategy struct {
	p Provider
}

var _ ooth.Strategy = (*Strategy)(nil)

func New(p Provider) *Strategy { return &Strategy{p: p} }

func (s *Strategy) Name() string { return s.p.Name }

func (s *Strategy) Install(o *ooth.Ooth) error {
	if s.p.Config == nil || s.p.UserInfoURL == "" || s.p.MapClaims == nil {
		return ooth.NewError(ooth.CodeInternal,
			fmt.Sprintf("oauth provider %s is missing config, userinfo URL or claim mapper", s.p.Name), "")
	}
	o.RegisterStrategyUniqueField(s.p.Name, "id")
	o.RegisterUniqueField(s.p.Name, "email", "email")
	o.RegisterProfileFields(s.p.Name, "email", "name", "picture")

	o.RegisterRawMethod(s.p.Name, "auth", http.MethodGet, http.HandlerFunc(s.redirect))
	o.RegisterRawMethod(s.p.Name, "callback", http.MethodGet, s.callback(o))
	return nil
}

func (s *Strategy) stateCookie() string { return "ooth_state_" + s.p.Name }

func (s *Strategy) redirect(w http.ResponseWriter, r *http.Request) {
	state, err := randomState()
	if err != nil {
		http.Error(w, "could not start auth flow", http.StatusInternalServerError)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     s.stateCookie(),
		Value:    state,
		Path:     "/",
		MaxAge:   int((10 * time.Minute).Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, s.p.Config.AuthCodeURL(state), http.StatusFound)
}

func (s *Strategy) callback(o *ooth.Ooth) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(s.stateCookie())
		if err != nil || cookie.Value == "" || cookie.Value != r.URL.Query().Get("state") {
			http.Error(w, "invalid oauth state", http.StatusBadRequest)
			return
		}
		// The state cookie is single use.
		http.SetCookie(w, &http.Cookie{Name: s.stateCookie(), Path: "/", MaxAge: -1})

		code := r.URL.Query().Get("code")
		if code == "" {
			http.Error(w, "missing authorization code", http.StatusBadRequest)
			return
		}

		ctx := r.Context()
		if s.p.HTTPClient != nil {
			ctx = context.WithValue(ctx, oauth2.HTTPClient, s.p.HTTPClient)
		}
		token, err := s.p.Config.Exchange(ctx, code)
		if err != nil {
			http.Error(w, "code exchange failed", http.StatusBadGateway)
			return
		}

		info, err := s.fetchUserInfo(ctx, token)
		if err != nil {
			http.Error(w, "could not fetch user info", http.StatusBadGateway)
			return
		}
		claims, err := s.p.MapClaims(info)
		if err != nil {
			http.Error(w, "could not map user info", http.StatusBadGateway)
			return
		}
		if claims["id"] == nil || claims["id"] == "" {
			http.Error(w, "provider returned no user id", http.StatusBadGateway)
			return
		}

		o.CompleteConnect(w, r, s.p.Name, claims)
	})
}

func (s *Strategy) fetchUserInfo(ctx context.Context, token *oauth2.Token) (map[string]any, error) {
	client := s.p.Config.Client(ctx, token)
	resp, err := client.Get(s.p.UserInfoURL)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("userinfo endpoint returned %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	var info map[string]any
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("decoding userinfo: %w", err)
	}
	return info, nil
}

func randomState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// StandardClaims maps the common OpenID Connect userinfo shape (sub, email,
// name, picture). Providers with different field names supply their own
// MapClaims.
func StandardClaims(info map[string]any) (ooth.Values, error) {
	id, _ := info["sub"].(string)
	if id == "" {
		if alt, ok := info["id"]; ok {
			id = fmt.Sprint(alt)
		}
	}
	claims := ooth.Values{"id": id}
	for _, f := range []string{"email", "name", "picture"} {
		if v, ok := info[f].(string); ok && v != "" {
			claims[f] = v
		}
	}
	return claims, nil
}
