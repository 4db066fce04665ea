package ooth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/alexedwards/scs/v2"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

const sessionUserKey = "oothUserID"

// Translator resolves a translation key for a locale. The i18n subpackage
// provides an implementation backed by universal-translator; when none is
// configured the English fallback message is used as-is.
type Translator interface {
	Translate(locale, key, fallback string) string
}

// Config carries the collaborators of an Ooth instance. Backend is
// required; everything else has workable defaults.
type Config struct {
	// Backend is the persistent user store. Required.
	Backend Backend

	// Sessions enables server-side login state. When nil the instance is
	// stateless and clients must authenticate every request (token mode).
	Sessions *scs.SessionManager

	// SharedSecret enables token issuance: authenticated responses carry a
	// signed JWT and the jwtauth strategy accepts it as a bearer credential.
	SharedSecret string

	// TokenExpiry bounds issued tokens. Defaults to 24h when tokens are on.
	TokenExpiry time.Duration

	// Translator localizes user-visible error messages. Optional.
	Translator Translator

	// Logger receives diagnostics for caught request errors. Optional.
	Logger *zerolog.Logger
}

// Ooth is the strategy registry and authentication engine. All registration
// happens at startup, after which the instance is immutable and safe for
// concurrent requests; cross-request user state lives in the Backend and
// the session manager.
type Ooth struct {
	backend      Backend
	sessions     *scs.SessionManager
	sharedSecret string
	tokenExpiry  time.Duration
	translator   Translator
	logger       zerolog.Logger
	now          func() time.Time

	mux *chi.Mux
	bus *eventBus

	strategies     map[string]*strategyDescriptor
	uniqueFields   map[string]map[string]string // logical name -> strategy -> sub-field
	secondary      []secondaryEntry
	secondaryIndex map[string]bool
	afterware      []Afterware
	authAfterware  []Afterware
}

// New builds an Ooth instance. A missing Backend is a configuration error
// and fails immediately, before any traffic is served.
func New(cfg Config) (*Ooth, error) {
	if cfg.Backend == nil {
		return nil, errors.New("ooth: Config.Backend is required")
	}
	logger := zerolog.Nop()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	tokenExpiry := cfg.TokenExpiry
	if cfg.SharedSecret != "" && tokenExpiry <= 0 {
		tokenExpiry = tokenExpiryDefault
	}
	o := &Ooth{
		backend:        cfg.Backend,
		sessions:       cfg.Sessions,
		sharedSecret:   cfg.SharedSecret,
		tokenExpiry:    tokenExpiry,
		translator:     cfg.Translator,
		logger:         logger,
		now:            time.Now,
		mux:            chi.NewRouter(),
		bus:            newEventBus(),
		strategies:     make(map[string]*strategyDescriptor),
		uniqueFields:   make(map[string]map[string]string),
		secondaryIndex: make(map[string]bool),
	}

	// Token issuance must see the post-update user before the profile is
	// attached, hence auth-afterware before afterware.
	if o.sharedSecret != "" {
		o.RegisterAuthAfterware(o.attachToken)
	}
	o.RegisterAfterware(o.attachProfile)

	o.mux.Get("/", o.handleStatus)
	o.mux.Get("/status", o.handleStatus)
	o.mux.Post("/logout", o.handleLogout)
	o.mux.Post("/session/logout", o.handleLogout)
	o.mux.MethodFunc(http.MethodGet, "/{strategy}/{method}", o.dispatch)
	o.mux.MethodFunc(http.MethodPost, "/{strategy}/{method}", o.dispatch)
	return o, nil
}

// Backend exposes the user store to strategies.
func (o *Ooth) Backend() Backend { return o.backend }

// Logger exposes the configured logger to strategies and add-ons.
func (o *Ooth) Logger() *zerolog.Logger { return &o.logger }

// TokensEnabled reports whether the instance can sign and verify tokens.
func (o *Ooth) TokensEnabled() bool { return o.sharedSecret != "" }

// Handler returns the HTTP surface: session loading (when sessions are
// enabled), secondary-auth upgrades, then route dispatch.
func (o *Ooth) Handler() http.Handler {
	var h http.Handler = o.secondaryAuthMiddleware(o.mux)
	if o.sessions != nil {
		h = o.sessions.LoadAndSave(h)
	}
	return h
}

// RequestUser loads the full user document for the request, or nil.
func (o *Ooth) RequestUser(r *http.Request) (*User, error) {
	userID := o.RequestUserID(r)
	if userID == "" {
		return nil, nil
	}
	u, err := o.backend.GetUserByID(r.Context(), userID)
	if err != nil {
		return nil, WrapBackendError(err)
	}
	return u, nil
}

// RequestUserID returns the authenticated user id for the request: the one
// established by secondary auth for this request if any, otherwise the
// session's.
func (o *Ooth) RequestUserID(r *http.Request) string {
	if id, ok := r.Context().Value(ctxUserKey{}).(string); ok && id != "" {
		return id
	}
	return o.sessionUserID(r.Context())
}

func (o *Ooth) sessionUserID(ctx context.Context) string {
	if o.sessions == nil {
		return ""
	}
	return o.sessions.GetString(ctx, sessionUserKey)
}

// sessionID identifies the session for event payloads; empty when sessions
// are disabled.
func (o *Ooth) sessionID(ctx context.Context) string {
	if o.sessions == nil {
		return ""
	}
	return o.sessions.Token(ctx)
}

// login binds the session to a user, rotating the session token against
// fixation.
func (o *Ooth) login(ctx context.Context, userID string) error {
	if o.sessions == nil {
		return nil
	}
	if err := o.sessions.RenewToken(ctx); err != nil {
		return err
	}
	o.sessions.Put(ctx, sessionUserKey, userID)
	return nil
}

func (o *Ooth) logout(ctx context.Context) error {
	if o.sessions == nil {
		return nil
	}
	return o.sessions.Destroy(ctx)
}

func (o *Ooth) translate(locale, key, fallback string) string {
	if o.translator == nil {
		return fallback
	}
	return o.translator.Translate(locale, key, fallback)
}

// localeFromRequest picks the first Accept-Language tag; empty means the
// default locale.
func localeFromRequest(r *http.Request) string {
	header := r.Header.Get("Accept-Language")
	if header == "" {
		return ""
	}
	tag := strings.TrimSpace(strings.Split(header, ",")[0])
	if i := strings.IndexByte(tag, ';'); i >= 0 {
		tag = tag[:i]
	}
	return tag
}

// attachProfile is the default afterware: every response carries the
// current user's profile (or null when logged out).
func (o *Ooth) attachProfile(ctx context.Context, result map[string]any, userID string) (map[string]any, error) {
	if userID == "" {
		result["user"] = nil
		return result, nil
	}
	u, err := o.backend.GetUserByID(ctx, userID)
	if err != nil {
		return nil, WrapBackendError(err)
	}
	result["user"] = o.Profile(u)
	return result, nil
}

// attachToken is the default auth-afterware in token mode.
func (o *Ooth) attachToken(ctx context.Context, result map[string]any, userID string) (map[string]any, error) {
	if userID == "" {
		return result, nil
	}
	token, err := o.SignToken(userID)
	if err != nil {
		return nil, err
	}
	result["token"] = token
	return result, nil
}

// handleStatus reports the current user (and a fresh token in token mode).
func (o *Ooth) handleStatus(w http.ResponseWriter, r *http.Request) {
	u, err := o.RequestUser(r)
	if err != nil {
		o.respondError(w, r, err)
		return
	}
	result := map[string]any{"user": o.Profile(u)}
	if u == nil {
		result["user"] = nil
	}
	if u != nil && o.TokensEnabled() {
		token, err := o.SignToken(u.ID)
		if err != nil {
			o.respondError(w, r, err)
			return
		}
		result["token"] = token
	}
	o.respondJSON(w, http.StatusOK, result)
}

// handleLogout runs the primary-auth pipeline with an empty resolution,
// which clears the session and emits the logout event.
func (o *Ooth) handleLogout(w http.ResponseWriter, r *http.Request) {
	o.completePrimary(w, r, "session", func(ctx context.Context, body json.RawMessage, userID string) (string, bool, error) {
		return "", false, nil
	}, nil)
}
