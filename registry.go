package ooth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
)

// MethodHandler implements one strategy method. body is the raw JSON
// request body (nil for GET or empty bodies), userID is empty when the
// request is unauthenticated, locale is derived from Accept-Language.
type MethodHandler func(ctx context.Context, body json.RawMessage, userID, locale string) (map[string]any, error)

// PrimaryAuthFunc verifies a primary-auth request and returns the resolved
// user id. An empty id means "log out / no user" and clears the session.
type PrimaryAuthFunc func(ctx context.Context, body json.RawMessage, userID string, r *http.Request) (string, error)

// PrimaryConnectFunc verifies a connect request and returns the raw
// claim-set; the core resolves it to a user through the identity resolver.
type PrimaryConnectFunc func(ctx context.Context, body json.RawMessage, userID string, r *http.Request) (Values, error)

// SecondaryPredicate decides whether a secondary-auth verifier should run
// for a request. currentUserID is the user established so far (session or
// an earlier secondary strategy); predicates typically require it empty.
type SecondaryPredicate func(r *http.Request, currentUserID string) bool

// SecondaryAuthFunc verifies a passive per-request credential (e.g. a
// bearer token) and returns the authenticated user id.
type SecondaryAuthFunc func(r *http.Request) (string, error)

// Afterware transforms the response accumulator after a successful handler
// or auth resolution. Afterware runs in registration order, each receiving
// the previous result.
type Afterware func(ctx context.Context, result map[string]any, userID string) (map[string]any, error)

// Strategy is a pluggable authentication/feature module. Install is called
// once when the strategy is passed to Use; it performs all registrations.
type Strategy interface {
	Name() string
	Install(o *Ooth) error
}

type entryKind int

const (
	kindMethod entryKind = iota
	kindPrimaryAuth
	kindPrimaryConnect
	kindRaw
)

type methodEntry struct {
	kind       entryKind
	httpMethod string
	guards     []Guard
	handler    MethodHandler
	auth       PrimaryAuthFunc
	connect    PrimaryConnectFunc
	raw        http.Handler
}

type strategyDescriptor struct {
	name          string
	profileFields map[string]bool
	uniqueFields  map[string]bool
	methods       map[string]*methodEntry
}

type secondaryEntry struct {
	strategy  string
	method    string
	predicate SecondaryPredicate
	auth      SecondaryAuthFunc
}

// Strategy and method names become URL segments and storage field prefixes.
var nameRx = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// descriptor returns the record for a strategy, creating it on first use.
// Malformed names are a programming error and fail fast at startup.
func (o *Ooth) descriptor(strategy string) *strategyDescriptor {
	if !nameRx.MatchString(strategy) {
		panic(fmt.Sprintf("ooth: invalid strategy name %q", strategy))
	}
	desc, ok := o.strategies[strategy]
	if !ok {
		desc = &strategyDescriptor{
			name:          strategy,
			profileFields: make(map[string]bool),
			uniqueFields:  make(map[string]bool),
			methods:       make(map[string]*methodEntry),
		}
		o.strategies[strategy] = desc
	}
	return desc
}

func (o *Ooth) setMethod(strategy, method string, e *methodEntry) {
	if !nameRx.MatchString(method) {
		panic(fmt.Sprintf("ooth: invalid method name %q", method))
	}
	o.descriptor(strategy).methods[method] = e
}

// RegisterUniqueField declares that the strategy claims the logical unique
// field under the given sub-field of its own sub-document. Multiple
// strategies claiming the same logical field (e.g. "email") enables
// cross-strategy account linking.
func (o *Ooth) RegisterUniqueField(strategy, logicalName, subField string) {
	o.descriptor(strategy)
	claims, ok := o.uniqueFields[logicalName]
	if !ok {
		claims = make(map[string]string)
		o.uniqueFields[logicalName] = claims
	}
	claims[strategy] = subField
}

// RegisterStrategyUniqueField declares fields that are unique within the
// strategy's own sub-document and usable for identity matching.
func (o *Ooth) RegisterStrategyUniqueField(strategy string, names ...string) {
	desc := o.descriptor(strategy)
	for _, n := range names {
		desc.uniqueFields[n] = true
	}
}

// RegisterProfileFields declares which of the strategy's fields appear in
// the externally visible profile. Everything else stays server-side.
func (o *Ooth) RegisterProfileFields(strategy string, names ...string) {
	desc := o.descriptor(strategy)
	for _, n := range names {
		desc.profileFields[n] = true
	}
}

// RegisterMethod mounts a POST method at /{strategy}/{method}. Registering
// the same method twice overwrites the previous handler.
func (o *Ooth) RegisterMethod(strategy, method string, guards []Guard, handler MethodHandler) {
	o.setMethod(strategy, method, &methodEntry{
		kind:       kindMethod,
		httpMethod: http.MethodPost,
		guards:     guards,
		handler:    handler,
	})
}

// RegisterGetMethod mounts a GET method at /{strategy}/{method}.
func (o *Ooth) RegisterGetMethod(strategy, method string, guards []Guard, handler MethodHandler) {
	o.setMethod(strategy, method, &methodEntry{
		kind:       kindMethod,
		httpMethod: http.MethodGet,
		guards:     guards,
		handler:    handler,
	})
}

// RegisterRawMethod mounts an arbitrary http.Handler at
// /{strategy}/{method}. Escape hatch for redirect-based flows (OAuth
// authorize/callback) that cannot speak the JSON method envelope.
func (o *Ooth) RegisterRawMethod(strategy, method, httpMethod string, h http.Handler) {
	o.setMethod(strategy, method, &methodEntry{
		kind:       kindRaw,
		httpMethod: httpMethod,
		raw:        h,
	})
}

// RegisterPrimaryAuth mounts a login-style endpoint: fn returns the user id
// directly (empty id logs the session out) and the core performs the
// session transition and response assembly.
func (o *Ooth) RegisterPrimaryAuth(strategy, method string, guards []Guard, fn PrimaryAuthFunc) {
	o.setMethod(strategy, method, &methodEntry{
		kind:       kindPrimaryAuth,
		httpMethod: http.MethodPost,
		guards:     guards,
		auth:       fn,
	})
}

// RegisterPrimaryConnect mounts a connect endpoint: fn returns a raw
// claim-set which the identity resolver maps to a user before the session
// transition.
func (o *Ooth) RegisterPrimaryConnect(strategy, method string, guards []Guard, fn PrimaryConnectFunc) {
	o.setMethod(strategy, method, &methodEntry{
		kind:       kindPrimaryConnect,
		httpMethod: http.MethodPost,
		guards:     guards,
		connect:    fn,
	})
}

// RegisterSecondaryAuth adds a passive per-request credential check,
// evaluated in registration order before route dispatch. Registering the
// same (strategy, method) pair twice is a startup-time programming error.
func (o *Ooth) RegisterSecondaryAuth(strategy, method string, predicate SecondaryPredicate, fn SecondaryAuthFunc) error {
	o.descriptor(strategy)
	key := strategy + "/" + method
	if o.secondaryIndex[key] {
		return errDuplicateRegistration(strategy, method)
	}
	o.secondaryIndex[key] = true
	o.secondary = append(o.secondary, secondaryEntry{
		strategy:  strategy,
		method:    method,
		predicate: predicate,
		auth:      fn,
	})
	return nil
}

// RegisterAfterware appends a response transformer run after every
// successful method or auth request, in registration order.
func (o *Ooth) RegisterAfterware(fn Afterware) {
	o.afterware = append(o.afterware, fn)
}

// RegisterAuthAfterware appends a response transformer run only after
// primary auth/connect requests, before the regular afterware chain.
// Credential issuance (tokens) belongs here so it runs before profile
// attachment.
func (o *Ooth) RegisterAuthAfterware(fn Afterware) {
	o.authAfterware = append(o.authAfterware, fn)
}

// UniqueFieldKeys returns the concrete field keys of every strategy
// claiming a logical unique field, for cross-strategy lookups.
func (o *Ooth) UniqueFieldKeys(logicalName string) []FieldKey {
	claims := o.uniqueFields[logicalName]
	keys := make([]FieldKey, 0, len(claims))
	for strategy, subField := range claims {
		keys = append(keys, FieldKey{Strategy: strategy, Field: subField})
	}
	return keys
}

// Use installs strategies, failing fast on the first installation error.
func (o *Ooth) Use(strategies ...Strategy) error {
	for _, s := range strategies {
		if err := s.Install(o); err != nil {
			return fmt.Errorf("installing strategy %s: %w", s.Name(), err)
		}
	}
	return nil
}
