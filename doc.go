// Package ooth is a pluggable user-identity and authentication core.
//
// Ooth composes independently authored strategies (local password, guest,
// OAuth-style connectors, bearer tokens, roles, profile fields) into one
// unified authentication service. Every strategy owns a namespaced
// sub-document on the shared user record and registers unique-field claims,
// profile fields, HTTP methods and event listeners against a single Ooth
// instance.
//
// # Architecture
//
// Backend: abstract persistent store of user documents. Implementations
// live in backend/memory, backend/mongodb and backend/gormstore.
//
// Strategy: a named module installed via Use. A strategy registers its
// fields and handlers once at startup; the registry is immutable afterwards.
//
// Identity resolution: when a strategy completes a "connect" (it returns a
// raw claim-set rather than a user id), the core maps the claims to at most
// one existing user, linking accounts across strategies through shared
// unique fields such as email. Conflicting claims are rejected, never
// silently merged.
//
// # Basic Usage
//
//	be := memory.New()
//	sessions := scs.New()
//	o, err := ooth.New(ooth.Config{
//	    Backend:      be,
//	    Sessions:     sessions,
//	    SharedSecret: "change-me",
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := o.Use(local.New(local.Options{}), guest.New(), jwtauth.New()); err != nil {
//	    log.Fatal(err)
//	}
//	http.ListenAndServe(":8080", o.Handler())
//
// The handler mounts POST /{strategy}/{method} for every registered method,
// GET /status for the current profile, and POST /logout.
//
// # Sessions and Tokens
//
// Login state is kept in a server-side session (alexedwards/scs). When a
// shared secret is configured, successful authentication responses also
// carry a signed JWT whose payload is {_id, iat, exp}; the jwtauth strategy
// accepts such tokens as bearer credentials so stateless clients work
// without cookies.
//
// # Security
//
// Only fields a strategy declares via RegisterProfileFields are ever
// projected into the externally visible profile; password hashes and
// verification tokens stay server-side. User-visible error messages are
// looked up by translation key and never include internal causes.
package ooth
