package ooth

import (
	"context"
	"encoding/json"
	"net/http"
)

// resolveFunc turns a verified request into a target user id. isNew marks a
// freshly created user (connect flows only).
type resolveFunc func(ctx context.Context, body json.RawMessage, userID string) (string, bool, error)

// completePrimary is the auth session controller: it runs guards, resolves
// the target user, performs the session transition, emits lifecycle events
// and assembles the response through the afterware chains.
func (o *Ooth) completePrimary(w http.ResponseWriter, r *http.Request, strategy string, resolve resolveFunc, guards []Guard) {
	defer o.recoverPanic(w, r)
	ctx := r.Context()

	current, err := o.RequestUser(r)
	if err != nil {
		o.respondError(w, r, err)
		return
	}
	if err := runGuards(ctx, guards, current); err != nil {
		o.respondError(w, r, err)
		return
	}

	body, err := readBody(r)
	if err != nil {
		o.respondError(w, r, err)
		return
	}

	currentID := ""
	if current != nil {
		currentID = current.ID
	}

	userID, isNew, err := resolve(ctx, body, currentID)
	if err != nil {
		o.respondError(w, r, err)
		return
	}

	if isNew {
		if err := o.Emit(ctx, strategy, "register", Values{"_id": userID, "sessionId": o.sessionID(ctx)}); err != nil {
			o.respondError(w, r, err)
			return
		}
	}

	if userID != currentID {
		if userID == "" {
			sessionID := o.sessionID(ctx)
			if err := o.logout(ctx); err != nil {
				o.respondError(w, r, err)
				return
			}
			if err := o.Emit(ctx, strategy, "logout", Values{"_id": currentID, "sessionId": sessionID}); err != nil {
				o.respondError(w, r, err)
				return
			}
		} else {
			if err := o.login(ctx, userID); err != nil {
				o.respondError(w, r, err)
				return
			}
			if err := o.Emit(ctx, strategy, "login", Values{"_id": userID, "sessionId": o.sessionID(ctx)}); err != nil {
				o.respondError(w, r, err)
				return
			}
		}
	}

	result := map[string]any{}
	for _, fn := range o.authAfterware {
		if result, err = fn(ctx, result, userID); err != nil {
			o.respondError(w, r, err)
			return
		}
	}
	for _, fn := range o.afterware {
		if result, err = fn(ctx, result, userID); err != nil {
			o.respondError(w, r, err)
			return
		}
	}
	o.respondJSON(w, http.StatusOK, result)
}

// CompleteConnect finishes a connect flow from a raw handler: the claim-set
// goes through identity resolution and then the normal primary pipeline.
// Redirect-based strategies (OAuth callbacks) call this once they have
// provider claims in hand.
func (o *Ooth) CompleteConnect(w http.ResponseWriter, r *http.Request, strategy string, claims Values) {
	o.completePrimary(w, r, strategy, func(ctx context.Context, _ json.RawMessage, userID string) (string, bool, error) {
		return o.ResolveUser(ctx, strategy, claims, userID)
	}, nil)
}

func (o *Ooth) servePrimaryAuth(w http.ResponseWriter, r *http.Request, strategy string, e *methodEntry) {
	o.completePrimary(w, r, strategy, func(ctx context.Context, body json.RawMessage, userID string) (string, bool, error) {
		id, err := e.auth(ctx, body, userID, r)
		return id, false, err
	}, e.guards)
}

func (o *Ooth) servePrimaryConnect(w http.ResponseWriter, r *http.Request, strategy string, e *methodEntry) {
	o.completePrimary(w, r, strategy, func(ctx context.Context, body json.RawMessage, userID string) (string, bool, error) {
		claims, err := e.connect(ctx, body, userID, r)
		if err != nil {
			return "", false, err
		}
		return o.ResolveUser(ctx, strategy, claims, userID)
	}, e.guards)
}
