package ooth

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
)

const maxBodyBytes = 1 << 20

// dispatch routes /{strategy}/{method} to the registered entry. Unknown
// routes answer with the same error envelope as failed methods.
func (o *Ooth) dispatch(w http.ResponseWriter, r *http.Request) {
	strategy := chi.URLParam(r, "strategy")
	method := chi.URLParam(r, "method")

	desc, ok := o.strategies[strategy]
	if !ok {
		o.respondError(w, r, NewError(CodeMethodNotFound, "Unknown method", ""))
		return
	}
	e, ok := desc.methods[method]
	if !ok || e.httpMethod != r.Method {
		o.respondError(w, r, NewError(CodeMethodNotFound, "Unknown method", ""))
		return
	}

	switch e.kind {
	case kindRaw:
		defer o.recoverPanic(w, r)
		e.raw.ServeHTTP(w, r)
	case kindPrimaryAuth:
		o.servePrimaryAuth(w, r, strategy, e)
	case kindPrimaryConnect:
		o.servePrimaryConnect(w, r, strategy, e)
	default:
		o.serveMethod(w, r, e)
	}
}

// serveMethod runs a plain strategy method: guards, handler, afterware.
func (o *Ooth) serveMethod(w http.ResponseWriter, r *http.Request, e *methodEntry) {
	defer o.recoverPanic(w, r)
	ctx := r.Context()

	user, err := o.RequestUser(r)
	if err != nil {
		o.respondError(w, r, err)
		return
	}
	if err := runGuards(ctx, e.guards, user); err != nil {
		o.respondError(w, r, err)
		return
	}

	body, err := readBody(r)
	if err != nil {
		o.respondError(w, r, err)
		return
	}

	userID := ""
	if user != nil {
		userID = user.ID
	}

	result, err := e.handler(ctx, body, userID, localeFromRequest(r))
	if err != nil {
		o.respondError(w, r, err)
		return
	}
	if result == nil {
		result = map[string]any{}
	}
	for _, fn := range o.afterware {
		if result, err = fn(ctx, result, userID); err != nil {
			o.respondError(w, r, err)
			return
		}
	}
	o.respondJSON(w, http.StatusOK, result)
}

func readBody(r *http.Request) (json.RawMessage, error) {
	if r.Body == nil || r.Method == http.MethodGet {
		return nil, nil
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return nil, NewValidationError("Unreadable request body", "")
	}
	if len(data) == 0 {
		return nil, nil
	}
	if !json.Valid(data) {
		return nil, NewValidationError("Invalid JSON body", "")
	}
	return data, nil
}

func (o *Ooth) respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		o.logger.Warn().Err(err).Msg("writing response")
	}
}

// respondError converts any failure into the {status, message} envelope.
// Known errors surface their translated message; everything else is logged
// and reported as a generic internal error so internals never leak.
func (o *Ooth) respondError(w http.ResponseWriter, r *http.Request, err error) {
	locale := localeFromRequest(r)
	status := http.StatusBadRequest
	code := CodeInternal
	fallback := "Something went wrong"

	var e *Error
	if errors.As(err, &e) {
		code = e.Code
		fallback = e.Message
		if e.Code == CodeBackend || e.Code == CodeInternal {
			status = http.StatusInternalServerError
			fallback = "Something went wrong"
		}
	} else {
		status = http.StatusInternalServerError
	}

	o.logger.Warn().Err(err).Str("path", r.URL.Path).Str("code", code).Msg("request failed")

	o.respondJSON(w, status, map[string]any{
		"status":  "error",
		"message": o.translate(locale, code, fallback),
	})
}

// recoverPanic keeps a panicking handler from crashing the process.
func (o *Ooth) recoverPanic(w http.ResponseWriter, r *http.Request) {
	if rec := recover(); rec != nil {
		o.logger.Error().Interface("panic", rec).Str("path", r.URL.Path).Msg("handler panicked")
		o.respondJSON(w, http.StatusInternalServerError, map[string]any{
			"status":  "error",
			"message": o.translate(localeFromRequest(r), CodeInternal, "Something went wrong"),
		})
	}
}
