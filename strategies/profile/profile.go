// Package profile lets a logged-in user edit a whitelisted set of free-form
// fields (display name, bio, and the like) stored under the profile
// sub-document and exposed through the profile projection.
package profile

import (
	"context"
	"encoding/json"
	"fmt"

	ooth "github.com/nickredmark/ooth-sub000"
)

const Name = "profile"

// Strategy holds the editable field whitelist. Fields not listed are
// rejected, never silently dropped.
type Strategy struct {
	fields map[string]bool
	order  []string
}

var _ ooth.Strategy = (*Strategy)(nil)

// New accepts the editable field names. With none given it defaults to
// name and bio.
func New(fields ...string) *Strategy {
	if len(fields) == 0 {
		fields = []string{"name", "bio"}
	}
	s := &Strategy{fields: make(map[string]bool, len(fields)), order: fields}
	for _, f := range fields {
		s.fields[f] = true
	}
	return s
}

func (s *Strategy) Name() string { return Name }

func (s *Strategy) Install(o *ooth.Ooth) error {
	o.RegisterProfileFields(Name, s.order...)
	o.RegisterMethod(Name, "update", []ooth.Guard{ooth.RequireLogged}, s.update(o))
	return nil
}

func (s *Strategy) update(o *ooth.Ooth) ooth.MethodHandler {
	return func(ctx context.Context, body json.RawMessage, userID, locale string) (map[string]any, error) {
		var req map[string]any
		if err := json.Unmarshal(body, &req); err != nil || len(req) == 0 {
			return nil, ooth.NewValidationError("Invalid request body", "")
		}
		values := ooth.Values{}
		for field, value := range req {
			if !s.fields[field] {
				return nil, ooth.NewValidationError(fmt.Sprintf("Field %s is not editable", field), field)
			}
			values[field] = value
		}
		if err := o.Backend().UpdateUser(ctx, userID, map[string]ooth.Values{Name: values}); err != nil {
			return nil, ooth.WrapBackendError(err)
		}
		if err := o.Emit(ctx, Name, "update", ooth.Values{"_id": userID}); err != nil {
			return nil, err
		}
		return map[string]any{"message": "Profile updated"}, nil
	}
}
