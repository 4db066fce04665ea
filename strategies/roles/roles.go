// Package roles stores a role list on the user and exposes it in the
// profile. Role changes are restricted to users who already hold the admin
// role; grant the first admin directly through the backend.
package roles

import (
	"context"
	"encoding/json"

	ooth "github.com/nickredmark/ooth-sub000"
)

const Name = "roles"

// Admin is the role required to change other users' roles.
const Admin = "admin"

type Strategy struct{}

var _ ooth.Strategy = Strategy{}

func New() Strategy { return Strategy{} }

func (Strategy) Name() string { return Name }

func (Strategy) Install(o *ooth.Ooth) error {
	o.RegisterProfileFields(Name, "roles")
	o.RegisterMethod(Name, "set", []ooth.Guard{ooth.RequireLogged, requireAdmin}, set(o))
	return nil
}

// requireAdmin runs after RequireLogged, so u is never nil here.
func requireAdmin(ctx context.Context, u *ooth.User) error {
	if !HasRole(u, Admin) {
		return ooth.NewError(ooth.CodeValidation, "Only admins can set roles", "")
	}
	return nil
}

// HasRole reports whether the user holds the given role. It tolerates both
// []string and the []any that JSON-based backends round-trip.
func HasRole(u *ooth.User, role string) bool {
	if u == nil {
		return false
	}
	switch list := u.Strategy(Name)["roles"].(type) {
	case []string:
		for _, r := range list {
			if r == role {
				return true
			}
		}
	case []any:
		for _, r := range list {
			if s, ok := r.(string); ok && s == role {
				return true
			}
		}
	}
	return false
}

type setBody struct {
	UserID string   `json:"userId"`
	Roles  []string `json:"roles"`
}

func set(o *ooth.Ooth) ooth.MethodHandler {
	return func(ctx context.Context, body json.RawMessage, userID, locale string) (map[string]any, error) {
		var req setBody
		if err := json.Unmarshal(body, &req); err != nil || req.UserID == "" {
			return nil, ooth.NewValidationError("Invalid request body", "userId")
		}
		target, err := o.Backend().GetUserByID(ctx, req.UserID)
		if err != nil {
			return nil, ooth.WrapBackendError(err)
		}
		if target == nil {
			return nil, ooth.NewValidationError("Unknown user", "userId")
		}
		if req.Roles == nil {
			req.Roles = []string{}
		}
		err = o.Backend().UpdateUser(ctx, req.UserID, map[string]ooth.Values{Name: {
			"roles": req.Roles,
		}})
		if err != nil {
			return nil, ooth.WrapBackendError(err)
		}
		if err := o.Emit(ctx, Name, "set", ooth.Values{
			"_id":   req.UserID,
			"roles": req.Roles,
			"by":    userID,
		}); err != nil {
			return nil, err
		}
		return map[string]any{"message": "Roles updated"}, nil
	}
}
