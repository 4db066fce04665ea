// Package guest lets anonymous visitors obtain a session-backed user with no
// credentials. A guest user carries an empty guest sub-document; a later
// registration with another strategy upgrades the same user in place.
package guest

import (
	"context"
	"encoding/json"
	"net/http"

	ooth "github.com/nickredmark/ooth-sub000"
)

const Name = "guest"

type Strategy struct{}

var _ ooth.Strategy = Strategy{}

func New() Strategy { return Strategy{} }

func (Strategy) Name() string { return Name }

func (Strategy) Install(o *ooth.Ooth) error {
	o.RegisterPrimaryConnect(Name, "register", []ooth.Guard{ooth.RequireNotLogged},
		func(ctx context.Context, body json.RawMessage, userID string, r *http.Request) (ooth.Values, error) {
			return ooth.Values{}, nil
		})
	return nil
}
