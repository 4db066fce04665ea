package ooth

import "context"

// Guard is a precondition evaluated before a method or auth handler runs.
// Guards run left to right and short-circuit on the first failure, which is
// reported to the client as a 400-style error response. The user argument
// is nil when the request carries no authenticated user.
type Guard func(ctx context.Context, u *User) error

// RequireLogged fails unless the request is authenticated.
func RequireLogged(ctx context.Context, u *User) error {
	if u == nil {
		return errNotLoggedIn()
	}
	return nil
}

// RequireNotLogged fails when the request is already authenticated.
func RequireNotLogged(ctx context.Context, u *User) error {
	if u != nil {
		return errAlreadyLoggedIn()
	}
	return nil
}

// RequireNotRegistered fails when the current user already has data stored
// by any strategy. Guest accounts carry an empty sub-document, so a guest
// session passes and may still register properly.
func RequireNotRegistered(ctx context.Context, u *User) error {
	if u.IsRegistered() {
		return errAlreadyRegistered()
	}
	return nil
}

// RequireRegisteredWith fails unless the current user has a sub-document
// for the named strategy.
func RequireRegisteredWith(strategy string) Guard {
	return func(ctx context.Context, u *User) error {
		if !u.IsRegisteredWith(strategy) {
			return errNotRegisteredWith(strategy)
		}
		return nil
	}
}

func runGuards(ctx context.Context, guards []Guard, u *User) error {
	for _, g := range guards {
		if err := g(ctx, u); err != nil {
			return err
		}
	}
	return nil
}
