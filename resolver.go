package ooth

import "context"

// ResolveUser maps a strategy's claim-set to the id of the user it belongs
// to, enforcing at-most-one-match semantics:
//
//  1. Every strategy-unique field present in the claims is looked up inside
//     the acting strategy's own sub-documents.
//  2. Every cross-strategy logical unique field the strategy claims is
//     looked up across all strategies claiming it.
//  3. Distinct candidates from 1-2 conflicting with each other fail as
//     ambiguous; a candidate differing from an authenticated currentUserID
//     fails as a foreign binding. Both checks run before any write, so a
//     rejected claim-set never mutates either account.
//  4. An authenticated request adopts the session's user (connect/link);
//     otherwise a single candidate is adopted (re-login/relink); otherwise
//     a new user is created and isNew is true.
//
// The claims are merged into the chosen user's sub-document for the acting
// strategy. The read-then-write sequence is not transactional; see Backend.
func (o *Ooth) ResolveUser(ctx context.Context, strategy string, claims Values, currentUserID string) (userID string, isNew bool, err error) {
	// The registry is immutable after startup; an unregistered strategy gets
	// a throwaway descriptor instead of a request-time map write.
	desc, ok := o.strategies[strategy]
	if !ok {
		desc = &strategyDescriptor{name: strategy}
	}

	candidates := map[string]bool{}

	for field := range desc.uniqueFields {
		value, ok := claims[field]
		if !ok || isEmptyValue(value) {
			continue
		}
		u, err := o.backend.GetUser(ctx, map[FieldKey]any{{Strategy: strategy, Field: field}: value})
		if err != nil {
			return "", false, WrapBackendError(err)
		}
		if u != nil {
			candidates[u.ID] = true
		}
	}

	for logical, claimants := range o.uniqueFields {
		subField, ok := claimants[strategy]
		if !ok {
			continue
		}
		value, ok := claims[subField]
		if !ok || isEmptyValue(value) {
			continue
		}
		u, err := o.backend.GetUserByValue(ctx, o.UniqueFieldKeys(logical), value)
		if err != nil {
			return "", false, WrapBackendError(err)
		}
		if u != nil {
			candidates[u.ID] = true
		}
	}

	if len(candidates) > 1 {
		return "", false, errAmbiguousIdentity()
	}
	for id := range candidates {
		if currentUserID != "" && id != currentUserID {
			return "", false, errForeignStrategyBinding()
		}
	}

	update := map[string]Values{strategy: claims}

	if currentUserID != "" {
		if err := o.backend.UpdateUser(ctx, currentUserID, update); err != nil {
			return "", false, WrapBackendError(err)
		}
		return currentUserID, false, nil
	}

	for id := range candidates {
		if err := o.backend.UpdateUser(ctx, id, update); err != nil {
			return "", false, WrapBackendError(err)
		}
		return id, false, nil
	}

	id, err := o.backend.InsertUser(ctx, update)
	if err != nil {
		return "", false, WrapBackendError(err)
	}
	return id, true, nil
}

func isEmptyValue(v any) bool {
	if v == nil {
		return true
	}
	s, ok := v.(string)
	return ok && s == ""
}
