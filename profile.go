package ooth

// Profile builds the externally visible projection of a user: the _id plus,
// per strategy with a non-empty sub-document, only the fields that strategy
// declared via RegisterProfileFields. Anything else stored on the user
// (password hashes, verification tokens) never leaves the server. Returns
// nil for a nil user.
func (o *Ooth) Profile(u *User) map[string]any {
	if u == nil {
		return nil
	}
	profile := map[string]any{"_id": u.ID}
	for name, values := range u.Data {
		if len(values) == 0 {
			continue
		}
		desc, ok := o.strategies[name]
		if !ok {
			continue
		}
		sub := map[string]any{}
		for field := range desc.profileFields {
			if v, ok := values[field]; ok && v != nil {
				sub[field] = v
			}
		}
		profile[name] = sub
	}
	return profile
}
