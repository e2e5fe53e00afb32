package authorize

// User is the cached identity of the signed-in account. Profile holds the
// claims the application obtained for it; this module does not decode tokens.
type User struct {
	UserName string
	Profile  map[string]string
}

// UPN returns the user principal name claim, or "" when absent.
func (u *User) UPN() string {
	if u == nil || u.Profile == nil {
		return ""
	}
	return u.Profile["upn"]
}
