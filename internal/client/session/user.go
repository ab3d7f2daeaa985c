package session

// User is the display profile of the logged-in account.
type User struct {
	Username    string `json:"username"`
	DisplayName string `json:"displayName"`
	Role        string `json:"role"`
}

var knownUsers = map[string]User{
	"jeza":  {Username: "jeza", DisplayName: "Jeza", Role: "Thérapeute"},
	"admin": {Username: "admin", DisplayName: "Eric", Role: "Développeur"},
}

// LookupUser derives the display profile from a login identifier. It never
// grants anything; authorization comes from the server token.
func LookupUser(identifier string) User {
	if u, ok := knownUsers[identifier]; ok {
		return u
	}
	return User{Username: identifier, DisplayName: identifier, Role: "User"}
}
