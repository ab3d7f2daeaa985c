package auth

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"github.com/zhouzirui/moodcycle-gateway/internal/config"
)

var ErrBadCredentials = errors.New("invalid credentials")

type account struct {
	role string
	hash []byte
}

// Accounts verifies dashboard logins against bcrypt hashes.
type Accounts struct {
	byName map[string]account
}

// NewAccounts validates the configured accounts and hashes plaintext
// passwords once.
func NewAccounts(entries []config.AdminAccount) (*Accounts, error) {
	a := &Accounts{byName: make(map[string]account, len(entries))}
	for _, e := range entries {
		if e.Username == "" {
			return nil, fmt.Errorf("admin account with empty username")
		}
		if !ValidRole(e.Role) {
			return nil, fmt.Errorf("admin account %q: %w %q", e.Username, ErrInvalidRole, e.Role)
		}

		hash := []byte(e.PasswordHash)
		if e.Password != "" {
			var err error
			hash, err = bcrypt.GenerateFromPassword([]byte(e.Password), bcrypt.DefaultCost)
			if err != nil {
				return nil, fmt.Errorf("hash password for %q: %w", e.Username, err)
			}
		} else if _, err := bcrypt.Cost(hash); err != nil {
			return nil, fmt.Errorf("admin account %q: malformed bcrypt hash: %w", e.Username, err)
		}

		a.byName[e.Username] = account{role: e.Role, hash: hash}
	}
	return a, nil
}

// Len returns the number of configured accounts.
func (a *Accounts) Len() int { return len(a.byName) }

// Verify returns the role of the account when the password matches.
func (a *Accounts) Verify(username, password string) (string, error) {
	acc, ok := a.byName[username]
	if !ok {
		return "", ErrBadCredentials
	}
	if err := bcrypt.CompareHashAndPassword(acc.hash, []byte(password)); err != nil {
		return "", ErrBadCredentials
	}
	return acc.role, nil
}
