package auth

import (
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// HashPassword hashes plaintext password using bcrypt.
func HashPassword(password string) (string, error) {
	if len(password) == 0 {
		return "", errors.New("password is empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifyPassword compares plaintext password with stored hash.
func VerifyPassword(hash, password string) error {
	if hash == "" {
		return errors.New("password hash is empty")
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
}

// Operator is a configured account allowed to request admin tokens.
type Operator struct {
	Name         string
	PasswordHash string
	Roles        []string
}

// Operators authenticates configured operator accounts.
type Operators struct {
	byName map[string]Operator
	dummy  string
}

// NewOperators indexes operators by lower-cased name.
func NewOperators(list []Operator) *Operators {
	ops := &Operators{byName: make(map[string]Operator, len(list))}
	for _, op := range list {
		name := strings.ToLower(strings.TrimSpace(op.Name))
		if name == "" || op.PasswordHash == "" {
			continue
		}
		op.Name = name
		op.Roles = dedupeRoles(op.Roles)
		ops.byName[name] = op
		if ops.dummy == "" {
			ops.dummy = op.PasswordHash
		}
	}
	return ops
}

// Len reports how many operators are configured.
func (o *Operators) Len() int { return len(o.byName) }

// Authenticate checks the password. Unknown names still pay for one bcrypt compare.
func (o *Operators) Authenticate(name, password string) (Operator, error) {
	op, ok := o.byName[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		if o.dummy != "" {
			_ = VerifyPassword(o.dummy, password)
		}
		return Operator{}, ErrUnauthorized
	}
	if err := VerifyPassword(op.PasswordHash, password); err != nil {
		return Operator{}, ErrUnauthorized
	}
	return op, nil
}
