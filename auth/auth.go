// Package auth implements the authentication provider contract of spec §6:
// on_authenticate(client_id, username?, password?) -> allow/deny, backed by
// a static user table supporting either a plaintext password or a
// PHC-format argon2id hash per user.
package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// Provider is the contract the connection state machine calls at CONNECT.
type Provider interface {
	Authenticate(clientID, username, password string) (bool, error)
}

// User is one configured account. Exactly one of Password or PasswordHash
// is set when the table is built from a validated config (see
// config.ValidatePasswordExclusivity).
type User struct {
	Username     string
	Password     string // plaintext, only for local/dev use
	PasswordHash string // PHC-format argon2id hash
	Role         string
}

// StaticTable is a Provider backed by an in-memory username -> User map,
// grounded on the teacher's options.go config.Auth map[string]string, now
// hash-aware.
type StaticTable struct {
	users           map[string]User
	allowAnonymous  bool
	enabled         bool
}

type Option func(*StaticTable)

func WithAnonymous(allow bool) Option {
	return func(t *StaticTable) { t.allowAnonymous = allow }
}

func NewStaticTable(users []User, enabled bool, opts ...Option) *StaticTable {
	t := &StaticTable{users: make(map[string]User, len(users)), enabled: enabled}
	for _, u := range users {
		t.users[u.Username] = u
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *StaticTable) Authenticate(clientID, username, password string) (bool, error) {
	if !t.enabled {
		return true, nil
	}
	if username == "" {
		return t.allowAnonymous, nil
	}
	u, ok := t.users[username]
	if !ok {
		return false, nil
	}
	if u.PasswordHash != "" {
		ok, err := VerifyPHC(u.PasswordHash, password)
		if err != nil {
			return false, fmt.Errorf("auth: verify hash for %q: %w", username, err)
		}
		return ok, nil
	}
	return subtle.ConstantTimeCompare([]byte(u.Password), []byte(password)) == 1, nil
}

func (t *StaticTable) RoleOf(username string) (string, bool) {
	u, ok := t.users[username]
	return u.Role, ok
}

const (
	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
	argonKeyLen  = 32
	saltLen      = 16
)

// HashPHC produces a PHC-format argon2id hash string:
// $argon2id$v=19$m=65536,t=1,p=4$<salt>$<hash>
func HashPHC(password string) (string, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	hash := argon2.IDKey([]byte(password), salt, argonTime, argonMemory, argonThreads, argonKeyLen)
	b64salt := base64.RawStdEncoding.EncodeToString(salt)
	b64hash := base64.RawStdEncoding.EncodeToString(hash)
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, argonMemory, argonTime, argonThreads, b64salt, b64hash), nil
}

// VerifyPHC checks password against a PHC-format argon2id hash string.
func VerifyPHC(phc, password string) (bool, error) {
	parts := strings.Split(phc, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return false, errors.New("auth: unsupported hash format")
	}
	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return false, err
	}
	var memory uint32
	var t uint32
	var p uint8
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &t, &p); err != nil {
		return false, err
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false, err
	}
	want, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return false, err
	}
	got := argon2.IDKey([]byte(password), salt, t, memory, p, uint32(len(want)))
	return subtle.ConstantTimeCompare(got, want) == 1, nil
}
