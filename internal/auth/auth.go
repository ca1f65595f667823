// Package auth provides operator identity for the packing engine.
//
// The engine never talks to an identity provider itself; it receives an
// explicit Session at construction and is torn down on sign-out. This
// package supplies the local credential store used by the CLI to mint
// those sessions.
package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrInvalidCredentials is returned when email or password do not match.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrOperatorExists is returned when registering an already-known email.
	ErrOperatorExists = errors.New("operator already exists")
)

// Session identifies a signed-in operator. An empty UID means no session.
type Session struct {
	UID   string
	Email string
}

// SignedIn reports whether the session carries an operator identity.
func (s Session) SignedIn() bool {
	return s.UID != ""
}

// operator is one credential-file entry.
type operator struct {
	UID          string `json:"uid"`
	Email        string `json:"email"`
	PasswordHash string `json:"passwordHash"`
}

// FileAuthenticator verifies operators against a JSON credential file.
// Lookups are case-insensitive on email; passwords are bcrypt hashes.
type FileAuthenticator struct {
	path string
}

// NewFileAuthenticator creates an authenticator over the given file.
// The file does not need to exist yet; Register creates it.
func NewFileAuthenticator(path string) *FileAuthenticator {
	return &FileAuthenticator{path: path}
}

// SignIn verifies the email/password pair and returns the session.
// Unknown email and wrong password are indistinguishable to the caller.
func (a *FileAuthenticator) SignIn(email, password string) (Session, error) {
	if strings.TrimSpace(email) == "" || password == "" {
		return Session{}, ErrInvalidCredentials
	}

	operators, err := a.load()
	if err != nil {
		return Session{}, err
	}

	for _, op := range operators {
		if !strings.EqualFold(op.Email, email) {
			continue
		}
		if bcrypt.CompareHashAndPassword([]byte(op.PasswordHash), []byte(password)) != nil {
			return Session{}, ErrInvalidCredentials
		}
		return Session{UID: op.UID, Email: op.Email}, nil
	}
	return Session{}, ErrInvalidCredentials
}

// Register adds a new operator with a bcrypt-hashed password and a fresh
// UUID uid, and persists the credential file.
func (a *FileAuthenticator) Register(email, password string) (Session, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return Session{}, fmt.Errorf("email and password required")
	}

	operators, err := a.load()
	if err != nil {
		return Session{}, err
	}
	for _, op := range operators {
		if strings.EqualFold(op.Email, email) {
			return Session{}, ErrOperatorExists
		}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return Session{}, fmt.Errorf("hash password: %w", err)
	}

	op := operator{
		UID:          uuid.NewString(),
		Email:        email,
		PasswordHash: string(hash),
	}
	operators = append(operators, op)

	if err := a.save(operators); err != nil {
		return Session{}, err
	}
	return Session{UID: op.UID, Email: op.Email}, nil
}

func (a *FileAuthenticator) load() ([]operator, error) {
	raw, err := os.ReadFile(a.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read credentials: %w", err)
	}

	var operators []operator
	if err := json.Unmarshal(raw, &operators); err != nil {
		return nil, fmt.Errorf("parse credentials: %w", err)
	}
	return operators, nil
}

func (a *FileAuthenticator) save(operators []operator) error {
	raw, err := json.MarshalIndent(operators, "", "  ")
	if err != nil {
		return fmt.Errorf("encode credentials: %w", err)
	}
	if err := os.WriteFile(a.path, raw, 0o600); err != nil {
		return fmt.Errorf("write credentials: %w", err)
	}
	return nil
}
