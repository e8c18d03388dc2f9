package identity

import (
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/argon2"
)

// ErrUserExists rejects a signup for a name that is already taken.
var ErrUserExists = errors.New("user already exists")

const (
	argonTime    = 4
	argonMemory  = 64 * 1024
	argonThreads = 8
	argonKeyLen  = 16
	saltLen      = 16

	defaultSessionTTL = 2 * time.Hour
)

type userRecord struct {
	name    string
	hash    []byte
	salt    []byte
	wsToken string
}

type session struct {
	username  string
	expiresAt time.Time
}

// Accounts is the server-side identity collaborator: user records with
// argon2id password hashes, cookie sessions and per-user websocket
// tokens. Logging out revokes both the session and the token, which
// terminates any live connection on its next command.
type Accounts struct {
	ttl time.Duration
	now func() time.Time

	mu       sync.Mutex
	users    map[string]*userRecord
	sessions map[string]session
}

func NewAccounts(sessionTTL time.Duration) *Accounts {
	if sessionTTL <= 0 {
		sessionTTL = defaultSessionTTL
	}
	return &Accounts{
		ttl:      sessionTTL,
		now:      time.Now,
		users:    map[string]*userRecord{},
		sessions: map[string]session{},
	}
}

// LoginResult carries the cookie session id and the websocket token
// issued by a successful login.
type LoginResult struct {
	SessionID string
	WSToken   string
}

func (a *Accounts) Signup(username, password string) error {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return errors.New("username and password are required")
	}
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return err
	}
	hash := hashPassword(password, salt)

	a.mu.Lock()
	defer a.mu.Unlock()
	if _, exists := a.users[username]; exists {
		return ErrUserExists
	}
	a.users[username] = &userRecord{name: username, hash: hash, salt: salt}
	return nil
}

func (a *Accounts) Login(username, password string) (LoginResult, error) {
	username = strings.TrimSpace(username)
	a.mu.Lock()
	defer a.mu.Unlock()
	user, ok := a.users[username]
	if !ok {
		return LoginResult{}, ErrUnauthorized
	}
	candidate := hashPassword(password, user.salt)
	if subtle.ConstantTimeCompare(candidate, user.hash) != 1 {
		return LoginResult{}, ErrUnauthorized
	}

	user.wsToken = uuid.NewString()
	sessionID := uuid.NewString()
	a.pruneLocked()
	a.sessions[sessionID] = session{
		username:  username,
		expiresAt: a.now().Add(a.ttl),
	}
	return LoginResult{SessionID: sessionID, WSToken: user.wsToken}, nil
}

func (a *Accounts) Logout(sessionID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	current, ok := a.sessions[sessionID]
	if !ok {
		return
	}
	delete(a.sessions, sessionID)
	if user, ok := a.users[current.username]; ok {
		user.wsToken = ""
	}
}

// Profile resolves a session cookie to the signed-in username.
func (a *Accounts) Profile(sessionID string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	current, ok := a.sessions[sessionID]
	if !ok || a.now().After(current.expiresAt) {
		delete(a.sessions, sessionID)
		return "", ErrUnauthorized
	}
	return current.username, nil
}

// ValidateConnection checks a websocket credential: a token must match
// an issued websocket token; a username must belong to a user with a
// live session.
func (a *Accounts) ValidateConnection(cred Credential) bool {
	value := strings.TrimSpace(cred.Value)
	if value == "" {
		return false
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	switch cred.Param {
	case "token":
		for _, user := range a.users {
			if user.wsToken != "" && subtle.ConstantTimeCompare([]byte(user.wsToken), []byte(value)) == 1 {
				return true
			}
		}
		return false
	case "username":
		if _, ok := a.users[value]; !ok {
			return false
		}
		now := a.now()
		for _, current := range a.sessions {
			if current.username == value && now.Before(current.expiresAt) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

func (a *Accounts) pruneLocked() {
	now := a.now()
	for id, current := range a.sessions {
		if now.After(current.expiresAt) {
			delete(a.sessions, id)
		}
	}
}

func hashPassword(password string, salt []byte) []byte {
	return argon2.IDKey([]byte(password), salt, argonTime, argonMemory, argonThreads, argonKeyLen)
}
