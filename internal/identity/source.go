// Package identity covers the boundary to the identity layer: on the
// client, obtaining an opaque connection credential; on the server,
// account records, sessions and websocket-credential validation.
package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ErrUnauthorized is the terminal rejection from the identity layer:
// the caller must re-authenticate, retrying is pointless.
var ErrUnauthorized = errors.New("unauthorized: must re-authenticate")

// Credential is an opaque connection credential plus the query
// parameter it travels in ("token" or "username", depending on
// deployment mode). It is never persisted.
type Credential struct {
	Param string
	Value string
}

// Source yields the current credential. It is called before every
// handshake attempt because credentials may rotate between attempts.
type Source interface {
	Credential(ctx context.Context) (Credential, error)
}

// StaticTokenSource returns the same token on every call, for
// deployments where the token is provisioned out of band.
type StaticTokenSource string

func (s StaticTokenSource) Credential(ctx context.Context) (Credential, error) {
	token := strings.TrimSpace(string(s))
	if token == "" {
		return Credential{}, fmt.Errorf("%w: empty token", ErrUnauthorized)
	}
	return Credential{Param: "token", Value: token}, nil
}

// ProfileSource resolves the credential through a profile lookup
// against the identity layer, returning the signed-in username. The
// HTTP client must carry the session cookie (use a cookie jar shared
// with the login flow).
type ProfileSource struct {
	BaseURL    string
	HTTPClient *http.Client
}

func (s *ProfileSource) Credential(ctx context.Context) (Credential, error) {
	client := s.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	target := strings.TrimRight(strings.TrimSpace(s.BaseURL), "/") + "/account/profile"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return Credential{}, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return Credential{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return Credential{}, ErrUnauthorized
	}
	if resp.StatusCode != http.StatusOK {
		return Credential{}, fmt.Errorf("profile lookup failed: http %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Credential{}, err
	}
	var profile struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(body, &profile); err != nil {
		return Credential{}, err
	}
	if strings.TrimSpace(profile.Name) == "" {
		return Credential{}, fmt.Errorf("%w: profile without a name", ErrUnauthorized)
	}
	return Credential{Param: "username", Value: profile.Name}, nil
}
