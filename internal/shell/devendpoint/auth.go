package devendpoint

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"

	"github.com/artpar/apppublish/internal/core/crypto"
	"github.com/artpar/apppublish/internal/core/domain"
)

// =============================================================================
// Authorization
// =============================================================================

// Authorizer sets the Authorization header of a dev endpoint request.
type Authorizer interface {
	Authorize(ctx context.Context, req *http.Request) error
}

// NoAuth sends no Authorization header. Used for Windows integrated
// authentication, which the platform negotiates at the connection level.
type NoAuth struct{}

func (NoAuth) Authorize(context.Context, *http.Request) error {
	return nil
}

// BearerAuth sends a bearer token renewed from a token provider on every request.
type BearerAuth struct {
	Tokens domain.TokenProvider
}

func (a BearerAuth) Authorize(ctx context.Context, req *http.Request) error {
	if a.Tokens == nil {
		return fmt.Errorf("%w: no token provider", domain.ErrAuthExpired)
	}
	token, _, err := a.Tokens.Renew(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrAuthExpired, err)
	}
	if token == "" {
		return fmt.Errorf("%w: empty access token", domain.ErrAuthExpired)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return nil
}

// BasicAuth sends HTTP Basic credentials. The password is revealed only
// while the header value is built.
type BasicAuth struct {
	Username string
	Password *crypto.Secret
}

func (a BasicAuth) Authorize(_ context.Context, req *http.Request) error {
	if a.Username == "" {
		return errors.New("basic auth requires a username")
	}
	return a.Password.Reveal(func(password []byte) error {
		raw := make([]byte, 0, len(a.Username)+1+len(password))
		raw = append(raw, a.Username...)
		raw = append(raw, ':')
		raw = append(raw, password...)
		defer clear(raw)

		req.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString(raw))
		return nil
	})
}

// AuthorizerFor picks the authorizer for a target and server instance.
func AuthorizerFor(target domain.Target, server *domain.ServerInstance) (Authorizer, error) {
	if target.Cloud != nil {
		return BearerAuth{Tokens: target.Cloud.Tokens}, nil
	}
	if server == nil {
		return nil, fmt.Errorf("%w: no server instance", domain.ErrUnsupportedTarget)
	}

	switch server.AuthMode {
	case domain.AuthModeNavUserPassword:
		if target.Local == nil || target.Local.Credential == nil {
			return nil, fmt.Errorf("server instance %s requires a username and password", server.Name)
		}
		return BasicAuth{Username: target.Local.Credential.Username, Password: target.Local.Credential.Password}, nil
	case domain.AuthModeWindows, "":
		return NoAuth{}, nil
	default:
		return nil, fmt.Errorf("%w: auth mode %s is not supported by the dev endpoint", domain.ErrUnsupportedTarget, server.AuthMode)
	}
}
