// Package auth provides the outbound authentication headers merged into
// upstream requests.
package auth

import (
	"encoding/base64"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"github.com/proxycraft/proxycraft/config"
)

// Provider yields the headers to inject into an outbound request.
type Provider interface {
	GetHeaders() (map[string]string, error)
}

// New constructs the provider for an endpoint's auth config, nil when no
// auth is configured.
func New(c *config.Auth) (Provider, error) {
	if c == nil || c.Type == "" {
		return nil, nil
	}

	switch c.Type {
	case "basic":
		return &Basic{Username: c.Username, Password: c.Password}, nil
	case "jwt":
		j := &JWT{
			Secret:    []byte(c.Secret),
			Algorithm: c.Algorithm,
			Lifetime:  time.Duration(c.TokenExpireMinutes) * time.Minute,
			Claims:    c.Claims,
		}

		if j.Algorithm == "" {
			j.Algorithm = "HS256"
		}

		if j.Lifetime <= 0 {
			j.Lifetime = 30 * time.Minute
		}

		if jwt.GetSigningMethod(j.Algorithm) == nil {
			return nil, fmt.Errorf("auth: unsupported jwt algorithm: %s", c.Algorithm)
		}

		return j, nil
	default:
		return nil, fmt.Errorf("auth: unsupported type: %s", c.Type)
	}
}

// Basic implements RFC 7617 basic authentication.
type Basic struct {
	Username string
	Password string
}

func (b *Basic) GetHeaders() (map[string]string, error) {
	credentials := base64.StdEncoding.EncodeToString(
		[]byte(b.Username + ":" + b.Password))
	return map[string]string{"Authorization": "Basic " + credentials}, nil
}

// renewalBuffer is how long before expiry a cached token is renewed.
const renewalBuffer = 30 * time.Second

// JWT signs short-lived bearer tokens, caching the current token until it
// is close to expiry.
type JWT struct {
	Secret    []byte
	Algorithm string
	Lifetime  time.Duration
	Claims    map[string]interface{}

	mu      sync.Mutex
	token   string
	expires time.Time

	// overridable for tests
	now func() time.Time
}

func (j *JWT) GetHeaders() (map[string]string, error) {
	t, err := j.current()
	if err != nil {
		return nil, err
	}

	return map[string]string{"Authorization": "Bearer " + t}, nil
}

func (j *JWT) current() (string, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	now := time.Now
	if j.now != nil {
		now = j.now
	}

	if j.token != "" && now().Before(j.expires.Add(-renewalBuffer)) {
		return j.token, nil
	}

	issued := now()
	expires := issued.Add(j.Lifetime)
	claims := jwt.MapClaims{
		"iat": issued.Unix(),
		"exp": expires.Unix(),
	}

	for k, v := range j.Claims {
		claims[k] = v
	}

	t, err := jwt.NewWithClaims(jwt.GetSigningMethod(j.Algorithm), claims).
		SignedString(j.Secret)
	if err != nil {
		return "", fmt.Errorf("auth: signing token: %w", err)
	}

	j.token = t
	j.expires = expires
	return t, nil
}
