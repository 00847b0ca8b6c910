package auth

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

// User is the authenticated caller extracted from a JWT.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

// JWTVerifier validates bearer tokens against a cached JWKS so the hot
// path never waits on a network fetch. Close stops the refresh loop.
type JWTVerifier struct {
	jwksURL  string
	issuer   string
	audience string

	cache        *jwk.Cache
	refreshEvery time.Duration
	stop         context.CancelFunc

	mu   sync.RWMutex
	keys jwk.Set
}

// NewJWTVerifier creates a verifier and warms the JWKS cache. issuer
// and audience are enforced on every token when non-empty.
func NewJWTVerifier(jwksURL, issuer, audience string) (*JWTVerifier, error) {
	ctx, cancel := context.WithCancel(context.Background())

	v := &JWTVerifier{
		jwksURL:      jwksURL,
		issuer:       issuer,
		audience:     audience,
		cache:        jwk.NewCache(ctx),
		refreshEvery: 5 * time.Minute,
		stop:         cancel,
	}
	if err := v.cache.Register(jwksURL, jwk.WithMinRefreshInterval(v.refreshEvery)); err != nil {
		cancel()
		return nil, fmt.Errorf("register JWKS URL: %w", err)
	}

	fetchCtx, fetchCancel := context.WithTimeout(ctx, 5*time.Second)
	keys, err := v.cache.Refresh(fetchCtx, jwksURL)
	fetchCancel()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("initial JWKS fetch: %w", err)
	}
	v.keys = keys

	go v.refreshLoop(ctx)
	return v, nil
}

// Close stops the background refresh.
func (v *JWTVerifier) Close() {
	v.stop()
}

func (v *JWTVerifier) refreshLoop(ctx context.Context) {
	ticker := time.NewTicker(v.refreshEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		fetchCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		keys, err := v.cache.Get(fetchCtx, v.jwksURL)
		cancel()
		if err != nil {
			// retried on the next tick
			continue
		}

		v.mu.Lock()
		v.keys = keys
		v.mu.Unlock()
	}
}

func (v *JWTVerifier) keySet() jwk.Set {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.keys
}

// UserFromRequest extracts and validates the bearer token on r.
func (v *JWTVerifier) UserFromRequest(r *http.Request) (*User, error) {
	opts := []jwt.ParseOption{
		jwt.WithKeySet(v.keySet()),
		jwt.WithValidate(true),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}

	token, err := jwt.ParseRequest(r, opts...)
	if err != nil {
		return nil, fmt.Errorf("parse JWT: %w", err)
	}

	userID := token.Subject()
	if userID == "" {
		return nil, fmt.Errorf("token missing subject")
	}

	var email, name string
	if emailClaim, ok := token.Get("email"); ok {
		email, _ = emailClaim.(string)
	}
	if nameClaim, ok := token.Get("name"); ok {
		name, _ = nameClaim.(string)
	}

	return &User{ID: userID, Email: email, Name: name}, nil
}
