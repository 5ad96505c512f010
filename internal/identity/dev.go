package identity

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/perch-im/perch/internal/domain"
)

// tokenTTL bounds how long a minted ID token stays verifiable.
const tokenTTL = 24 * time.Hour

// idNamespace makes user ids a pure function of the account email, so the
// same account maps to the same uid across profiles and restarts.
var idNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("perch:identity"))

// Claims is the ID-token claim set the dev provider mints and verifies.
type Claims struct {
	Email   string `json:"email"`
	Name    string `json:"name"`
	Picture string `json:"picture,omitempty"`
	jwt.RegisteredClaims
}

// Account is the profile the dev provider signs in as.
type Account struct {
	Email       string
	DisplayName string
	PhotoURL    string
}

// DevProvider is a token-based Provider for local mode and tests: it mints
// an HS256 ID token for a configured account, then verifies and decodes it
// the way a client would decode a federated provider's token.
type DevProvider struct {
	secret  []byte
	account Account

	mu        sync.Mutex
	current   *domain.Identity
	listeners listeners
}

// NewDevProvider creates a provider signing tokens with secret.
func NewDevProvider(secret []byte, account Account) *DevProvider {
	return &DevProvider{secret: secret, account: account}
}

// SignIn mints a token for the configured account, verifies it, and notifies
// listeners with the decoded identity.
func (p *DevProvider) SignIn(_ context.Context) (domain.Identity, error) {
	token, err := p.MintToken(p.account)
	if err != nil {
		return domain.Identity{}, fmt.Errorf("mint token: %w", err)
	}
	id, err := p.VerifyToken(token)
	if err != nil {
		return domain.Identity{}, fmt.Errorf("verify token: %w", err)
	}

	p.mu.Lock()
	p.current = &id
	p.mu.Unlock()
	p.listeners.notify(&id)
	return id, nil
}

// SignOut ends the session and notifies listeners with nil.
func (p *DevProvider) SignOut(_ context.Context) error {
	p.mu.Lock()
	p.current = nil
	p.mu.Unlock()
	p.listeners.notify(nil)
	return nil
}

// Current returns the signed-in identity, or nil.
func (p *DevProvider) Current() *domain.Identity {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil {
		return nil
	}
	id := *p.current
	return &id
}

// OnChange registers a session-change listener.
func (p *DevProvider) OnChange(fn func(*domain.Identity)) func() {
	return p.listeners.add(fn)
}

// UserID returns the stable uid for an account email.
func UserID(email string) string {
	return uuid.NewSHA1(idNamespace, []byte(email)).String()
}

// MintToken signs an ID token for the given account.
func (p *DevProvider) MintToken(account Account) (string, error) {
	now := time.Now()
	claims := Claims{
		Email:   account.Email,
		Name:    account.DisplayName,
		Picture: account.PhotoURL,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   UserID(account.Email),
			Issuer:    "perch-dev",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(tokenTTL)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(p.secret)
}

// VerifyToken validates a token and maps its claims to an identity.
func (p *DevProvider) VerifyToken(tokenString string) (domain.Identity, error) {
	var claims Claims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return p.secret, nil
	})
	if err != nil {
		return domain.Identity{}, err
	}
	if !token.Valid {
		return domain.Identity{}, fmt.Errorf("invalid token")
	}
	return domain.Identity{
		ID:          claims.Subject,
		Email:       claims.Email,
		DisplayName: claims.Name,
		PhotoURL:    claims.Picture,
		IsOnline:    true,
		LastSeenAt:  time.Now().UnixMilli(),
	}, nil
}
