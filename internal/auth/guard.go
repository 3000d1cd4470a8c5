package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/carewire/realtime-service/internal/apperr"
	"github.com/carewire/realtime-service/internal/models"
)

// Claims carried in access tokens issued by the auth service.
type Claims struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// Admission is the identity a verified token resolves to.
type Admission struct {
	SessionID string
	UserID    string
	Role      string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// RevocationChecker reports whether a session has been revoked out of
// band (sign-out everywhere, role change). Must be safe for concurrent use.
type RevocationChecker interface {
	IsRevoked(ctx context.Context, sessionID string) (bool, error)
}

// Guard validates inbound credential tokens. It holds only the read-only
// trust anchor and performs no session-record writes; callers own
// create/refresh of session state after admission.
type Guard struct {
	secret  []byte
	issuer  string
	revoked RevocationChecker
}

func NewGuard(secret, issuer string, revoked RevocationChecker) *Guard {
	return &Guard{secret: []byte(secret), issuer: issuer, revoked: revoked}
}

// Admit verifies the token and returns the admission, or one of
// apperr.ErrTokenMalformed, ErrTokenExpired, ErrTokenRevoked.
func (g *Guard) Admit(ctx context.Context, token string) (*Admission, error) {
	if token == "" {
		return nil, apperr.ErrTokenMalformed
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return g.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, apperr.ErrTokenExpired
		}
		return nil, apperr.ErrTokenMalformed
	}
	if !parsed.Valid || claims.UserID == "" || claims.ID == "" {
		return nil, apperr.ErrTokenMalformed
	}
	if g.issuer != "" && claims.Issuer != g.issuer {
		return nil, apperr.ErrTokenMalformed
	}
	// role outside the fixed set means authorization state changed since
	// issuance, not a framing problem
	if !models.ValidRole(claims.Role) {
		return nil, apperr.ErrTokenRevoked
	}

	if g.revoked != nil {
		rev, err := g.revoked.IsRevoked(ctx, claims.ID)
		if err != nil {
			return nil, fmt.Errorf("revocation check: %w", err)
		}
		if rev {
			return nil, apperr.ErrTokenRevoked
		}
	}

	adm := &Admission{
		SessionID: claims.ID,
		UserID:    claims.UserID,
		Role:      claims.Role,
	}
	if claims.IssuedAt != nil {
		adm.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		adm.ExpiresAt = claims.ExpiresAt.Time
	}
	return adm, nil
}

// Mint signs an access token for the given identity. The auth service owns
// issuance in production; this exists for local tooling and tests.
func Mint(secret, issuer, sessionID, userID, role string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		UserID: userID,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        sessionID,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}
