package syncserver

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const (
	authorizationHeader = "Authorization"
	bearerPrefix        = "Bearer "
	userIDContextKey    = "wallet_user_id"
)

// TokenAuthority issues and verifies HS256 bearer tokens whose subject is
// the wallet user id.
type TokenAuthority struct {
	signingKey []byte
	issuer     string
	ttl        time.Duration
	nowFn      func() time.Time
}

// NewTokenAuthority validates its inputs and returns a TokenAuthority.
func NewTokenAuthority(signingKey string, issuer string, ttl time.Duration, now func() time.Time) (*TokenAuthority, error) {
	if len(signingKey) == 0 {
		return nil, fmt.Errorf("%w: signing key is empty", ErrInvalidLedgerConfig)
	}
	if strings.TrimSpace(issuer) == "" {
		return nil, fmt.Errorf("%w: issuer is empty", ErrInvalidLedgerConfig)
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("%w: token ttl must be positive", ErrInvalidLedgerConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidLedgerConfig)
	}
	return &TokenAuthority{
		signingKey: []byte(signingKey),
		issuer:     issuer,
		ttl:        ttl,
		nowFn:      now,
	}, nil
}

// Issue signs a token for userID.
func (authority *TokenAuthority) Issue(userID string) (string, error) {
	normalized := strings.TrimSpace(userID)
	if normalized == "" {
		return "", fmt.Errorf("%w: empty subject", ErrInvalidToken)
	}
	issuedAt := authority.nowFn().UTC()
	claims := jwt.RegisteredClaims{
		Subject:   normalized,
		Issuer:    authority.issuer,
		IssuedAt:  jwt.NewNumericDate(issuedAt),
		ExpiresAt: jwt.NewNumericDate(issuedAt.Add(authority.ttl)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(authority.signingKey)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify parses a raw token and returns its subject.
func (authority *TokenAuthority) Verify(raw string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (any, error) {
		return authority.signingKey, nil
	},
		jwt.WithIssuer(authority.issuer),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(authority.nowFn),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return "", errors.Join(ErrInvalidToken, err)
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return "", fmt.Errorf("%w: empty subject", ErrInvalidToken)
	}
	return claims.Subject, nil
}

// Middleware rejects requests without a valid bearer token and stores the
// user id on the gin context.
func (authority *TokenAuthority) Middleware() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		header := ctx.GetHeader(authorizationHeader)
		if !strings.HasPrefix(header, bearerPrefix) {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing bearer token"))
			return
		}
		userID, err := authority.Verify(strings.TrimSpace(strings.TrimPrefix(header, bearerPrefix)))
		if err != nil {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse("unauthorized", "invalid token"))
			return
		}
		ctx.Set(userIDContextKey, userID)
		ctx.Next()
	}
}

func userIDFromContext(ctx *gin.Context) (string, bool) {
	value, ok := ctx.Get(userIDContextKey)
	if !ok {
		return "", false
	}
	userID, ok := value.(string)
	return userID, ok && userID != ""
}
