package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenIssuer is the issuer claim of locally signed tokens.
const TokenIssuer = "clinops-local"

// TokenClaims carries an identity inside an HS256 token. Used when the
// server runs with AUTH_MODE=local instead of calling the identity service.
type TokenClaims struct {
	jwt.RegisteredClaims
	Username    string          `json:"username,omitempty"`
	RoleName    string          `json:"role_name,omitempty"`
	Permissions json.RawMessage `json:"permissions,omitempty"`
}

// TokenVerifier validates locally signed tokens.
type TokenVerifier struct {
	key []byte
}

func NewTokenVerifier(signingKey []byte) *TokenVerifier {
	return &TokenVerifier{key: signingKey}
}

func (v *TokenVerifier) Verify(_ context.Context, tokenStr string) (Identity, error) {
	claims := &TokenClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		return v.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(TokenIssuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return Identity{}, fmt.Errorf("parse token: %w", err)
	}
	if !token.Valid {
		return Identity{}, fmt.Errorf("token is not valid")
	}

	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || userID <= 0 {
		return Identity{}, fmt.Errorf("token subject %q is not a user id", claims.Subject)
	}
	perms, err := ParsePermissions(claims.Permissions)
	if err != nil {
		return Identity{}, err
	}
	return Identity{
		UserID:      userID,
		Username:    claims.Username,
		RoleName:    claims.RoleName,
		Permissions: perms,
	}, nil
}

// IssueToken signs an identity for local mode.
func IssueToken(signingKey []byte, id Identity, ttl time.Duration) (string, error) {
	var perms json.RawMessage
	if id.Permissions != nil {
		raw, err := json.Marshal(id.Permissions)
		if err != nil {
			return "", fmt.Errorf("encode permissions: %w", err)
		}
		perms = raw
	}

	now := time.Now()
	claims := TokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    TokenIssuer,
			Subject:   strconv.FormatInt(id.UserID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Username:    id.Username,
		RoleName:    id.RoleName,
		Permissions: perms,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(signingKey)
}
