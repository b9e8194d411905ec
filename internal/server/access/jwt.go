package access

import (
	"errors"
	"fmt"

	"github.com/datasite/connector/internal/common"
	"github.com/datasite/connector/internal/server/models"
	"github.com/golang-jwt/jwt/v5"
)

// Claims carries the signed token payload: the registered claims hold the
// token id (ID), subject, and validity window; scope and permissions ride
// along so any tampering with them breaks the signature.
type Claims struct {
	jwt.RegisteredClaims
	Datasets    []string `json:"datasets,omitempty"`
	Permissions []string `json:"permissions"`
}

func signToken(token *models.AccessToken, secret []byte) (string, error) {
	perms := make([]string, 0, len(token.Permissions))
	for _, p := range token.Permissions {
		perms = append(perms, string(p))
	}

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        token.TokenID,
			Subject:   token.Subject,
			IssuedAt:  jwt.NewNumericDate(token.IssuedAt),
			ExpiresAt: jwt.NewNumericDate(token.ExpiresAt),
		},
		Datasets:    token.ScopedDatasets,
		Permissions: perms,
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// parseToken verifies the signature and structure of tokenString without
// validating the time claims: expiry is checked by the caller after the
// revocation check so each failure reports its own distinct reason.
func parseToken(tokenString string, secret []byte) (*Claims, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return secret, nil
	}, jwt.WithoutClaimsValidation())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrTokenInvalid, err)
	}
	if !token.Valid {
		return nil, common.ErrTokenInvalid
	}
	if claims.ID == "" {
		return nil, fmt.Errorf("%w: missing token id", common.ErrTokenInvalid)
	}
	return claims, nil
}

// IsAuthError reports whether err is one of the token lifecycle failures.
func IsAuthError(err error) bool {
	return errors.Is(err, common.ErrTokenInvalid) ||
		errors.Is(err, common.ErrTokenExpired) ||
		errors.Is(err, common.ErrTokenRevoked)
}
