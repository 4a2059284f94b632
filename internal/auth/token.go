package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/dkeye/Intercom/internal/domain"
	"github.com/golang-jwt/jwt/v5"
)

// Claims is the bearer token shape. Identity lives in "id"; "sub" is accepted
// for issuers that only fill the registered claims.
type Claims struct {
	UserID string `json:"id,omitempty"`
	Name   string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// Identity returns the id claim, falling back to sub.
func (c Claims) Identity() string {
	if id := strings.TrimSpace(c.UserID); id != "" {
		return id
	}
	return strings.TrimSpace(c.Subject)
}

// Verifier checks HS256 signatures and expiry. It never issues tokens.
type Verifier struct {
	secret []byte
	parser *jwt.Parser
}

func NewVerifier(secret, issuer string) (*Verifier, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("auth: secret is required")
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}
	return &Verifier{secret: []byte(secret), parser: jwt.NewParser(opts...)}, nil
}

func (v *Verifier) Verify(token string) (Claims, error) {
	var claims Claims
	_, err := v.parser.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	})
	if err != nil {
		return Claims{}, domain.Unauthorized("invalid token", err)
	}
	if claims.Identity() == "" {
		return Claims{}, domain.Unauthorized("token carries no identity", nil)
	}
	return claims, nil
}

// CredentialFrom extracts the bearer credential from the token query parameter
// or the Authorization header, in that order.
func CredentialFrom(r *http.Request) string {
	if t := strings.TrimSpace(r.URL.Query().Get("token")); t != "" {
		return t
	}
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}
