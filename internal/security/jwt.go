package security

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt"
)

// Claims are the access-token claims accepted on meeting creation.
type Claims struct {
	jwt.StandardClaims
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
}

// Verifier checks bearer tokens issued by the auth service: RS256 against a
// public key or HS256 against a shared secret.
type Verifier struct {
	method    jwt.SigningMethod
	key       any
	issuer    string
	audience  string
	clockSkew time.Duration
	now       func() time.Time
}

type VerifierConfig struct {
	Algorithm     string
	PublicKeyPath string
	Secret        string
	Issuer        string
	Audience      string
	ClockSkew     time.Duration
}

func NewVerifier(cfg VerifierConfig) (*Verifier, error) {
	switch strings.ToUpper(cfg.Algorithm) {
	case "RS256":
		pub, err := LoadRSAPublicKeyFromPEM(cfg.PublicKeyPath)
		if err != nil {
			return nil, fmt.Errorf("load jwt public key: %w", err)
		}
		return NewRSAVerifier(pub, cfg.Issuer, cfg.Audience, cfg.ClockSkew), nil
	case "HS256":
		if cfg.Secret == "" {
			return nil, errors.New("jwt secret is empty")
		}
		return NewHMACVerifier([]byte(cfg.Secret), cfg.Issuer, cfg.Audience, cfg.ClockSkew), nil
	default:
		return nil, fmt.Errorf("unsupported jwt algorithm %q", cfg.Algorithm)
	}
}

func NewRSAVerifier(pub *rsa.PublicKey, issuer, audience string, clockSkew time.Duration) *Verifier {
	return &Verifier{method: jwt.SigningMethodRS256, key: pub, issuer: issuer, audience: audience, clockSkew: clockSkew, now: time.Now}
}

func NewHMACVerifier(secret []byte, issuer, audience string, clockSkew time.Duration) *Verifier {
	return &Verifier{method: jwt.SigningMethodHS256, key: secret, issuer: issuer, audience: audience, clockSkew: clockSkew, now: time.Now}
}

// Verify parses tokenStr and checks signature, issuer, audience and the time
// window widened by the clock skew. Empty issuer/audience are not checked.
func (v *Verifier) Verify(tokenStr string) (*Claims, error) {
	claims := &Claims{}
	parser := &jwt.Parser{SkipClaimsValidation: true}
	token, err := parser.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (any, error) {
		if t.Method.Alg() != v.method.Alg() {
			return nil, ErrInvalidToken
		}
		return v.key, nil
	})
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}

	if v.issuer != "" && !claims.VerifyIssuer(v.issuer, true) {
		return nil, ErrInvalidIssuer
	}
	if v.audience != "" && !claims.VerifyAudience(v.audience, true) {
		return nil, ErrInvalidAudience
	}

	now := v.now()
	if claims.NotBefore != 0 && now.Before(time.Unix(claims.NotBefore, 0).Add(-v.clockSkew)) {
		return nil, ErrTokenExpired
	}
	if claims.ExpiresAt != 0 && now.After(time.Unix(claims.ExpiresAt, 0).Add(v.clockSkew)) {
		return nil, ErrTokenExpired
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return nil, ErrInvalidSubject
	}
	return claims, nil
}

func LoadRSAPublicKeyFromPEM(path string) (*rsa.PublicKey, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return jwt.ParseRSAPublicKeyFromPEM(b)
}
