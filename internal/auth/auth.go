// Package auth verifies and issues the HS256 bearer tokens that identify API
// callers. The token subject is the user ID every record is keyed by.
package auth

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"

	"github.com/fpang/social-scheduler/internal/metrics"
)

// Leeway tolerates clock skew between the issuer and this service.
const Leeway = 30 * time.Second

// Claims identify the caller.
type Claims struct {
	UserID string `json:"sub"`
	Email  string `json:"email,omitempty"`
	Role   string `json:"role,omitempty"`
}

type tokenClaims struct {
	Email string `json:"email,omitempty"`
	Role  string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// Verifier checks bearer tokens signed with a shared secret.
type Verifier struct {
	secret   []byte
	issuer   string
	audience string
	now      func() time.Time
}

// Option configures a Verifier.
type Option func(*Verifier)

// WithIssuer requires and stamps the iss claim.
func WithIssuer(iss string) Option { return func(v *Verifier) { v.issuer = iss } }

// WithAudience requires and stamps the aud claim.
func WithAudience(aud string) Option { return func(v *Verifier) { v.audience = aud } }

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option { return func(v *Verifier) { v.now = now } }

// NewVerifier creates a Verifier for secret.
func NewVerifier(secret string, opts ...Option) *Verifier {
	v := &Verifier{secret: []byte(secret), now: time.Now}
	for _, o := range opts {
		o(v)
	}
	return v
}

// FromRequest verifies the request's Authorization: Bearer token.
func (v *Verifier) FromRequest(r *http.Request) (*Claims, error) {
	h := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(h, "Bearer ")
	if !ok || strings.TrimSpace(token) == "" {
		return nil, &ValidationError{Type: ErrTypeMissingToken, Message: "missing bearer token"}
	}
	claims, err := v.Verify(strings.TrimSpace(token))
	if err != nil {
		return nil, err
	}
	if claims.Role == RoleLoginState {
		return nil, &ValidationError{Type: ErrTypeInvalidClaims, Message: "login state is not an access token"}
	}
	return claims, nil
}

// Verify parses and validates a token.
func (v *Verifier) Verify(token string) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(Leeway),
		jwt.WithTimeFunc(v.now),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}

	var tc tokenClaims
	_, err := jwt.ParseWithClaims(token, &tc, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		verr := classify(err)
		metrics.New(metrics.Namespace).
			Dimension("Result", verr.Type.String()).
			Count("TokenValidationFailure").
			Flush()
		log.Debug().Err(err).Str("type", verr.Type.String()).Msg("Token rejected")
		return nil, verr
	}
	if tc.Subject == "" {
		return nil, &ValidationError{Type: ErrTypeInvalidClaims, Message: "token has no subject"}
	}
	return &Claims{UserID: tc.Subject, Email: tc.Email, Role: tc.Role}, nil
}

func classify(err error) *ValidationError {
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		return &ValidationError{Type: ErrTypeMalformed, Message: "malformed token", Err: err}
	case errors.Is(err, jwt.ErrTokenExpired), errors.Is(err, jwt.ErrTokenNotValidYet):
		return &ValidationError{Type: ErrTypeExpired, Message: "token expired", Err: err}
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return &ValidationError{Type: ErrTypeInvalidSignature, Message: "invalid token signature", Err: err}
	default:
		return &ValidationError{Type: ErrTypeInvalidClaims, Message: "invalid token claims", Err: err}
	}
}

// RoleLoginState marks the state token carried through the Meta login
// redirect. FromRequest refuses it.
const RoleLoginState = "login-state"

// Issue signs a token for userID valid for ttl.
func (v *Verifier) Issue(userID, email string, ttl time.Duration) (string, error) {
	return v.issue(userID, email, "", ttl)
}

// IssueState signs a login state token for userID.
func (v *Verifier) IssueState(userID string, ttl time.Duration) (string, error) {
	return v.issue(userID, "", RoleLoginState, ttl)
}

// VerifyState checks a token from IssueState and returns its user.
func (v *Verifier) VerifyState(state string) (string, error) {
	claims, err := v.Verify(state)
	if err != nil {
		return "", err
	}
	if claims.Role != RoleLoginState {
		return "", &ValidationError{Type: ErrTypeInvalidClaims, Message: "not a login state token"}
	}
	return claims.UserID, nil
}

func (v *Verifier) issue(userID, email, role string, ttl time.Duration) (string, error) {
	now := v.now()
	claims := tokenClaims{
		Email: email,
		Role:  role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	if v.audience != "" {
		claims.Audience = jwt.ClaimStrings{v.audience}
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}
