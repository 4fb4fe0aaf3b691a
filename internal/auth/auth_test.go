package auth

import (
	"errors"
	"io"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/fpang/social-scheduler/internal/metrics"
)

func TestMain(m *testing.M) {
	metrics.SetOutput(io.Discard)
	os.Exit(m.Run())
}

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func clock(t time.Time) func() time.Time { return func() time.Time { return t } }

func TestIssueAndVerify(t *testing.T) {
	v := NewVerifier("s3cret", WithIssuer("social-scheduler"), WithAudience("api"), WithClock(clock(testNow)))
	token, err := v.Issue("user-1", "a@example.com", time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	claims, err := v.Verify(token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.UserID != "user-1" || claims.Email != "a@example.com" {
		t.Errorf("claims = %+v", claims)
	}
}

func TestVerifyFailures(t *testing.T) {
	issuer := NewVerifier("s3cret", WithIssuer("social-scheduler"), WithClock(clock(testNow)))
	good, err := issuer.Issue("user-1", "", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	noSubject, err := issuer.Issue("", "", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{
		Subject:   "user-1",
		ExpiresAt: jwt.NewNumericDate(testNow.Add(time.Hour)),
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name     string
		verifier *Verifier
		token    string
		want     ValidationErrorType
	}{
		{"garbage", issuer, "not-a-jwt", ErrTypeMalformed},
		{"wrong secret", NewVerifier("other", WithClock(clock(testNow))), good, ErrTypeInvalidSignature},
		{"alg none", issuer, none, ErrTypeInvalidSignature},
		{"expired", NewVerifier("s3cret", WithClock(clock(testNow.Add(2*time.Hour)))), good, ErrTypeExpired},
		{"wrong issuer", NewVerifier("s3cret", WithIssuer("someone-else"), WithClock(clock(testNow))), good, ErrTypeInvalidClaims},
		{"wrong audience", NewVerifier("s3cret", WithAudience("api"), WithClock(clock(testNow))), good, ErrTypeInvalidClaims},
		{"no subject", issuer, noSubject, ErrTypeInvalidClaims},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.verifier.Verify(tt.token)
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("err = %v, want *ValidationError", err)
			}
			if verr.Type != tt.want {
				t.Errorf("type = %v, want %v (%v)", verr.Type, tt.want, err)
			}
		})
	}
}

func TestVerifyLeeway(t *testing.T) {
	v := NewVerifier("s3cret", WithClock(clock(testNow)))
	token, err := v.Issue("user-1", "", time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	late := NewVerifier("s3cret", WithClock(clock(testNow.Add(time.Minute+20*time.Second))))
	if _, err := late.Verify(token); err != nil {
		t.Errorf("within leeway: %v", err)
	}
}

func TestFromRequest(t *testing.T) {
	v := NewVerifier("s3cret", WithClock(clock(testNow)))
	token, err := v.Issue("user-9", "", time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	r := httptest.NewRequest("GET", "/api/posts", nil)
	r.Header.Set("Authorization", "Bearer "+token)
	claims, err := v.FromRequest(r)
	if err != nil || claims.UserID != "user-9" {
		t.Fatalf("FromRequest = %+v, %v", claims, err)
	}

	for _, h := range []string{"", "Basic abc", "Bearer "} {
		r := httptest.NewRequest("GET", "/api/posts", nil)
		if h != "" {
			r.Header.Set("Authorization", h)
		}
		_, err := v.FromRequest(r)
		var verr *ValidationError
		if !errors.As(err, &verr) || verr.Type != ErrTypeMissingToken {
			t.Errorf("header %q: err = %v, want missing token", h, err)
		}
	}
}

func TestLoginState(t *testing.T) {
	v := NewVerifier("s3cret", WithClock(clock(testNow)))
	state, err := v.IssueState("user-9", 15*time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	uid, err := v.VerifyState(state)
	if err != nil || uid != "user-9" {
		t.Fatalf("VerifyState = %q, %v", uid, err)
	}

	r := httptest.NewRequest("GET", "/api/posts", nil)
	r.Header.Set("Authorization", "Bearer "+state)
	if _, err := v.FromRequest(r); err == nil {
		t.Error("login state accepted as an access token")
	}

	access, _ := v.Issue("user-9", "", time.Hour)
	if _, err := v.VerifyState(access); err == nil {
		t.Error("access token accepted as login state")
	}
}
