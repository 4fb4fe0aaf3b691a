package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/fpang/social-scheduler/internal/auth"
	"github.com/fpang/social-scheduler/internal/graph"
	"github.com/fpang/social-scheduler/internal/metrics"
	"github.com/fpang/social-scheduler/internal/publish"
	"github.com/fpang/social-scheduler/internal/store"
)

func TestMain(m *testing.M) {
	metrics.SetOutput(io.Discard)
	os.Exit(m.Run())
}

var testNow = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

type fakeGraph struct {
	codeErr error
}

func (f *fakeGraph) ExchangeCode(_ context.Context, _, _, _, code string) (*graph.Token, error) {
	if f.codeErr != nil {
		return nil, f.codeErr
	}
	return &graph.Token{AccessToken: "short-" + code}, nil
}

func (f *fakeGraph) ExchangeLongLivedToken(context.Context, string, string, string) (*graph.Token, error) {
	return &graph.Token{AccessToken: "long", ExpiresIn: 3600}, nil
}

func (f *fakeGraph) Me(context.Context, string) (*graph.User, error) {
	return &graph.User{ID: "meta-1", Name: "Owner"}, nil
}

func (f *fakeGraph) ListPages(context.Context, string) ([]graph.Page, error) {
	return []graph.Page{{ID: "page-1", Name: "Shop", AccessToken: "pt", Instagram: &graph.InstagramAccount{ID: "ig-1"}}}, nil
}

func newCallback(api publish.OAuthAPI) (*callback, *store.MemoryStore, *auth.Verifier) {
	st := store.NewMemoryStore()
	st.SetClock(func() time.Time { return testNow })
	v := auth.NewVerifier("secret", auth.WithClock(func() time.Time { return testNow }))
	return &callback{
		states: v,
		api:    api,
		app:    publish.MetaApp{AppID: "app", AppSecret: "s", RedirectURI: "https://api.test/oauth/callback"},
		store:  st,
		appURL: "https://app.test",
		now:    func() time.Time { return testNow },
	}, st, v
}

func serve(cb *callback, query string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	cb.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/oauth/callback?"+query, nil))
	return rec
}

func TestCallbackConnects(t *testing.T) {
	cb, st, v := newCallback(&fakeGraph{})
	state, _ := v.IssueState("user-1", time.Minute)

	rec := serve(cb, "code=abc&state="+state)
	if rec.Code != http.StatusFound || rec.Header().Get("Location") != "https://app.test/settings?meta=connected" {
		t.Fatalf("status %d, location %q", rec.Code, rec.Header().Get("Location"))
	}
	p, _ := st.GetProfile(context.Background(), "user-1")
	if p == nil || p.Meta == nil {
		t.Fatal("credentials not stored")
	}
	if p.Meta.AccessToken != "long" || len(p.Meta.Pages) != 1 || p.Meta.Pages[0].Instagram[0].ID != "ig-1" {
		t.Errorf("meta = %+v", p.Meta)
	}
	if p.Plan == "" {
		t.Error("profile created without a plan")
	}
}

func TestCallbackFailures(t *testing.T) {
	cb, _, v := newCallback(&fakeGraph{})
	access, _ := v.Issue("user-1", "", time.Hour)
	state, _ := v.IssueState("user-1", time.Minute)

	tests := []struct {
		name  string
		query string
		want  string
	}{
		{"denied", "error=access_denied&error_reason=user_denied", "denied"},
		{"missing state", "code=abc", "error"},
		{"access token as state", "code=abc&state=" + access, "error"},
		{"missing code", "state=" + state, "error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(cb, tt.query)
			if got := rec.Header().Get("Location"); got != "https://app.test/settings?meta="+tt.want {
				t.Errorf("location = %q", got)
			}
		})
	}

	bad, st, v := newCallback(&fakeGraph{codeErr: errors.New("code expired")})
	state, _ = v.IssueState("user-1", time.Minute)
	rec := serve(bad, "code=abc&state="+state)
	if got := rec.Header().Get("Location"); got != "https://app.test/settings?meta=error" {
		t.Errorf("location = %q", got)
	}
	if p, _ := st.GetProfile(context.Background(), "user-1"); p != nil {
		t.Error("profile created for a failed exchange")
	}
}
