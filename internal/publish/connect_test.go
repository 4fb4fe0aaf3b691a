package publish

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/fpang/social-scheduler/internal/graph"
	"github.com/fpang/social-scheduler/internal/store"
)

type fakeOAuth struct {
	pages   []graph.Page
	codeErr error
	tokens  []string
}

func (f *fakeOAuth) ExchangeCode(_ context.Context, appID, _, redirectURI, code string) (*graph.Token, error) {
	if f.codeErr != nil {
		return nil, f.codeErr
	}
	return &graph.Token{AccessToken: "short-" + code}, nil
}

func (f *fakeOAuth) ExchangeLongLivedToken(_ context.Context, _, _, shortToken string) (*graph.Token, error) {
	return &graph.Token{AccessToken: "long-" + shortToken, ExpiresIn: 3600}, nil
}

func (f *fakeOAuth) Me(_ context.Context, token string) (*graph.User, error) {
	return &graph.User{ID: "meta-1", Name: "Shop Owner"}, nil
}

func (f *fakeOAuth) ListPages(_ context.Context, token string) ([]graph.Page, error) {
	f.tokens = append(f.tokens, token)
	return f.pages, nil
}

func TestConnect(t *testing.T) {
	now := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	api := &fakeOAuth{pages: []graph.Page{
		{ID: "p1", Name: "Shop", AccessToken: "pt1", Instagram: &graph.InstagramAccount{ID: "ig1", Username: "shop"}},
		{ID: "p2", Name: "Blog", AccessToken: "pt2"},
	}}

	creds, err := Connect(context.Background(), api, MetaApp{AppID: "app", AppSecret: "sec", RedirectURI: "https://x/cb"}, "abc", now)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if creds.AccessToken != "long-short-abc" || creds.UserID != "meta-1" {
		t.Errorf("creds = %+v", creds)
	}
	if !creds.ExpiresAt.Equal(now.Add(time.Hour)) {
		t.Errorf("expiresAt = %v", creds.ExpiresAt)
	}
	if len(creds.Pages) != 2 || len(creds.Pages[0].Instagram) != 1 || creds.Pages[0].Instagram[0].ID != "ig1" {
		t.Errorf("pages = %+v", creds.Pages)
	}
	if len(creds.Pages[1].Instagram) != 0 {
		t.Errorf("page without Instagram got %+v", creds.Pages[1].Instagram)
	}
}

func TestConnectFailures(t *testing.T) {
	ctx := context.Background()
	if _, err := Connect(ctx, &fakeOAuth{codeErr: errors.New("bad code")}, MetaApp{}, "x", time.Now()); err == nil {
		t.Error("expected exchange error")
	}
	if _, err := Connect(ctx, &fakeOAuth{}, MetaApp{}, "x", time.Now()); err == nil {
		t.Error("expected error for account without pages")
	}
}

func TestRefreshPages(t *testing.T) {
	api := &fakeOAuth{pages: []graph.Page{{ID: "p9", Name: "New", AccessToken: "t"}}}
	old := &store.MetaCredentials{AccessToken: "user-token", Pages: []store.Page{{ID: "p1"}}}

	got, err := RefreshPages(context.Background(), api, old)
	if err != nil {
		t.Fatalf("RefreshPages: %v", err)
	}
	if len(got.Pages) != 1 || got.Pages[0].ID != "p9" || got.AccessToken != "user-token" {
		t.Errorf("got %+v", got)
	}
	if old.Pages[0].ID != "p1" {
		t.Error("input credentials modified")
	}
	if len(api.tokens) != 1 || api.tokens[0] != "user-token" {
		t.Errorf("ListPages tokens = %v", api.tokens)
	}
	if _, err := RefreshPages(context.Background(), api, nil); err == nil {
		t.Error("expected error without credentials")
	}
}

func TestLoginURL(t *testing.T) {
	raw := LoginURL(MetaApp{AppID: "123", RedirectURI: "https://api.test/oauth/callback"}, "v19.0", "state-token")
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatal(err)
	}
	if u.Host != "www.facebook.com" || u.Path != "/v19.0/dialog/oauth" {
		t.Errorf("url = %s", raw)
	}
	q := u.Query()
	if q.Get("client_id") != "123" || q.Get("state") != "state-token" || q.Get("redirect_uri") != "https://api.test/oauth/callback" {
		t.Errorf("query = %v", q)
	}
	if !strings.Contains(q.Get("scope"), "instagram_content_publish") {
		t.Errorf("scope = %q", q.Get("scope"))
	}
}
