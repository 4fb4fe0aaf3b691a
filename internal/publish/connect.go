package publish

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/social-scheduler/internal/graph"
	"github.com/fpang/social-scheduler/internal/store"
)

// PageLister lists the pages a user token manages.
type PageLister interface {
	ListPages(ctx context.Context, userToken string) ([]graph.Page, error)
}

// OAuthAPI is the part of the Graph client used to connect an account.
type OAuthAPI interface {
	PageLister
	ExchangeCode(ctx context.Context, appID, appSecret, redirectURI, code string) (*graph.Token, error)
	ExchangeLongLivedToken(ctx context.Context, appID, appSecret, shortToken string) (*graph.Token, error)
	Me(ctx context.Context, token string) (*graph.User, error)
}

// MetaApp identifies the Meta app used for login.
type MetaApp struct {
	AppID       string
	AppSecret   string
	RedirectURI string
}

// LoginScopes are the permissions requested at login.
var LoginScopes = []string{
	"pages_show_list",
	"pages_read_engagement",
	"pages_manage_posts",
	"instagram_basic",
	"instagram_content_publish",
	"business_management",
}

// LoginURL is the Facebook login dialog for app. state comes back unchanged
// on the redirect and identifies the user being connected.
func LoginURL(app MetaApp, version, state string) string {
	if version == "" {
		version = graph.DefaultVersion
	}
	q := url.Values{
		"client_id":     {app.AppID},
		"redirect_uri":  {app.RedirectURI},
		"state":         {state},
		"scope":         {strings.Join(LoginScopes, ",")},
		"response_type": {"code"},
	}
	return "https://www.facebook.com/" + version + "/dialog/oauth?" + q.Encode()
}

// Connect completes the login redirect: it exchanges code for a long-lived
// user token and collects the pages (and Instagram accounts) it can publish to.
func Connect(ctx context.Context, api OAuthAPI, app MetaApp, code string, now time.Time) (*store.MetaCredentials, error) {
	short, err := api.ExchangeCode(ctx, app.AppID, app.AppSecret, app.RedirectURI, code)
	if err != nil {
		return nil, err
	}
	long, err := api.ExchangeLongLivedToken(ctx, app.AppID, app.AppSecret, short.AccessToken)
	if err != nil {
		return nil, err
	}
	me, err := api.Me(ctx, long.AccessToken)
	if err != nil {
		return nil, err
	}
	pages, err := api.ListPages(ctx, long.AccessToken)
	if err != nil {
		return nil, err
	}
	if len(pages) == 0 {
		return nil, fmt.Errorf("account %s manages no Facebook pages", me.ID)
	}

	creds := &store.MetaCredentials{
		AccessToken: long.AccessToken,
		UserID:      me.ID,
		UserName:    me.Name,
		Pages:       StorePages(pages),
		ExpiresAt:   long.ExpiresAt(now),
		ConnectedAt: now.UTC(),
	}
	log.Info().Str("metaUserId", me.ID).Int("pages", len(pages)).Msg("Meta account connected")
	return creds, nil
}

// RefreshPages re-lists the pages for existing credentials and returns
// updated credentials. The user token and connection time are kept.
func RefreshPages(ctx context.Context, api PageLister, creds *store.MetaCredentials) (*store.MetaCredentials, error) {
	if creds == nil || creds.AccessToken == "" {
		return nil, fmt.Errorf("no connected Meta account")
	}
	pages, err := api.ListPages(ctx, creds.AccessToken)
	if err != nil {
		return nil, err
	}
	out := *creds
	out.Pages = StorePages(pages)
	return &out, nil
}

// StorePages converts Graph pages to their stored form.
func StorePages(pages []graph.Page) []store.Page {
	out := make([]store.Page, 0, len(pages))
	for _, p := range pages {
		sp := store.Page{ID: p.ID, Name: p.Name, AccessToken: p.AccessToken}
		if p.Instagram != nil {
			sp.Instagram = []store.InstagramAccount{{ID: p.Instagram.ID, Username: p.Instagram.Username}}
		}
		out = append(out, sp)
	}
	return out
}
