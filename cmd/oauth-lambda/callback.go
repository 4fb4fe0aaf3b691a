package main

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/social-scheduler/internal/billing"
	"github.com/fpang/social-scheduler/internal/metrics"
	"github.com/fpang/social-scheduler/internal/publish"
	"github.com/fpang/social-scheduler/internal/store"
)

// stateVerifier resolves the user named by the login state.
type stateVerifier interface {
	VerifyState(state string) (string, error)
}

// profileStore is the persistence the callback needs.
type profileStore interface {
	billing.ProfileStore
	SetMetaCredentials(ctx context.Context, userID string, creds *store.MetaCredentials) error
}

// callback completes the Meta login redirect and sends the browser back to
// the app's settings page.
type callback struct {
	states stateVerifier
	api    publish.OAuthAPI
	app    publish.MetaApp
	store  profileStore
	appURL string
	now    func() time.Time
}

func (c *callback) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if e := q.Get("error"); e != "" {
		log.Warn().Str("error", e).Str("reason", q.Get("error_reason")).Msg("Meta login denied")
		c.finish(w, r, "denied")
		return
	}

	userID, err := c.states.VerifyState(q.Get("state"))
	if err != nil {
		log.Warn().Err(err).Msg("Meta login state rejected")
		c.finish(w, r, "error")
		return
	}
	code := q.Get("code")
	if code == "" {
		log.Warn().Str("userId", userID).Msg("Meta login redirect without code")
		c.finish(w, r, "error")
		return
	}

	now := c.now()
	creds, err := publish.Connect(r.Context(), c.api, c.app, code, now)
	if err != nil {
		log.Error().Err(err).Str("userId", userID).Msg("Meta token exchange failed")
		c.finish(w, r, "error")
		return
	}
	if _, err := billing.EnsureProfile(r.Context(), c.store, userID, now); err != nil {
		log.Error().Err(err).Str("userId", userID).Msg("Failed to load profile")
		c.finish(w, r, "error")
		return
	}
	if err := c.store.SetMetaCredentials(r.Context(), userID, creds); err != nil {
		log.Error().Err(err).Str("userId", userID).Msg("Failed to store Meta credentials")
		c.finish(w, r, "error")
		return
	}
	log.Info().Str("userId", userID).Int("pages", len(creds.Pages)).Msg("Meta account stored")
	c.finish(w, r, "connected")
}

func (c *callback) finish(w http.ResponseWriter, r *http.Request, outcome string) {
	metrics.New(metrics.Namespace).
		Dimension("Result", outcome).
		Count("MetaConnect").
		Flush()
	http.Redirect(w, r, c.appURL+"/settings?meta="+url.QueryEscape(outcome), http.StatusFound)
}
