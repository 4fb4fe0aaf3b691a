package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fpang/social-scheduler/internal/auth"
	"github.com/fpang/social-scheduler/internal/billing"
	"github.com/fpang/social-scheduler/internal/graph"
	"github.com/fpang/social-scheduler/internal/imageai"
	"github.com/fpang/social-scheduler/internal/media"
	"github.com/fpang/social-scheduler/internal/metrics"
	"github.com/fpang/social-scheduler/internal/payments"
	"github.com/fpang/social-scheduler/internal/publish"
	"github.com/fpang/social-scheduler/internal/scheduler"
	"github.com/fpang/social-scheduler/internal/store"
)

func TestMain(m *testing.M) {
	metrics.SetOutput(io.Discard)
	os.Exit(m.Run())
}

var testNow = time.Date(2026, 4, 10, 9, 0, 0, 0, time.UTC)

const testUser = "user-1"

type testEnv struct {
	store   *store.MemoryStore
	handler http.Handler
	token   string
}

func newTestEnv(t *testing.T, mod func(*Deps)) *testEnv {
	t.Helper()
	st := store.NewMemoryStore()
	st.SetClock(func() time.Time { return testNow })
	v := auth.NewVerifier("test-secret", auth.WithClock(func() time.Time { return testNow }))
	token, err := v.Issue(testUser, "owner@shop.test", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	d := Deps{
		Store:      st,
		Verifier:   v,
		CronSecret: "cron-secret",
		Now:        func() time.Time { return testNow },
	}
	if mod != nil {
		mod(&d)
	}
	return &testEnv{store: st, handler: New(d).Handler(), token: token}
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	return e.doWith(t, method, path, body, map[string]string{"Authorization": "Bearer " + e.token})
}

func (e *testEnv) doWith(t *testing.T, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rd)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

func errorBody(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error string `json:"error"`
	}
	decode(t, rec, &body)
	return body.Error
}

func expectStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("status = %d, want %d; body %s", rec.Code, want, rec.Body.String())
	}
}

func testPNGDataURL(t *testing.T) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	img.Set(1, 1, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return imageai.DataURL("image/png", buf.Bytes())
}

func putProfile(t *testing.T, st *store.MemoryStore, mod func(*store.Profile)) {
	t.Helper()
	p := billing.NewProfile(testUser, testNow)
	if mod != nil {
		mod(p)
	}
	if err := st.PutProfile(context.Background(), p); err != nil {
		t.Fatal(err)
	}
}

var connected = &store.MetaCredentials{
	AccessToken: "user-token",
	UserID:      "meta-1",
	Pages: []store.Page{{
		ID: "page-1", Name: "Shop", AccessToken: "page-token",
		Instagram: []store.InstagramAccount{{ID: "ig-1", Username: "shop"}},
	}},
	ConnectedAt: testNow,
}

// fakePublisher returns a canned result and records what it was asked to publish.
type fakePublisher struct {
	result publish.Result
	posts  []*store.Post
}

func (f *fakePublisher) Publish(_ context.Context, post *store.Post, _ *store.MetaCredentials) publish.Result {
	f.posts = append(f.posts, post)
	if f.result.Status == "" {
		return publish.Result{Status: store.PostPosted, Platforms: []publish.PlatformResult{{Platform: store.PlatformInstagram, PostID: "ig_1"}}}
	}
	return f.result
}

func TestHealthIsPublic(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := env.doWith(t, http.MethodGet, "/api/health", nil, nil)
	expectStatus(t, rec, http.StatusOK)
}

func TestAuthRequired(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := env.doWith(t, http.MethodGet, "/api/posts", nil, nil)
	expectStatus(t, rec, http.StatusUnauthorized)
	if got := errorBody(t, rec); got != "unauthorized" {
		t.Errorf("error = %q", got)
	}

	rec = env.doWith(t, http.MethodGet, "/api/posts", nil, map[string]string{"Authorization": "Bearer not-a-jwt"})
	expectStatus(t, rec, http.StatusUnauthorized)
}

func TestCreateAndListPosts(t *testing.T) {
	env := newTestEnv(t, nil)
	at := testNow.Add(2 * time.Hour)
	rec := env.do(t, http.MethodPost, "/api/posts", map[string]interface{}{
		"caption":      "  Spring sale  ",
		"hashtags":     []string{"#sale", " spring ", "#"},
		"mediaUrls":    []string{"https://cdn.test/a.jpg", "media/user-1/abc/b.jpg"},
		"platform":     "both",
		"scheduledFor": at,
	})
	expectStatus(t, rec, http.StatusCreated)
	var created struct {
		Post store.Post `json:"post"`
	}
	decode(t, rec, &created)
	p := created.Post
	if p.Status != store.PostScheduled || p.Caption != "Spring sale" || p.UserID != testUser {
		t.Errorf("post = %+v", p)
	}
	if strings.Join(p.Hashtags, ",") != "sale,spring" {
		t.Errorf("hashtags = %v", p.Hashtags)
	}
	if !p.ScheduledFor.Equal(at) || len(p.MediaURLs) != 2 {
		t.Errorf("schedule/media = %v %v", p.ScheduledFor, p.MediaURLs)
	}

	rec = env.do(t, http.MethodPost, "/api/posts", map[string]interface{}{"caption": "idea"})
	expectStatus(t, rec, http.StatusCreated)
	decode(t, rec, &created)
	if created.Post.Status != store.PostDraft || created.Post.Platform != store.PlatformInstagram {
		t.Errorf("draft = %+v", created.Post)
	}

	rec = env.do(t, http.MethodGet, "/api/posts?status=scheduled", nil)
	expectStatus(t, rec, http.StatusOK)
	var list struct {
		Posts []store.Post `json:"posts"`
	}
	decode(t, rec, &list)
	if len(list.Posts) != 1 || list.Posts[0].ID != p.ID {
		t.Errorf("scheduled posts = %+v", list.Posts)
	}

	rec = env.do(t, http.MethodGet, "/api/posts/"+p.ID, nil)
	expectStatus(t, rec, http.StatusOK)
	rec = env.do(t, http.MethodGet, "/api/posts/missing", nil)
	expectStatus(t, rec, http.StatusNotFound)
}

func TestCreatePostValidation(t *testing.T) {
	env := newTestEnv(t, nil)
	eleven := make([]string, 11)
	for i := range eleven {
		eleven[i] = "https://cdn.test/x.jpg"
	}
	tests := []struct {
		name    string
		body    map[string]interface{}
		wantErr string
	}{
		{"bad platform", map[string]interface{}{"caption": "x", "platform": "tiktok"}, "platform must be one of"},
		{"empty", map[string]interface{}{}, "caption or media is required"},
		{"too many media", map[string]interface{}{"caption": "x", "mediaUrls": eleven}, "limited to 10"},
		{"foreign key", map[string]interface{}{"caption": "x", "mediaUrl": "media/someone-else/1/a.jpg"}, "media item 1"},
		{"scheduled without time", map[string]interface{}{"caption": "x", "status": "scheduled"}, "scheduledFor is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/api/posts", tt.body)
			expectStatus(t, rec, http.StatusBadRequest)
			if got := errorBody(t, rec); !strings.Contains(got, tt.wantErr) {
				t.Errorf("error = %q, want it to contain %q", got, tt.wantErr)
			}
		})
	}

	req := httptest.NewRequest(http.MethodPost, "/api/posts", strings.NewReader("{not json"))
	req.Header.Set("Authorization", "Bearer "+env.token)
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	expectStatus(t, rec, http.StatusBadRequest)
	if got := errorBody(t, rec); got != "invalid JSON body" {
		t.Errorf("error = %q", got)
	}
}

func TestUpdatePost(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	_ = env.store.PutPost(ctx, &store.Post{ID: "p1", UserID: testUser, Caption: "old", Platform: store.PlatformInstagram, Status: store.PostFailed, MetaErrors: map[string]string{"instagram": "boom"}})
	_ = env.store.PutPost(ctx, &store.Post{ID: "p2", UserID: testUser, Caption: "done", Platform: store.PlatformInstagram, Status: store.PostPosted})

	at := testNow.Add(time.Hour)
	rec := env.do(t, http.MethodPatch, "/api/posts/p1", map[string]interface{}{"caption": "new", "scheduledFor": at})
	expectStatus(t, rec, http.StatusOK)
	got, _ := env.store.GetPost(ctx, testUser, "p1")
	if got.Caption != "new" || got.Status != store.PostScheduled || !got.ScheduledFor.Equal(at) || got.MetaErrors != nil {
		t.Errorf("updated post = %+v", got)
	}

	rec = env.do(t, http.MethodPatch, "/api/posts/p1", map[string]interface{}{"status": "cancelled"})
	expectStatus(t, rec, http.StatusOK)
	got, _ = env.store.GetPost(ctx, testUser, "p1")
	if got.Status != store.PostCancelled {
		t.Errorf("status = %s", got.Status)
	}

	rec = env.do(t, http.MethodPatch, "/api/posts/p2", map[string]interface{}{"caption": "edit"})
	expectStatus(t, rec, http.StatusConflict)

	rec = env.do(t, http.MethodPatch, "/api/posts/p1", map[string]interface{}{"caption": "again"})
	expectStatus(t, rec, http.StatusConflict)

	rec = env.do(t, http.MethodPatch, "/api/posts/p2", map[string]interface{}{"status": "posted"})
	expectStatus(t, rec, http.StatusBadRequest)
}

func TestDeletePost(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	_ = env.store.PutPost(ctx, &store.Post{ID: "p1", UserID: testUser, Status: store.PostDraft})
	_ = env.store.PutPost(ctx, &store.Post{ID: "p2", UserID: testUser, Status: store.PostPublishing})

	expectStatus(t, env.do(t, http.MethodDelete, "/api/posts/p1", nil), http.StatusOK)
	if p, _ := env.store.GetPost(ctx, testUser, "p1"); p != nil {
		t.Error("post not deleted")
	}
	expectStatus(t, env.do(t, http.MethodDelete, "/api/posts/p2", nil), http.StatusConflict)
}

func TestSchedulePosts(t *testing.T) {
	env := newTestEnv(t, nil)
	at := testNow.Add(24 * time.Hour)
	rec := env.do(t, http.MethodPost, "/api/posts/schedule", map[string]interface{}{
		"posts": []map[string]interface{}{
			{"media_url": "https://cdn.test/1.jpg", "caption": "one", "scheduledDate": at},
			{"media_urls": []string{"https://cdn.test/2.jpg", "https://cdn.test/3.jpg"}, "caption": "two", "scheduledDate": at, "platform": "facebook"},
		},
	})
	expectStatus(t, rec, http.StatusCreated)
	posts, _ := env.store.ListPostsByUser(context.Background(), testUser, store.PostScheduled)
	if len(posts) != 2 {
		t.Fatalf("stored %d posts", len(posts))
	}
	platforms := map[string]bool{}
	for _, p := range posts {
		platforms[p.Platform] = true
	}
	if !platforms[store.PlatformInstagram] || !platforms[store.PlatformFacebook] {
		t.Errorf("platforms = %v", platforms)
	}

	rec = env.do(t, http.MethodPost, "/api/posts/schedule", map[string]interface{}{
		"posts": []map[string]interface{}{{"caption": "no media", "scheduledDate": at}},
	})
	expectStatus(t, rec, http.StatusBadRequest)
	if got := errorBody(t, rec); !strings.Contains(got, "media_url is required") {
		t.Errorf("error = %q", got)
	}
}

func TestPublishNow(t *testing.T) {
	pub := &fakePublisher{}
	var sched *scheduler.Scheduler
	env := newTestEnv(t, func(d *Deps) {
		sched = scheduler.New(d.Store.(*store.MemoryStore), pub, nil, scheduler.Config{})
		sched.SetClock(func() time.Time { return testNow })
		d.Dispatcher = scheduler.InlineDispatcher{Scheduler: sched}
	})
	ctx := context.Background()
	putProfile(t, env.store, func(p *store.Profile) { p.Meta = connected })
	_ = env.store.PutPost(ctx, &store.Post{ID: "p1", UserID: testUser, Platform: store.PlatformInstagram, MediaURL: "https://cdn.test/a.jpg", Status: store.PostDraft})

	rec := env.do(t, http.MethodPost, "/api/posts/p1/publish", nil)
	expectStatus(t, rec, http.StatusAccepted)
	p, _ := env.store.GetPost(ctx, testUser, "p1")
	if p.Status != store.PostPosted || len(pub.posts) != 1 {
		t.Errorf("post = %+v, publishes = %d", p, len(pub.posts))
	}

	rec = env.do(t, http.MethodPost, "/api/posts/p1/publish", nil)
	expectStatus(t, rec, http.StatusConflict)
}

func TestPublishNowWithoutDispatcher(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := env.do(t, http.MethodPost, "/api/posts/p1/publish", nil)
	expectStatus(t, rec, http.StatusServiceUnavailable)
}

func TestMetaPost(t *testing.T) {
	pub := &fakePublisher{}
	env := newTestEnv(t, func(d *Deps) { d.Publisher = pub })
	ctx := context.Background()
	body := map[string]interface{}{
		"caption":        "Launch",
		"hashtags":       []string{"#new"},
		"mediaUrls":      []string{"https://cdn.test/a.jpg", "https://cdn.test/b.jpg"},
		"platform":       "both",
		"selectedPageId": "page-1",
	}

	rec := env.do(t, http.MethodPost, "/api/meta/post", body)
	expectStatus(t, rec, http.StatusBadRequest)
	if got := errorBody(t, rec); got != "Meta account not connected" {
		t.Errorf("error = %q", got)
	}

	putProfile(t, env.store, func(p *store.Profile) { p.Meta = connected })
	_ = env.store.PutPost(ctx, &store.Post{ID: "p1", UserID: testUser, Status: store.PostDraft})
	pub.result = publish.Result{Status: store.PostPartial, Platforms: []publish.PlatformResult{
		{Platform: store.PlatformInstagram, PostID: "ig_9"},
		{Platform: store.PlatformFacebook, Err: errors.New("photo rejected")},
	}}
	body["postId"] = "p1"

	rec = env.do(t, http.MethodPost, "/api/meta/post", body)
	expectStatus(t, rec, http.StatusOK)
	var resp metaPostResponse
	decode(t, rec, &resp)
	if resp.Status != store.PostPartial || resp.PostIDs["instagram"] != "ig_9" || resp.Errors["facebook"] != "photo rejected" {
		t.Errorf("response = %+v", resp)
	}
	if got := pub.posts[0]; got.PageID != "page-1" || got.Hashtags[0] != "new" || len(got.MediaURLs) != 2 {
		t.Errorf("published post = %+v", got)
	}
	stored, _ := env.store.GetPost(ctx, testUser, "p1")
	if stored.Status != store.PostPartial || stored.PublishedAt == nil || stored.Attempts != 1 {
		t.Errorf("stored post = %+v", stored)
	}

	body["postId"] = ""
	body["selectedPageId"] = "page-404"
	expectStatus(t, env.do(t, http.MethodPost, "/api/meta/post", body), http.StatusBadRequest)

	body["selectedPageId"] = "page-1"
	pub.result = publish.Result{Status: store.PostFailed, Platforms: []publish.PlatformResult{
		{Platform: store.PlatformInstagram, Err: errors.New("container failed")},
	}}
	rec = env.do(t, http.MethodPost, "/api/meta/post", body)
	expectStatus(t, rec, http.StatusBadGateway)
	if got := errorBody(t, rec); !strings.Contains(got, "container failed") {
		t.Errorf("error = %q", got)
	}

	pub.result = publish.Result{Status: store.PostFailed, Platforms: []publish.PlatformResult{
		{Platform: store.PlatformInstagram, Err: &graph.APIError{Code: 190, Message: "expired"}},
	}}
	rec = env.do(t, http.MethodPost, "/api/meta/post", body)
	expectStatus(t, rec, http.StatusBadRequest)
	if got := errorBody(t, rec); got != errMetaExpired {
		t.Errorf("error = %q", got)
	}
}

// staleReadStore hands out a post as it looked before a concurrent writer
// changed it, once per post.
type staleReadStore struct {
	*store.MemoryStore
	stale map[string]*store.Post
}

func (s *staleReadStore) GetPost(ctx context.Context, userID, postID string) (*store.Post, error) {
	if p, ok := s.stale[postID]; ok {
		delete(s.stale, postID)
		return p, nil
	}
	return s.MemoryStore.GetPost(ctx, userID, postID)
}

// claimScheduled loads a scheduled post, then lets the scheduler claim it.
func claimScheduled(t *testing.T, st *store.MemoryStore, id string) *store.Post {
	t.Helper()
	ctx := context.Background()
	err := st.PutPost(ctx, &store.Post{ID: id, UserID: testUser, Caption: "v1", Platform: store.PlatformInstagram, Status: store.PostScheduled, ScheduledFor: testNow})
	if err != nil {
		t.Fatal(err)
	}
	loaded, _ := st.GetPost(ctx, testUser, id)
	claim := store.PostUpdate{Status: store.PostPublishing, IfStatus: []string{store.PostScheduled}}
	if err := st.UpdatePostStatus(ctx, testUser, id, claim); err != nil {
		t.Fatal(err)
	}
	return loaded
}

func TestMetaPostClaimsStoredPost(t *testing.T) {
	var statusDuringPublish string
	var env *testEnv
	pub := &hookPublisher{before: func(post *store.Post) {
		p, _ := env.store.GetPost(context.Background(), testUser, post.ID)
		statusDuringPublish = p.Status
	}}
	env = newTestEnv(t, func(d *Deps) { d.Publisher = pub })
	putProfile(t, env.store, func(p *store.Profile) { p.Meta = connected })
	_ = env.store.PutPost(context.Background(), &store.Post{ID: "p1", UserID: testUser, Status: store.PostScheduled, ScheduledFor: testNow})

	body := map[string]interface{}{
		"caption": "Launch", "mediaUrls": []string{"https://cdn.test/a.jpg"},
		"platform": "instagram", "selectedPageId": "page-1", "postId": "p1",
	}
	expectStatus(t, env.do(t, http.MethodPost, "/api/meta/post", body), http.StatusOK)
	if statusDuringPublish != store.PostPublishing {
		t.Errorf("status during publish = %q, want publishing", statusDuringPublish)
	}
	stored, _ := env.store.GetPost(context.Background(), testUser, "p1")
	if stored.Status != store.PostPosted {
		t.Errorf("status after publish = %s", stored.Status)
	}
}

func TestMetaPostLosesClaimToScheduler(t *testing.T) {
	pub := &fakePublisher{}
	var st *staleReadStore
	env := newTestEnv(t, func(d *Deps) {
		d.Publisher = pub
		st = &staleReadStore{MemoryStore: d.Store.(*store.MemoryStore), stale: map[string]*store.Post{}}
		d.Store = st
	})
	putProfile(t, env.store, func(p *store.Profile) { p.Meta = connected })
	st.stale["p1"] = claimScheduled(t, env.store, "p1")

	body := map[string]interface{}{
		"caption": "Launch", "mediaUrls": []string{"https://cdn.test/a.jpg"},
		"platform": "instagram", "selectedPageId": "page-1", "postId": "p1",
	}
	expectStatus(t, env.do(t, http.MethodPost, "/api/meta/post", body), http.StatusConflict)
	if len(pub.posts) != 0 {
		t.Errorf("published %d posts for a claimed post", len(pub.posts))
	}
}

func TestUpdatePostRejectsConcurrentClaim(t *testing.T) {
	var st *staleReadStore
	env := newTestEnv(t, func(d *Deps) {
		st = &staleReadStore{MemoryStore: d.Store.(*store.MemoryStore), stale: map[string]*store.Post{}}
		d.Store = st
	})
	st.stale["p1"] = claimScheduled(t, env.store, "p1")

	rec := env.do(t, http.MethodPatch, "/api/posts/p1", map[string]interface{}{"caption": "v2"})
	expectStatus(t, rec, http.StatusConflict)
	got, _ := env.store.GetPost(context.Background(), testUser, "p1")
	if got.Status != store.PostPublishing || got.Caption != "v1" {
		t.Errorf("post overwritten: status %s, caption %q", got.Status, got.Caption)
	}
}

// hookPublisher calls before, then reports the post as posted.
type hookPublisher struct {
	before func(*store.Post)
}

func (h *hookPublisher) Publish(_ context.Context, post *store.Post, _ *store.MetaCredentials) publish.Result {
	h.before(post)
	return publish.Result{Status: store.PostPosted, Platforms: []publish.PlatformResult{{Platform: store.PlatformInstagram, PostID: "ig_1"}}}
}

type fakePages struct {
	pages []graph.Page
	err   error
}

func (f *fakePages) ListPages(context.Context, string) ([]graph.Page, error) {
	return f.pages, f.err
}

func TestMetaPagesAndDisconnect(t *testing.T) {
	lister := &fakePages{pages: []graph.Page{{ID: "page-2", Name: "Outlet", AccessToken: "t2"}}}
	env := newTestEnv(t, func(d *Deps) { d.Pages = lister })
	ctx := context.Background()
	putProfile(t, env.store, func(p *store.Profile) { p.Meta = connected })

	rec := env.do(t, http.MethodGet, "/api/meta/pages", nil)
	expectStatus(t, rec, http.StatusOK)
	if strings.Contains(rec.Body.String(), "page-token") {
		t.Error("page access token leaked in response")
	}

	rec = env.do(t, http.MethodGet, "/api/meta/pages?refresh=1", nil)
	expectStatus(t, rec, http.StatusOK)
	p, _ := env.store.GetProfile(ctx, testUser)
	if len(p.Meta.Pages) != 1 || p.Meta.Pages[0].ID != "page-2" || p.Meta.AccessToken != "user-token" {
		t.Errorf("refreshed meta = %+v", p.Meta)
	}

	lister.err = &graph.APIError{Code: 190}
	expectStatus(t, env.do(t, http.MethodGet, "/api/meta/pages?refresh=1", nil), http.StatusBadRequest)

	expectStatus(t, env.do(t, http.MethodDelete, "/api/meta/connection", nil), http.StatusOK)
	p, _ = env.store.GetProfile(ctx, testUser)
	if p.Meta != nil {
		t.Errorf("credentials not cleared: %+v", p.Meta)
	}
	expectStatus(t, env.do(t, http.MethodGet, "/api/meta/pages", nil), http.StatusBadRequest)
}

func TestMetaLoginURL(t *testing.T) {
	env := newTestEnv(t, nil)
	expectStatus(t, env.do(t, http.MethodGet, "/api/meta/login-url", nil), http.StatusServiceUnavailable)

	var verifier *auth.Verifier
	env = newTestEnv(t, func(d *Deps) {
		d.MetaApp = publish.MetaApp{AppID: "app-1", RedirectURI: "https://api.test/oauth/callback"}
		verifier = d.Verifier
	})
	rec := env.do(t, http.MethodGet, "/api/meta/login-url", nil)
	expectStatus(t, rec, http.StatusOK)
	var body struct {
		URL string `json:"url"`
	}
	decode(t, rec, &body)
	u, err := url.Parse(body.URL)
	if err != nil {
		t.Fatal(err)
	}
	uid, err := verifier.VerifyState(u.Query().Get("state"))
	if err != nil {
		t.Fatalf("state does not verify: %v", err)
	}
	if uid != testUser {
		t.Errorf("state user = %q", uid)
	}
}

func TestCreditsCreatesFreeProfile(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := env.do(t, http.MethodGet, "/api/user/credits", nil)
	expectStatus(t, rec, http.StatusOK)
	var resp creditsResponse
	decode(t, rec, &resp)
	if resp.Credits.PostGenerations != 15 || resp.Credits.ImageEnhancements != 3 {
		t.Errorf("credits = %+v", resp.Credits)
	}
	if resp.Subscription.Plan != billing.PlanFree || !resp.Subscription.Active || resp.Subscription.DaysRemaining <= 0 {
		t.Errorf("subscription = %+v", resp.Subscription)
	}
	if p, _ := env.store.GetProfile(context.Background(), testUser); p == nil {
		t.Error("profile not persisted")
	}
}

type fakeCaptions struct {
	calls int
	err   error
	panic bool
}

func (f *fakeCaptions) Generate(_ context.Context, images []imageai.Image, profile imageai.BusinessProfile) (*imageai.Caption, error) {
	if f.panic {
		panic("model exploded")
	}
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &imageai.Caption{Caption: "Fresh picks for " + profile.Name, Hashtags: []string{"spring"}}, nil
}

func TestCaptionChargesPostCredit(t *testing.T) {
	gen := &fakeCaptions{}
	env := newTestEnv(t, func(d *Deps) { d.Captions = gen })
	img := testPNGDataURL(t)

	rec := env.do(t, http.MethodPost, "/api/ai/caption", map[string]interface{}{"images": []string{img}, "businessName": "Acme"})
	expectStatus(t, rec, http.StatusOK)
	var resp struct {
		Caption          string   `json:"caption"`
		Hashtags         []string `json:"hashtags"`
		CreditsRemaining int      `json:"creditsRemaining"`
	}
	decode(t, rec, &resp)
	if resp.Caption != "Fresh picks for Acme" || resp.CreditsRemaining != 14 {
		t.Errorf("response = %+v", resp)
	}

	gen.err = imageai.ErrUpstream
	expectStatus(t, env.do(t, http.MethodPost, "/api/ai/caption", map[string]interface{}{"images": []string{img}}), http.StatusBadGateway)
	p, _ := env.store.GetProfile(context.Background(), testUser)
	if p.PostCredits != 14 {
		t.Errorf("failed generation charged a credit: %d", p.PostCredits)
	}

	expectStatus(t, env.do(t, http.MethodPost, "/api/ai/caption", map[string]interface{}{"images": []string{"ftp://nope"}}), http.StatusBadRequest)
}

func TestCaptionInsufficientCredits(t *testing.T) {
	gen := &fakeCaptions{}
	env := newTestEnv(t, func(d *Deps) { d.Captions = gen })
	putProfile(t, env.store, func(p *store.Profile) { p.PostCredits = 0 })

	rec := env.do(t, http.MethodPost, "/api/ai/caption", map[string]interface{}{"images": []string{testPNGDataURL(t)}})
	expectStatus(t, rec, http.StatusPaymentRequired)
	if got := errorBody(t, rec); got != "Insufficient credits" {
		t.Errorf("error = %q", got)
	}
	if gen.calls != 0 {
		t.Error("model called without credits")
	}
}

type fakeRemover struct{ err error }

func (f fakeRemover) RemoveBackgroundDataURL(_ context.Context, image string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return "data:image/png;base64,AAAA", nil
}

func TestRemoveBackground(t *testing.T) {
	remover := &fakeRemover{}
	env := newTestEnv(t, func(d *Deps) { d.RemoveBG = remover })

	rec := env.do(t, http.MethodPost, "/api/ai/remove-background", map[string]string{"image": "https://cdn.test/a.jpg"})
	expectStatus(t, rec, http.StatusOK)
	if !strings.Contains(rec.Body.String(), `"creditsRemaining":2`) {
		t.Errorf("body = %s", rec.Body.String())
	}

	remover.err = imageai.ErrUpstream
	expectStatus(t, env.do(t, http.MethodPost, "/api/ai/remove-background", map[string]string{"image": "https://cdn.test/a.jpg"}), http.StatusBadGateway)

	remover.err = imageai.ErrInvalidImage
	expectStatus(t, env.do(t, http.MethodPost, "/api/ai/remove-background", map[string]string{"image": "data:x"}), http.StatusBadRequest)

	expectStatus(t, env.do(t, http.MethodPost, "/api/ai/remove-background", map[string]string{}), http.StatusBadRequest)
}

type fakeEnhancer struct{}

func (fakeEnhancer) Enhance(_ context.Context, data []byte, description string) (*imageai.Enhanced, error) {
	return &imageai.Enhanced{Category: imageai.CategoryTech, MIMEType: "image/png", Data: []byte("png")}, nil
}

func TestEnhance(t *testing.T) {
	env := newTestEnv(t, func(d *Deps) { d.Enhancer = fakeEnhancer{} })
	putProfile(t, env.store, func(p *store.Profile) { p.EnhancementCredits = 1 })

	rec := env.do(t, http.MethodPost, "/api/ai/enhance", map[string]string{"image": testPNGDataURL(t), "description": "headphones"})
	expectStatus(t, rec, http.StatusOK)
	var resp struct {
		Image    string `json:"image"`
		Category string `json:"category"`
	}
	decode(t, rec, &resp)
	if resp.Category != imageai.CategoryTech || resp.Image != imageai.DataURL("image/png", []byte("png")) {
		t.Errorf("response = %+v", resp)
	}

	expectStatus(t, env.do(t, http.MethodPost, "/api/ai/enhance", map[string]string{"image": testPNGDataURL(t)}), http.StatusPaymentRequired)
}

func TestRecoverFromPanic(t *testing.T) {
	env := newTestEnv(t, func(d *Deps) { d.Captions = &fakeCaptions{panic: true} })
	rec := env.do(t, http.MethodPost, "/api/ai/caption", map[string]interface{}{"images": []string{testPNGDataURL(t)}})
	expectStatus(t, rec, http.StatusInternalServerError)
	if got := errorBody(t, rec); got != "internal server error" {
		t.Errorf("error = %q", got)
	}
}

type fakeMedia struct {
	uploadErr error
	assets    map[string]*store.MediaAsset
}

func (f *fakeMedia) UploadURL(_ context.Context, userID, filename, _ string, _ int64) (*media.Upload, error) {
	if f.uploadErr != nil {
		return nil, f.uploadErr
	}
	return &media.Upload{URL: "https://bucket.s3/put", Key: "media/" + userID + "/id/" + filename}, nil
}

func (f *fakeMedia) Register(_ context.Context, userID, key string) (*store.MediaAsset, error) {
	if err := media.ValidateKey(userID, key); err != nil {
		return nil, err
	}
	return &store.MediaAsset{ID: "id", UserID: userID, Key: key}, nil
}

func (f *fakeMedia) List(context.Context, string, time.Duration) ([]media.Asset, error) {
	var out []media.Asset
	for _, a := range f.assets {
		out = append(out, media.Asset{MediaAsset: a, URL: "https://bucket.s3/" + a.Key})
	}
	return out, nil
}

func (f *fakeMedia) Get(_ context.Context, _, id string) (*store.MediaAsset, error) {
	a, ok := f.assets[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return a, nil
}

func (f *fakeMedia) Delete(_ context.Context, _, id string) error {
	if _, ok := f.assets[id]; !ok {
		return store.ErrNotFound
	}
	delete(f.assets, id)
	return nil
}

func (f *fakeMedia) ResolveURL(_ context.Context, ref string) (string, error) {
	return "https://bucket.s3/" + ref, nil
}

func TestMediaRoutes(t *testing.T) {
	captured := time.Date(2024, 6, 1, 15, 0, 0, 0, time.UTC)
	lib := &fakeMedia{assets: map[string]*store.MediaAsset{
		"a1": {ID: "a1", Key: "media/user-1/a1/beach.jpg", Size: 100, CapturedAt: &captured},
		"a2": {ID: "a2", Key: "media/user-1/a2/shop.jpg", Size: 50},
		"a3": {ID: "a3", Key: "media/user-1/a3/menu.jpg", Size: 25},
	}}
	env := newTestEnv(t, func(d *Deps) { d.Media = lib })

	rec := env.do(t, http.MethodPost, "/api/media/upload-url", map[string]interface{}{"filename": "a.jpg", "contentType": "image/jpeg", "size": 10})
	expectStatus(t, rec, http.StatusOK)

	lib.uploadErr = media.ErrStorageLimit
	expectStatus(t, env.do(t, http.MethodPost, "/api/media/upload-url", map[string]interface{}{"filename": "a.jpg", "contentType": "image/jpeg", "size": 10}), http.StatusForbidden)
	lib.uploadErr = media.ErrUnsupportedType
	expectStatus(t, env.do(t, http.MethodPost, "/api/media/upload-url", map[string]interface{}{"filename": "a.exe", "contentType": "application/x-msdownload", "size": 10}), http.StatusBadRequest)

	expectStatus(t, env.do(t, http.MethodPost, "/api/media", map[string]string{"key": "media/user-1/x/a.jpg"}), http.StatusCreated)
	expectStatus(t, env.do(t, http.MethodPost, "/api/media", map[string]string{"key": "media/other/x/a.jpg"}), http.StatusBadRequest)

	rec = env.do(t, http.MethodGet, "/api/media", nil)
	expectStatus(t, rec, http.StatusOK)
	if !strings.Contains(rec.Body.String(), `"usedBytes":175`) {
		t.Errorf("body = %s", rec.Body.String())
	}

	// testNow is Friday 2026-04-10; Mondays and Thursdays follow on the 13th and 16th.
	rec = env.do(t, http.MethodPost, "/api/media/schedule-suggestions", map[string]interface{}{
		"assetIds": []string{"a1", "a2", "a3"},
		"weekdays": []string{"monday", "thursday"},
	})
	expectStatus(t, rec, http.StatusOK)
	var sugg struct {
		Suggestions []suggestion `json:"suggestions"`
	}
	decode(t, rec, &sugg)
	want := []struct {
		at     time.Time
		source string
	}{
		{time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC), "exif"},
		{time.Date(2026, 4, 13, 10, 0, 0, 0, time.UTC), "weekday"},
		{time.Date(2026, 4, 16, 10, 0, 0, 0, time.UTC), "weekday"},
	}
	if len(sugg.Suggestions) != len(want) {
		t.Fatalf("suggestions = %+v", sugg.Suggestions)
	}
	for i, w := range want {
		got := sugg.Suggestions[i]
		if !got.ScheduledFor.Equal(w.at) || got.Source != w.source {
			t.Errorf("suggestion %d = %+v, want %v (%s)", i, got, w.at, w.source)
		}
	}

	expectStatus(t, env.do(t, http.MethodPost, "/api/media/schedule-suggestions", map[string]interface{}{"assetIds": []string{"nope"}}), http.StatusNotFound)
	expectStatus(t, env.do(t, http.MethodDelete, "/api/media/a2", nil), http.StatusOK)
	expectStatus(t, env.do(t, http.MethodDelete, "/api/media/a2", nil), http.StatusNotFound)
}

type fakePayments struct{ err error }

func (f fakePayments) CreateOrder(context.Context, string, payments.OrderRequest) (*payments.OrderResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &payments.OrderResponse{OrderID: "order_1", Amount: 1200, TotalAmount: 1200, Currency: "USD", IsExport: true, Key: "rzp_test"}, nil
}

func (f fakePayments) VerifyPayment(context.Context, string, payments.VerifyRequest) (*payments.VerifyResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &payments.VerifyResult{OrderID: "order_1", PaymentID: "pay_1", PlanID: billing.PlanStarter}, nil
}

func (f fakePayments) ActivateFreePlan(context.Context, string) (*store.Profile, error) {
	if f.err != nil {
		return nil, f.err
	}
	return billing.NewProfile(testUser, testNow), nil
}

func TestPaymentErrorMapping(t *testing.T) {
	verify := map[string]string{"razorpay_order_id": "order_1", "razorpay_payment_id": "pay_1", "razorpay_signature": "sig"}
	tests := []struct {
		err  error
		want int
	}{
		{nil, http.StatusOK},
		{payments.ErrInvalidSignature, http.StatusBadRequest},
		{payments.ErrNotCaptured, http.StatusBadRequest},
		{payments.ErrAmountMismatch, http.StatusBadRequest},
		{payments.ErrOrderNotFound, http.StatusNotFound},
		{&payments.GatewayError{StatusCode: 500, Code: "SERVER_ERROR"}, http.StatusBadGateway},
		{errors.New("dynamo down"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		env := newTestEnv(t, func(d *Deps) { d.Payments = fakePayments{err: tt.err} })
		rec := env.do(t, http.MethodPost, "/api/payments/verify", verify)
		if rec.Code != tt.want {
			t.Errorf("err %v: status = %d, want %d", tt.err, rec.Code, tt.want)
		}
	}

	env := newTestEnv(t, func(d *Deps) { d.Payments = fakePayments{} })
	expectStatus(t, env.do(t, http.MethodPost, "/api/payments/verify", map[string]string{"razorpay_order_id": "order_1"}), http.StatusBadRequest)
	expectStatus(t, env.do(t, http.MethodPost, "/api/payments/create-order", map[string]string{"planId": "starter", "billingCycle": "weekly"}), http.StatusBadRequest)
	expectStatus(t, env.do(t, http.MethodPost, "/api/payments/create-order", map[string]string{"planId": "starter"}), http.StatusOK)
	expectStatus(t, env.do(t, http.MethodPost, "/api/payments/activate-free-plan", nil), http.StatusOK)

	env = newTestEnv(t, func(d *Deps) {
		d.Payments = fakePayments{err: errors.Join(payments.ErrInvalidRequest, errors.New("unknown plan"))}
	})
	expectStatus(t, env.do(t, http.MethodPost, "/api/payments/create-order", map[string]string{"planId": "platinum"}), http.StatusBadRequest)
}

func TestInvoices(t *testing.T) {
	env := newTestEnv(t, func(d *Deps) {
		d.Seller = billing.Party{Name: "Social Scheduler", GSTIN: "29ABCDE1234F1Z5"}
	})
	ctx := context.Background()
	putProfile(t, env.store, func(p *store.Profile) { p.BusinessName = "Acme"; p.Country = "IN"; p.State = "KA" })
	order := &store.PaymentOrder{OrderID: "order_1", UserID: testUser, PlanID: billing.PlanStarter, Amount: 99900, TaxAmount: 17982, TotalAmount: 117882, Currency: "INR"}
	inv := billing.NewInvoice(order, "pay_1", false, testNow)
	if err := env.store.PutInvoice(ctx, inv); err != nil {
		t.Fatal(err)
	}

	rec := env.do(t, http.MethodGet, "/api/invoices", nil)
	expectStatus(t, rec, http.StatusOK)
	var list struct {
		Invoices []store.Invoice `json:"invoices"`
	}
	decode(t, rec, &list)
	if len(list.Invoices) != 1 || list.Invoices[0].ID != inv.ID {
		t.Errorf("invoices = %+v", list.Invoices)
	}

	rec = env.do(t, http.MethodGet, "/api/invoices/"+inv.ID+"/pdf", nil)
	expectStatus(t, rec, http.StatusOK)
	if ct := rec.Header().Get("Content-Type"); ct != "application/pdf" {
		t.Errorf("content type = %q", ct)
	}
	if !bytes.HasPrefix(rec.Body.Bytes(), []byte("%PDF-")) {
		t.Error("body is not a PDF")
	}

	expectStatus(t, env.do(t, http.MethodGet, "/api/invoices/missing/pdf", nil), http.StatusNotFound)
}

type countingRunner struct{ runs int }

func (c *countingRunner) RunBatch(context.Context) (*scheduler.BatchResult, error) {
	c.runs++
	return &scheduler.BatchResult{Due: 2, Processed: 2, Succeeded: 2}, nil
}

func TestCronSecret(t *testing.T) {
	runner := &countingRunner{}
	env := newTestEnv(t, func(d *Deps) { d.Scheduler = runner })

	expectStatus(t, env.doWith(t, http.MethodGet, "/api/cron/post-scheduler", nil, nil), http.StatusUnauthorized)
	expectStatus(t, env.doWith(t, http.MethodGet, "/api/cron/post-scheduler", nil, map[string]string{"x-cron-secret": "wrong"}), http.StatusUnauthorized)

	rec := env.doWith(t, http.MethodGet, "/api/cron/post-scheduler", nil, map[string]string{"x-cron-secret": "cron-secret"})
	expectStatus(t, rec, http.StatusOK)
	if !strings.Contains(rec.Body.String(), `"succeeded":2`) {
		t.Errorf("body = %s", rec.Body.String())
	}
	expectStatus(t, env.doWith(t, http.MethodPost, "/api/cron/post-scheduler", nil, map[string]string{"Authorization": "Bearer cron-secret"}), http.StatusOK)
	if runner.runs != 2 {
		t.Errorf("runs = %d", runner.runs)
	}
}

type denyAfter struct {
	allowed int
	keys    []string
}

func (d *denyAfter) Allow(_ context.Context, key string) (bool, error) {
	d.keys = append(d.keys, key)
	d.allowed--
	return d.allowed >= 0, nil
}

func TestRateLimit(t *testing.T) {
	limiter := &denyAfter{allowed: 1}
	env := newTestEnv(t, func(d *Deps) { d.Limiter = limiter })

	expectStatus(t, env.do(t, http.MethodGet, "/api/posts", nil), http.StatusOK)
	rec := env.do(t, http.MethodGet, "/api/posts", nil)
	expectStatus(t, rec, http.StatusTooManyRequests)
	if got := errorBody(t, rec); got != "Rate limit exceeded" {
		t.Errorf("error = %q", got)
	}
	if limiter.keys[0] != "/api/posts:"+testUser {
		t.Errorf("key = %q", limiter.keys[0])
	}
}

// fakeRedis counts INCRs per key and records EXPIREs.
type fakeRedis struct {
	counts  map[string]int64
	expires []string
	err     error
}

func (f *fakeRedis) Incr(_ context.Context, key string) *redis.IntCmd {
	if f.err != nil {
		return redis.NewIntResult(0, f.err)
	}
	f.counts[key]++
	return redis.NewIntResult(f.counts[key], nil)
}

func (f *fakeRedis) Expire(_ context.Context, key string, _ time.Duration) *redis.BoolCmd {
	f.expires = append(f.expires, key)
	return redis.NewBoolResult(true, nil)
}

func TestRedisLimiter(t *testing.T) {
	rdb := &fakeRedis{counts: map[string]int64{}}
	l := NewRedisLimiter(rdb, 2, time.Minute)
	ctx := context.Background()

	for i, want := range []bool{true, true, false} {
		ok, err := l.Allow(ctx, "/api/ai/caption:u1")
		if err != nil || ok != want {
			t.Errorf("call %d: ok=%v err=%v, want %v", i+1, ok, err, want)
		}
	}
	if len(rdb.expires) != 1 || rdb.expires[0] != "rate_limit:/api/ai/caption:u1" {
		t.Errorf("expires = %v", rdb.expires)
	}

	rdb.err = errors.New("connection refused")
	if _, err := l.Allow(ctx, "k"); err == nil {
		t.Error("expected error when redis is down")
	}
}

func TestNormalizeEndpoint(t *testing.T) {
	tests := map[string]string{
		"/api/health": "/api/health",
		"/api/posts/0b8e3f52-6c1d-4a8e-9a51-3d2f6a7c9e10":         "/api/posts/*",
		"/api/posts/0b8e3f52-6c1d-4a8e-9a51-3d2f6a7c9e10/publish": "/api/posts/*/publish",
		"/api/media/upload-url": "/api/media/upload-url",
	}
	for in, want := range tests {
		if got := normalizeEndpoint(in); got != want {
			t.Errorf("normalizeEndpoint(%q) = %q, want %q", in, got, want)
		}
	}
}
