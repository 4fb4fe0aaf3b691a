// Package publish turns a stored post into Graph API calls on one or both
// platforms and reports the outcome per platform.
//
// A platform either publishes the whole post or nothing: when any item of a
// multi-media post fails, that platform stops before its publish call. The
// one exception is a Facebook post mixing videos and photos, where videos go
// live one by one; a failure after that is reported with the live ID. With
// platform "both", a success on one side is kept even if the other fails; the
// post is then reported as partial.
package publish

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/social-scheduler/internal/graph"
	"github.com/fpang/social-scheduler/internal/store"
)

// ErrTooManyMedia is returned for posts with more media than a carousel holds.
var ErrTooManyMedia = errors.New("Carousel posts are limited to 10 images/videos maximum")

var (
	errNotConnected  = errors.New("Meta account not connected")
	errNoPage        = errors.New("no connected Facebook page")
	errNoInstagram   = errors.New("no Instagram business account linked to the page")
	errInstagramNone = errors.New("Instagram requires at least one image or video")
)

// GraphAPI is the subset of graph.Client used for publishing.
type GraphAPI interface {
	CreateImageContainer(ctx context.Context, igUserID, token, imageURL, caption string, carouselItem bool) (string, error)
	CreateVideoContainer(ctx context.Context, igUserID, token, videoURL, caption string, carouselItem bool) (string, error)
	CreateCarouselContainer(ctx context.Context, igUserID, token string, children []string, caption string) (string, error)
	Publish(ctx context.Context, igUserID, token, creationID string) (string, error)
	WaitForContainer(ctx context.Context, containerID, token string, timeout time.Duration) error

	PublishPhoto(ctx context.Context, pageID, token, photoURL, message string) (string, error)
	PublishVideo(ctx context.Context, pageID, token, videoURL, description string) (string, error)
	PublishText(ctx context.Context, pageID, token, message string) (string, error)
	UploadUnpublishedPhoto(ctx context.Context, pageID, token, photoURL string) (string, error)
	PublishMultiPhoto(ctx context.Context, pageID, token string, mediaIDs []string, message string) (string, error)
}

// URLResolver turns a stored media reference into a URL the Graph API can fetch.
type URLResolver interface {
	ResolveURL(ctx context.Context, ref string) (string, error)
}

// PassthroughResolver accepts only absolute http(s) URLs.
type PassthroughResolver struct{}

func (PassthroughResolver) ResolveURL(_ context.Context, ref string) (string, error) {
	if IsAbsoluteURL(ref) {
		return ref, nil
	}
	return "", fmt.Errorf("media %q is not a public URL", ref)
}

// IsAbsoluteURL reports whether ref is an http(s) URL rather than a storage key.
func IsAbsoluteURL(ref string) bool {
	return strings.HasPrefix(ref, "https://") || strings.HasPrefix(ref, "http://")
}

// PlatformResult is the outcome on one platform. PostID may be set alongside
// Err when part of the post already went live before the failure.
type PlatformResult struct {
	Platform string
	PostID   string
	Err      error
}

// Live reports whether anything was published on the platform.
func (r PlatformResult) Live() bool { return r.PostID != "" }

// Result is the outcome of one publish attempt.
type Result struct {
	Status    string
	Platforms []PlatformResult
}

// PostIDs returns the platform post IDs of every platform with live content.
func (r Result) PostIDs() map[string]string {
	out := make(map[string]string)
	for _, p := range r.Platforms {
		if p.Live() {
			out[p.Platform] = p.PostID
		}
	}
	return out
}

// Errors returns the error message of each failed platform.
func (r Result) Errors() map[string]string {
	out := make(map[string]string)
	for _, p := range r.Platforms {
		if p.Err != nil {
			out[p.Platform] = p.Err.Error()
		}
	}
	return out
}

// Err joins the platform errors, or returns nil when every platform succeeded.
func (r Result) Err() error {
	var errs []error
	for _, p := range r.Platforms {
		if p.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", p.Platform, p.Err))
		}
	}
	return errors.Join(errs...)
}

// Publisher publishes posts through the Graph API.
type Publisher struct {
	graph        GraphAPI
	urls         URLResolver
	videoTimeout time.Duration
}

// NewPublisher creates a Publisher. A nil resolver accepts only absolute URLs.
func NewPublisher(g GraphAPI, urls URLResolver) *Publisher {
	if urls == nil {
		urls = PassthroughResolver{}
	}
	return &Publisher{graph: g, urls: urls, videoTimeout: 5 * time.Minute}
}

// SetVideoTimeout bounds how long a video container may take to process.
func (p *Publisher) SetVideoTimeout(d time.Duration) { p.videoTimeout = d }

// Targets expands a post platform into the platforms it publishes to, in order.
func Targets(platform string) []string {
	switch platform {
	case store.PlatformInstagram:
		return []string{store.PlatformInstagram}
	case store.PlatformFacebook:
		return []string{store.PlatformFacebook}
	case store.PlatformBoth:
		return []string{store.PlatformInstagram, store.PlatformFacebook}
	default:
		return nil
	}
}

// Publish publishes post with the user's Meta credentials.
func (p *Publisher) Publish(ctx context.Context, post *store.Post, creds *store.MetaCredentials) Result {
	targets := Targets(post.Platform)
	if len(targets) == 0 {
		return failAll([]string{post.Platform}, fmt.Errorf("unknown platform %q", post.Platform))
	}

	media := post.Media()
	if len(media) > graph.MaxCarouselItems {
		return failAll(targets, ErrTooManyMedia)
	}
	if creds == nil {
		return failAll(targets, errNotConnected)
	}
	page, ok := creds.FindPage(post.PageID)
	if !ok {
		return failAll(targets, errNoPage)
	}

	urls, err := p.resolve(ctx, media)
	if err != nil {
		return failAll(targets, err)
	}
	message := graph.FormatMessage(post.Caption, post.Hashtags)

	logger := log.With().Str("postId", post.ID).Str("pageId", page.ID).Int("media", len(urls)).Logger()
	res := Result{}
	for _, platform := range targets {
		var id string
		var err error
		switch platform {
		case store.PlatformInstagram:
			id, err = p.publishInstagram(ctx, page, urls, message)
		case store.PlatformFacebook:
			id, err = p.publishFacebook(ctx, page, urls, message)
		}
		if err != nil {
			logger.Error().Err(err).Str("platform", platform).Msg("Publish failed")
		} else {
			logger.Info().Str("platform", platform).Str("platformPostId", id).Msg("Published")
		}
		res.Platforms = append(res.Platforms, PlatformResult{Platform: platform, PostID: id, Err: err})
	}
	res.Status = overallStatus(res.Platforms)
	return res
}

func (p *Publisher) resolve(ctx context.Context, media []string) ([]string, error) {
	urls := make([]string, 0, len(media))
	for i, ref := range media {
		u, err := p.urls.ResolveURL(ctx, ref)
		if err != nil {
			return nil, fmt.Errorf("resolve media item %d: %w", i+1, err)
		}
		urls = append(urls, u)
	}
	return urls, nil
}

func (p *Publisher) publishInstagram(ctx context.Context, page *store.Page, urls []string, caption string) (string, error) {
	if len(page.Instagram) == 0 {
		return "", errNoInstagram
	}
	igUser := page.Instagram[0].ID
	token := page.AccessToken

	switch len(urls) {
	case 0:
		return "", errInstagramNone
	case 1:
		containerID, err := p.igContainer(ctx, igUser, token, urls[0], caption, false)
		if err != nil {
			return "", err
		}
		return p.graph.Publish(ctx, igUser, token, containerID)
	}

	children := make([]string, 0, len(urls))
	for i, u := range urls {
		id, err := p.igContainer(ctx, igUser, token, u, "", true)
		if err != nil {
			return "", fmt.Errorf("carousel item %d: %w", i+1, err)
		}
		children = append(children, id)
	}
	carouselID, err := p.graph.CreateCarouselContainer(ctx, igUser, token, children, caption)
	if err != nil {
		return "", err
	}
	return p.graph.Publish(ctx, igUser, token, carouselID)
}

// igContainer creates one container and, for video, waits for processing.
func (p *Publisher) igContainer(ctx context.Context, igUser, token, u, caption string, carouselItem bool) (string, error) {
	if !graph.IsVideoURL(u) {
		return p.graph.CreateImageContainer(ctx, igUser, token, u, caption, carouselItem)
	}
	id, err := p.graph.CreateVideoContainer(ctx, igUser, token, u, caption, carouselItem)
	if err != nil {
		return "", err
	}
	if err := p.graph.WaitForContainer(ctx, id, token, p.videoTimeout); err != nil {
		return "", err
	}
	return id, nil
}

func (p *Publisher) publishFacebook(ctx context.Context, page *store.Page, urls []string, message string) (string, error) {
	token := page.AccessToken
	switch len(urls) {
	case 0:
		return p.graph.PublishText(ctx, page.ID, token, message)
	case 1:
		if graph.IsVideoURL(urls[0]) {
			return p.graph.PublishVideo(ctx, page.ID, token, urls[0], message)
		}
		return p.graph.PublishPhoto(ctx, page.ID, token, urls[0], message)
	}

	// Unpublished video cannot be attached to a feed post, so videos go out
	// on their own and only photos are grouped. Every photo is uploaded
	// before anything goes live, so a failed upload leaves nothing on the
	// page and the post can be retried.
	var photoIDs, videoURLs []string
	for i, u := range urls {
		if graph.IsVideoURL(u) {
			videoURLs = append(videoURLs, u)
			continue
		}
		id, err := p.graph.UploadUnpublishedPhoto(ctx, page.ID, token, u)
		if err != nil {
			return "", fmt.Errorf("multi-media item %d: %w", i+1, err)
		}
		photoIDs = append(photoIDs, id)
	}

	// From here on a failure may follow live content. The first live ID is
	// returned with the error so the attempt is not repeated.
	var liveID string
	for _, u := range videoURLs {
		id, err := p.graph.PublishVideo(ctx, page.ID, token, u, message)
		if err != nil {
			return liveID, fmt.Errorf("video %s: %w", u, err)
		}
		if liveID == "" {
			liveID = id
		}
	}
	if len(photoIDs) == 0 {
		return liveID, nil
	}
	id, err := p.graph.PublishMultiPhoto(ctx, page.ID, token, photoIDs, message)
	if err != nil {
		return liveID, err
	}
	return id, nil
}

func failAll(platforms []string, err error) Result {
	res := Result{Status: store.PostFailed}
	for _, pl := range platforms {
		res.Platforms = append(res.Platforms, PlatformResult{Platform: pl, Err: err})
	}
	return res
}

// overallStatus reports partial, not failed, whenever any platform has live
// content, so a retry never publishes the same media twice.
func overallStatus(results []PlatformResult) string {
	ok, live := 0, 0
	for _, r := range results {
		if r.Err == nil {
			ok++
		}
		if r.Err == nil || r.Live() {
			live++
		}
	}
	switch {
	case ok == len(results) && ok > 0:
		return store.PostPosted
	case live > 0:
		return store.PostPartial
	default:
		return store.PostFailed
	}
}
