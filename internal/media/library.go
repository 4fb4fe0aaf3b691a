// Package media manages the user's media library in S3: presigned uploads,
// registration with EXIF capture dates and thumbnails, presigned reads for
// publishing, and storage quotas.
package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/fpang/social-scheduler/internal/billing"
	"github.com/fpang/social-scheduler/internal/publish"
	"github.com/fpang/social-scheduler/internal/store"
)

const (
	// UploadURLExpiry is how long a presigned PUT stays valid.
	UploadURLExpiry = 15 * time.Minute
	// PublishURLExpiry covers the Graph API fetching media during a publish,
	// including video processing.
	PublishURLExpiry = time.Hour
)

// S3API is the subset of the S3 client the library uses.
type S3API interface {
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// Presigner is the subset of s3.PresignClient the library uses.
type Presigner interface {
	PresignPutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
	PresignGetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// Store is the persistence the library needs.
type Store interface {
	store.MediaStore
	GetProfile(ctx context.Context, userID string) (*store.Profile, error)
}

// Library is a user's media collection in one bucket.
type Library struct {
	s3        S3API
	presigner Presigner
	bucket    string
	store     Store
	now       func() time.Time
}

// NewLibrary creates a Library over bucket.
func NewLibrary(client S3API, presigner Presigner, bucket string, st Store) *Library {
	return &Library{s3: client, presigner: presigner, bucket: bucket, store: st, now: time.Now}
}

// Upload is a presigned PUT for a new object.
type Upload struct {
	URL       string    `json:"uploadUrl"`
	Key       string    `json:"key"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// UploadURL presigns a PUT for a new object after checking the file and the
// user's storage quota.
func (l *Library) UploadURL(ctx context.Context, userID, filename, contentType string, size int64) (*Upload, error) {
	filename = path.Base(filename)
	if err := ValidateFilename(filename); err != nil {
		return nil, err
	}
	if err := Validate(contentType, size); err != nil {
		return nil, err
	}
	if err := l.checkQuota(ctx, userID, size); err != nil {
		return nil, err
	}

	key := fmt.Sprintf("%s%s/%s", userPrefix(userID), uuid.New().String(), filename)
	req, err := l.presigner.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(l.bucket),
		Key:           aws.String(key),
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(size),
	}, s3.WithPresignExpires(UploadURLExpiry))
	if err != nil {
		log.Error().Err(err).Str("key", key).Msg("Failed to presign upload")
		return nil, fmt.Errorf("presign upload: %w", err)
	}
	return &Upload{URL: req.URL, Key: key, ExpiresAt: l.now().Add(UploadURLExpiry).UTC()}, nil
}

func (l *Library) checkQuota(ctx context.Context, userID string, size int64) error {
	profile, err := l.store.GetProfile(ctx, userID)
	if err != nil {
		return fmt.Errorf("load profile: %w", err)
	}
	limit := billing.StorageLimitBytes(profile)
	if limit == billing.UnlimitedStorage {
		return nil
	}
	used, err := l.store.MediaUsageBytes(ctx, userID)
	if err != nil {
		return fmt.Errorf("media usage: %w", err)
	}
	if used+size > limit {
		log.Info().Str("userId", userID).Int64("used", used).Int64("size", size).Int64("limit", limit).Msg("Upload rejected by storage limit")
		return fmt.Errorf("%w: %d MB used of %d MB", ErrStorageLimit, used>>20, limit>>20)
	}
	return nil
}

// Register records an uploaded object in the library. Images get a capture
// date from EXIF and a JPEG thumbnail; failures there are logged and the
// asset is still registered.
func (l *Library) Register(ctx context.Context, userID, key string) (*store.MediaAsset, error) {
	if err := ValidateKey(userID, key); err != nil {
		return nil, err
	}
	head, err := l.s3.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(l.bucket), Key: aws.String(key)})
	if err != nil {
		return nil, fmt.Errorf("%w: object not found: %v", ErrInvalidKey, err)
	}
	contentType := aws.ToString(head.ContentType)
	size := aws.ToInt64(head.ContentLength)
	if err := Validate(contentType, size); err != nil {
		return nil, err
	}

	parts := strings.Split(strings.TrimPrefix(key, userPrefix(userID)), "/")
	asset := &store.MediaAsset{
		ID:          parts[0],
		UserID:      userID,
		Key:         key,
		Filename:    parts[1],
		ContentType: contentType,
		Size:        size,
		CreatedAt:   l.now().UTC(),
	}

	if !IsVideo(contentType) {
		l.processImage(ctx, asset)
	}

	if err := l.store.PutMediaAsset(ctx, asset); err != nil {
		return nil, fmt.Errorf("store media asset: %w", err)
	}
	log.Info().Str("userId", userID).Str("assetId", asset.ID).Str("contentType", contentType).Int64("size", size).Msg("Media registered")
	return asset, nil
}

func (l *Library) processImage(ctx context.Context, asset *store.MediaAsset) {
	logger := log.With().Str("key", asset.Key).Logger()
	obj, err := l.s3.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(l.bucket), Key: aws.String(asset.Key)})
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to download image for processing")
		return
	}
	defer obj.Body.Close()
	data, err := io.ReadAll(io.LimitReader(obj.Body, MaxPhotoSize))
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to read image for processing")
		return
	}

	if captured, ok, err := CaptureDate(data); err != nil {
		logger.Debug().Err(err).Msg("No EXIF metadata")
	} else if ok {
		c := captured.UTC()
		asset.CapturedAt = &c
	}

	thumb, w, h, err := Thumbnail(data, ThumbnailMaxDimension)
	if err != nil {
		logger.Warn().Err(err).Msg("Thumbnail generation failed")
		return
	}
	asset.Width, asset.Height = w, h
	thumbKey := "thumbs/" + asset.UserID + "/" + asset.ID + ".jpg"
	_, err = l.s3.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(l.bucket),
		Key:         aws.String(thumbKey),
		Body:        bytes.NewReader(thumb),
		ContentType: aws.String("image/jpeg"),
	})
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to upload thumbnail")
		return
	}
	asset.ThumbnailKey = thumbKey
}

// PresignGet returns a temporary read URL for key.
func (l *Library) PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error) {
	req, err := l.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(l.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", fmt.Errorf("presign get %s: %w", key, err)
	}
	return req.URL, nil
}

// ResolveURL turns a post's media reference into a fetchable URL. Absolute
// URLs pass through; library keys are presigned.
func (l *Library) ResolveURL(ctx context.Context, ref string) (string, error) {
	if publish.IsAbsoluteURL(ref) {
		return ref, nil
	}
	if !strings.HasPrefix(ref, "media/") {
		return "", fmt.Errorf("%w: %s", ErrInvalidKey, ref)
	}
	return l.PresignGet(ctx, ref, PublishURLExpiry)
}

// Asset is a library entry with read URLs for display.
type Asset struct {
	*store.MediaAsset
	URL          string `json:"url"`
	ThumbnailURL string `json:"thumbnailUrl,omitempty"`
}

// List returns the user's assets with presigned URLs valid for ttl.
func (l *Library) List(ctx context.Context, userID string, ttl time.Duration) ([]Asset, error) {
	assets, err := l.store.ListMediaAssets(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]Asset, 0, len(assets))
	for _, a := range assets {
		entry := Asset{MediaAsset: a}
		if entry.URL, err = l.PresignGet(ctx, a.Key, ttl); err != nil {
			return nil, err
		}
		if a.ThumbnailKey != "" {
			if entry.ThumbnailURL, err = l.PresignGet(ctx, a.ThumbnailKey, ttl); err != nil {
				return nil, err
			}
		}
		out = append(out, entry)
	}
	return out, nil
}

// Get returns one asset, or store.ErrNotFound.
func (l *Library) Get(ctx context.Context, userID, assetID string) (*store.MediaAsset, error) {
	a, err := l.store.GetMediaAsset(ctx, userID, assetID)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, store.ErrNotFound
	}
	return a, nil
}

// Delete removes an asset's objects and its record.
func (l *Library) Delete(ctx context.Context, userID, assetID string) error {
	a, err := l.Get(ctx, userID, assetID)
	if err != nil {
		return err
	}
	for _, key := range []string{a.Key, a.ThumbnailKey} {
		if key == "" {
			continue
		}
		if _, err := l.s3.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(l.bucket), Key: aws.String(key)}); err != nil {
			return fmt.Errorf("delete object %s: %w", key, err)
		}
	}
	if err := l.store.DeleteMediaAsset(ctx, userID, assetID); err != nil {
		return err
	}
	log.Info().Str("userId", userID).Str("assetId", assetID).Msg("Media deleted")
	return nil
}

// IsClientError reports whether err is a validation or quota failure.
func IsClientError(err error) bool {
	return errors.Is(err, ErrUnsupportedType) || errors.Is(err, ErrTooLarge) ||
		errors.Is(err, ErrInvalidFilename) || errors.Is(err, ErrInvalidKey)
}
