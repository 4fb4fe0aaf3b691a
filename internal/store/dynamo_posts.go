package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/rs/zerolog/log"
)

// --- Post operations ---

// postIndexKeys places scheduled posts in the sparse due-post index. Posts in
// any other status carry no GSI1 attributes and drop out of the scan.
func postIndexKeys(post *Post) map[string]types.AttributeValue {
	if post.Status != PostScheduled {
		return nil
	}
	return map[string]types.AttributeValue{
		"GSI1PK": str(gsiScheduled),
		"GSI1SK": str(sortKeyTime(post.ScheduledFor) + "#" + post.ID),
	}
}

func (s *DynamoStore) PutPost(ctx context.Context, post *Post) error {
	now := s.now().UTC()
	if post.CreatedAt.IsZero() {
		post.CreatedAt = now
	}
	post.UpdatedAt = now

	if err := s.putItem(ctx, userPK(post.UserID), skPost+post.ID, post, putOptions{extra: postIndexKeys(post)}); err != nil {
		return fmt.Errorf("put post %s: %w", post.ID, err)
	}
	log.Debug().
		Str("postId", post.ID).
		Str("userId", post.UserID).
		Str("status", post.Status).
		Time("scheduledFor", post.ScheduledFor).
		Int("media", len(post.Media())).
		Msg("Post persisted")
	return nil
}

func (s *DynamoStore) GetPost(ctx context.Context, userID, postID string) (*Post, error) {
	var post Post
	found, err := s.getItem(ctx, userPK(userID), skPost+postID, &post)
	if err != nil {
		return nil, fmt.Errorf("get post %s: %w", postID, err)
	}
	if !found {
		return nil, nil
	}
	return &post, nil
}

func (s *DynamoStore) DeletePost(ctx context.Context, userID, postID string) error {
	if err := s.deleteItem(ctx, userPK(userID), skPost+postID); err != nil {
		return fmt.Errorf("delete post %s: %w", postID, err)
	}
	return nil
}

func (s *DynamoStore) ListPostsByUser(ctx context.Context, userID, status string) ([]*Post, error) {
	items, err := s.queryBySKPrefix(ctx, userPK(userID), skPost)
	if err != nil {
		return nil, fmt.Errorf("list posts for %s: %w", userID, err)
	}
	posts, err := unmarshalAll[Post](items)
	if err != nil {
		return nil, fmt.Errorf("list posts for %s: %w", userID, err)
	}
	return filterAndSortPosts(posts, status), nil
}

func filterAndSortPosts(posts []*Post, status string) []*Post {
	out := posts[:0]
	for _, p := range posts {
		if status == "" || p.Status == status {
			out = append(out, p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].ScheduledFor.After(out[j].ScheduledFor)
	})
	return out
}

func (s *DynamoStore) ListDuePosts(ctx context.Context, now time.Time, limit int) ([]*Post, error) {
	// '~' sorts after every character used in post IDs, so the bound
	// includes posts scheduled exactly at now.
	upper := sortKeyTime(now) + "#~"
	items, err := s.queryGSI1(ctx, gsiScheduled, upper, limit)
	if err != nil {
		return nil, fmt.Errorf("list due posts: %w", err)
	}
	posts, err := unmarshalAll[Post](items)
	if err != nil {
		return nil, fmt.Errorf("list due posts: %w", err)
	}
	log.Debug().Int("count", len(posts)).Time("now", now).Msg("Due posts listed")
	return posts, nil
}

// postUpdateAttempts bounds the read-modify-write rounds of UpdatePostStatus.
const postUpdateAttempts = 3

func (s *DynamoStore) ReplacePost(ctx context.Context, post *Post, prevStatus string, prevUpdatedAt time.Time) error {
	if err := s.putPostGuarded(ctx, post, prevStatus, prevUpdatedAt); err != nil {
		return err
	}
	log.Debug().Str("postId", post.ID).Str("status", post.Status).Msg("Post replaced")
	return nil
}

func (s *DynamoStore) UpdatePostStatus(ctx context.Context, userID, postID string, upd PostUpdate) error {
	for attempt := 1; ; attempt++ {
		post, err := s.GetPost(ctx, userID, postID)
		if err != nil {
			return err
		}
		if post == nil {
			return ErrNotFound
		}
		if !upd.allows(post.Status) {
			return ErrConflict
		}
		prevStatus, prevUpdatedAt := post.Status, post.UpdatedAt
		applyPostUpdate(post, upd)
		err = s.putPostGuarded(ctx, post, prevStatus, prevUpdatedAt)
		if !errors.Is(err, ErrConflict) || attempt == postUpdateAttempts {
			return err
		}
		log.Debug().Str("postId", postID).Int("attempt", attempt).Msg("Post changed during status update, retrying")
	}
}

// putPostGuarded writes post only while the stored copy still carries
// prevStatus and prevUpdatedAt.
func (s *DynamoStore) putPostGuarded(ctx context.Context, post *Post, prevStatus string, prevUpdatedAt time.Time) error {
	prevAt, err := attributevalue.Marshal(prevUpdatedAt)
	if err != nil {
		return fmt.Errorf("marshal updatedAt: %w", err)
	}
	if post.CreatedAt.IsZero() {
		post.CreatedAt = s.now().UTC()
	}
	post.UpdatedAt = s.now().UTC()

	err = s.putItem(ctx, userPK(post.UserID), skPost+post.ID, post, putOptions{
		extra:     postIndexKeys(post),
		condition: "attribute_exists(PK) AND #st = :prevStatus AND updatedAt = :prevAt",
		names:     map[string]string{"#st": "status"},
		values: map[string]types.AttributeValue{
			":prevStatus": str(prevStatus),
			":prevAt":     prevAt,
		},
		returnOld: true,
	})
	if err != nil {
		if cerr := conditionFailure(err); cerr != nil {
			return cerr
		}
		return fmt.Errorf("put post %s: %w", post.ID, err)
	}
	return nil
}

func applyPostUpdate(post *Post, upd PostUpdate) {
	if upd.Status != "" {
		post.Status = upd.Status
	}
	if upd.MetaPostIDs != nil {
		post.MetaPostIDs = upd.MetaPostIDs
	}
	if upd.MetaErrors != nil {
		post.MetaErrors = upd.MetaErrors
	}
	if upd.PublishedAt != nil {
		post.PublishedAt = upd.PublishedAt
	}
	if upd.IncrementAttempts {
		post.Attempts++
	}
}

// --- Queue operations ---

func queueExtra(entry *QueueEntry, now time.Time) map[string]types.AttributeValue {
	extra := map[string]types.AttributeValue{
		"GSI1PK": str(gsiQueuePrefix + entry.Status),
		"GSI1SK": str(sortKeyTime(entry.EnqueuedAt) + "#" + entry.PostID),
	}
	if entry.Status == QueueCompleted {
		extra["expiresAt"] = num(now.Add(QueueTTL).Unix())
	}
	return extra
}

func (s *DynamoStore) EnqueuePost(ctx context.Context, entry *QueueEntry) error {
	if entry.EnqueuedAt.IsZero() {
		entry.EnqueuedAt = s.now().UTC()
	}
	if entry.Status == "" {
		entry.Status = QueuePending
	}

	err := s.putItem(ctx, queuePK(entry.PostID), skQueue, entry, putOptions{
		extra:     queueExtra(entry, s.now()),
		condition: "attribute_not_exists(PK)",
	})
	if err != nil {
		if isConditionFailed(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("enqueue post %s: %w", entry.PostID, err)
	}
	log.Debug().Str("postId", entry.PostID).Msg("Post enqueued")
	return nil
}

func (s *DynamoStore) GetQueueEntry(ctx context.Context, postID string) (*QueueEntry, error) {
	var entry QueueEntry
	found, err := s.getItem(ctx, queuePK(postID), skQueue, &entry)
	if err != nil {
		return nil, fmt.Errorf("get queue entry %s: %w", postID, err)
	}
	if !found {
		return nil, nil
	}
	return &entry, nil
}

func (s *DynamoStore) PutQueueEntry(ctx context.Context, entry *QueueEntry) error {
	if err := s.putItem(ctx, queuePK(entry.PostID), skQueue, entry, putOptions{extra: queueExtra(entry, s.now())}); err != nil {
		return fmt.Errorf("put queue entry %s: %w", entry.PostID, err)
	}
	log.Debug().
		Str("postId", entry.PostID).
		Str("status", entry.Status).
		Int("attempts", entry.Attempts).
		Msg("Queue entry persisted")
	return nil
}

func (s *DynamoStore) ListQueue(ctx context.Context, status string, limit int) ([]*QueueEntry, error) {
	items, err := s.queryGSI1(ctx, gsiQueuePrefix+status, "", limit)
	if err != nil {
		return nil, fmt.Errorf("list %s queue: %w", status, err)
	}
	return unmarshalAll[QueueEntry](items)
}

func (s *DynamoStore) QueueStats(ctx context.Context) (QueueStats, error) {
	var stats QueueStats
	counts := []struct {
		status string
		dst    *int
	}{
		{QueuePending, &stats.Pending},
		{QueueProcessing, &stats.Processing},
		{QueueCompleted, &stats.Completed},
		{QueueFailed, &stats.Failed},
	}
	var errs []error
	for _, c := range counts {
		n, err := s.countGSI1(ctx, gsiQueuePrefix+c.status)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		*c.dst = n
	}
	return stats, errors.Join(errs...)
}
