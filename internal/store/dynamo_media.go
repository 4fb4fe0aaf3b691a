package store

import (
	"context"
	"fmt"
	"sort"
)

// --- Media library ---

func (s *DynamoStore) PutMediaAsset(ctx context.Context, a *MediaAsset) error {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = s.now().UTC()
	}
	if err := s.putItem(ctx, userPK(a.UserID), skMedia+a.ID, a, putOptions{}); err != nil {
		return fmt.Errorf("put media asset %s: %w", a.ID, err)
	}
	return nil
}

func (s *DynamoStore) GetMediaAsset(ctx context.Context, userID, assetID string) (*MediaAsset, error) {
	var a MediaAsset
	found, err := s.getItem(ctx, userPK(userID), skMedia+assetID, &a)
	if err != nil {
		return nil, fmt.Errorf("get media asset %s: %w", assetID, err)
	}
	if !found {
		return nil, nil
	}
	return &a, nil
}

func (s *DynamoStore) ListMediaAssets(ctx context.Context, userID string) ([]*MediaAsset, error) {
	items, err := s.queryBySKPrefix(ctx, userPK(userID), skMedia)
	if err != nil {
		return nil, fmt.Errorf("list media for %s: %w", userID, err)
	}
	assets, err := unmarshalAll[MediaAsset](items)
	if err != nil {
		return nil, err
	}
	sortAssets(assets)
	return assets, nil
}

func (s *DynamoStore) DeleteMediaAsset(ctx context.Context, userID, assetID string) error {
	if err := s.deleteItem(ctx, userPK(userID), skMedia+assetID); err != nil {
		return fmt.Errorf("delete media asset %s: %w", assetID, err)
	}
	return nil
}

func (s *DynamoStore) MediaUsageBytes(ctx context.Context, userID string) (int64, error) {
	assets, err := s.ListMediaAssets(ctx, userID)
	if err != nil {
		return 0, err
	}
	return sumSizes(assets), nil
}

func sortAssets(assets []*MediaAsset) {
	sort.SliceStable(assets, func(i, j int) bool {
		return assets[i].CreatedAt.After(assets[j].CreatedAt)
	})
}

func sumSizes(assets []*MediaAsset) int64 {
	var total int64
	for _, a := range assets {
		total += a.Size
	}
	return total
}
