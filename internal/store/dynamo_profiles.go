package store

import (
	"context"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/rs/zerolog/log"
)

// --- Profile operations ---

func (s *DynamoStore) GetProfile(ctx context.Context, userID string) (*Profile, error) {
	var p Profile
	found, err := s.getItem(ctx, userPK(userID), skProfile, &p)
	if err != nil {
		return nil, fmt.Errorf("get profile %s: %w", userID, err)
	}
	if !found {
		return nil, nil
	}
	return &p, nil
}

func (s *DynamoStore) PutProfile(ctx context.Context, p *Profile) error {
	now := s.now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	if err := s.putItem(ctx, userPK(p.UserID), skProfile, p, putOptions{}); err != nil {
		return fmt.Errorf("put profile %s: %w", p.UserID, err)
	}
	log.Debug().
		Str("userId", p.UserID).
		Str("plan", p.Plan).
		Int("postCredits", p.PostCredits).
		Int("enhancementCredits", p.EnhancementCredits).
		Msg("Profile persisted")
	return nil
}

func (s *DynamoStore) DeductPostCredit(ctx context.Context, userID string) (int, error) {
	return s.deductCredit(ctx, userID, "postCredits")
}

func (s *DynamoStore) DeductEnhancementCredit(ctx context.Context, userID string) (int, error) {
	return s.deductCredit(ctx, userID, "enhancementCredits")
}

// deductCredit subtracts one credit in a single conditional write so that
// concurrent requests can never take the balance below zero.
func (s *DynamoStore) deductCredit(ctx context.Context, userID, attr string) (int, error) {
	out, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           &s.tableName,
		Key:                 key(userPK(userID), skProfile),
		UpdateExpression:    aws.String("SET #c = #c - :one, updatedAt = :now"),
		ConditionExpression: aws.String("#c >= :one"),
		ExpressionAttributeNames: map[string]string{
			"#c": attr,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":one": num(1),
			":now": str(s.now().UTC().Format(sortableTime)),
		},
		ReturnValues: types.ReturnValueUpdatedNew,
	})
	if err != nil {
		if isConditionFailed(err) {
			return 0, ErrInsufficientCredits
		}
		return 0, fmt.Errorf("deduct %s for %s: %w", attr, userID, err)
	}
	balance, err := intAttr(out.Attributes, attr)
	if err != nil {
		return 0, err
	}
	log.Debug().Str("userId", userID).Str("credit", attr).Int("balance", balance).Msg("Credit deducted")
	return balance, nil
}

func (s *DynamoStore) AddEnhancementCredits(ctx context.Context, userID string, n int) (int, error) {
	out, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           &s.tableName,
		Key:                 key(userPK(userID), skProfile),
		UpdateExpression:    aws.String("SET enhancementCredits = if_not_exists(enhancementCredits, :zero) + :n, updatedAt = :now"),
		ConditionExpression: aws.String("attribute_exists(PK)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":zero": num(0),
			":n":    num(int64(n)),
			":now":  str(s.now().UTC().Format(sortableTime)),
		},
		ReturnValues: types.ReturnValueUpdatedNew,
	})
	if err != nil {
		if isConditionFailed(err) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("add enhancement credits for %s: %w", userID, err)
	}
	return intAttr(out.Attributes, "enhancementCredits")
}

func (s *DynamoStore) SetMetaCredentials(ctx context.Context, userID string, creds *MetaCredentials) error {
	if creds == nil {
		return s.updateExisting(ctx, userPK(userID), skProfile, "REMOVE meta SET updatedAt = :now", nil,
			map[string]types.AttributeValue{":now": str(s.now().UTC().Format(sortableTime))})
	}
	av, err := attributevalue.Marshal(creds)
	if err != nil {
		return fmt.Errorf("marshal meta credentials: %w", err)
	}
	err = s.updateExisting(ctx, userPK(userID), skProfile, "SET meta = :m, updatedAt = :now", nil,
		map[string]types.AttributeValue{
			":m":   av,
			":now": str(s.now().UTC().Format(sortableTime)),
		})
	if err != nil || creds.UserID == "" {
		return err
	}
	link := metaLink{MetaUserID: creds.UserID, UserID: userID}
	if err := s.putItem(ctx, metaPrefix+creds.UserID, skLink, link, putOptions{}); err != nil {
		return fmt.Errorf("link meta account %s: %w", creds.UserID, err)
	}
	return nil
}

// metaLink maps a Meta account back to the user it is connected to, for
// webhooks that only name the Meta user.
type metaLink struct {
	MetaUserID string `dynamodbav:"metaUserId"`
	UserID     string `dynamodbav:"userId"`
}

func (s *DynamoStore) UserForMetaAccount(ctx context.Context, metaUserID string) (string, error) {
	var link metaLink
	found, err := s.getItem(ctx, metaPrefix+metaUserID, skLink, &link)
	if err != nil {
		return "", fmt.Errorf("get meta link %s: %w", metaUserID, err)
	}
	if !found {
		return "", nil
	}
	return link.UserID, nil
}

func intAttr(attrs map[string]types.AttributeValue, name string) (int, error) {
	n, ok := attrs[name].(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("attribute %s missing from update result", name)
	}
	v, err := strconv.Atoi(n.Value)
	if err != nil {
		return 0, fmt.Errorf("attribute %s: %w", name, err)
	}
	return v, nil
}
