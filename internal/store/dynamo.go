package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Single-table key layout.
const (
	userPrefix  = "USER#"
	orderPrefix = "ORDER#"
	queuePrefix = "QUEUE#"
	metaPrefix  = "META#"

	skProfile = "PROFILE"
	skPost    = "POST#"
	skMedia   = "MEDIA#"
	skInvoice = "INVOICE#"
	skSub     = "SUB#"
	skTopUp   = "TOPUP#"
	skOrder   = "ORDER"
	skPayment = "PAYMENT#"
	skQueue   = "QUEUE"
	skLink    = "LINK"

	gsi1Name         = "GSI1"
	gsiScheduled     = "STATUS#" + PostScheduled
	gsiQueuePrefix   = "QUEUE#"
	gsiGatewaySubPfx = "GATEWAYSUB#"

	// QueueTTL is how long finished queue entries are kept before DynamoDB expires them.
	QueueTTL = 30 * 24 * time.Hour

	// sortableTime orders lexicographically the same way it orders chronologically.
	sortableTime = "2006-01-02T15:04:05.000Z"
)

// DynamoAPI is the subset of the DynamoDB client used by DynamoStore.
type DynamoAPI interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// DynamoStore implements Store on a single DynamoDB table.
type DynamoStore struct {
	client    DynamoAPI
	tableName string
	now       func() time.Time
}

// Compile-time interface check.
var _ Store = (*DynamoStore)(nil)

// NewDynamoStore creates a DynamoStore for the given table.
func NewDynamoStore(client DynamoAPI, tableName string) *DynamoStore {
	return &DynamoStore{
		client:    client,
		tableName: tableName,
		now:       time.Now,
	}
}

// TableName returns the backing table name.
func (s *DynamoStore) TableName() string { return s.tableName }

// --- Internal helpers ---

func userPK(userID string) string  { return userPrefix + userID }
func orderPK(orderID string) string { return orderPrefix + orderID }
func queuePK(postID string) string  { return queuePrefix + postID }

func sortKeyTime(t time.Time) string { return t.UTC().Format(sortableTime) }

func str(v string) types.AttributeValue { return &types.AttributeValueMemberS{Value: v} }

func num(v int64) types.AttributeValue {
	return &types.AttributeValueMemberN{Value: strconv.FormatInt(v, 10)}
}

func key(pk, sk string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{"PK": str(pk), "SK": str(sk)}
}

func isConditionFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	return errors.As(err, &ccf)
}

// conditionFailure maps a failed condition written with ALL_OLD return values:
// ErrNotFound when no item existed, ErrConflict when the item failed the
// guard. Returns nil for any other error.
func conditionFailure(err error) error {
	var ccf *types.ConditionalCheckFailedException
	if !errors.As(err, &ccf) {
		return nil
	}
	if len(ccf.Item) == 0 {
		return ErrNotFound
	}
	return ErrConflict
}

// putOptions adjusts a single PutItem call.
type putOptions struct {
	extra     map[string]types.AttributeValue
	condition string
	names     map[string]string
	values    map[string]types.AttributeValue
	// returnOld asks DynamoDB to attach the existing item to a failed condition.
	returnOld bool
}

// putItem marshals data and writes it with PK, SK and any extra attributes
// (GSI keys, TTL). Conditional failures surface as *types.ConditionalCheckFailedException.
func (s *DynamoStore) putItem(ctx context.Context, pk, sk string, data interface{}, opts putOptions) error {
	item, err := attributevalue.MarshalMap(data)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	item["PK"] = str(pk)
	item["SK"] = str(sk)
	for k, v := range opts.extra {
		item[k] = v
	}

	input := &dynamodb.PutItemInput{
		TableName: &s.tableName,
		Item:      item,
	}
	if opts.condition != "" {
		input.ConditionExpression = aws.String(opts.condition)
	}
	if len(opts.names) > 0 {
		input.ExpressionAttributeNames = opts.names
	}
	if len(opts.values) > 0 {
		input.ExpressionAttributeValues = opts.values
	}
	if opts.returnOld {
		input.ReturnValuesOnConditionCheckFailure = types.ReturnValuesOnConditionCheckFailureAllOld
	}
	if _, err := s.client.PutItem(ctx, input); err != nil {
		return fmt.Errorf("PutItem PK=%s SK=%s: %w", pk, sk, err)
	}
	return nil
}

// getItem reads one item into out. Returns false if the item does not exist.
func (s *DynamoStore) getItem(ctx context.Context, pk, sk string, out interface{}) (bool, error) {
	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      &s.tableName,
		Key:            key(pk, sk),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return false, fmt.Errorf("GetItem PK=%s SK=%s: %w", pk, sk, err)
	}
	if result.Item == nil {
		return false, nil
	}
	if err := attributevalue.UnmarshalMap(result.Item, out); err != nil {
		return false, fmt.Errorf("unmarshal PK=%s SK=%s: %w", pk, sk, err)
	}
	return true, nil
}

func (s *DynamoStore) deleteItem(ctx context.Context, pk, sk string) error {
	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: &s.tableName,
		Key:       key(pk, sk),
	})
	if err != nil {
		return fmt.Errorf("DeleteItem PK=%s SK=%s: %w", pk, sk, err)
	}
	return nil
}

// updateExisting runs an UpdateItem that must hit an existing item. A missing
// item is reported as ErrNotFound.
func (s *DynamoStore) updateExisting(ctx context.Context, pk, sk, expr string, names map[string]string, values map[string]types.AttributeValue) error {
	return s.updateGuarded(ctx, pk, sk, expr, "", names, values)
}

// updateGuarded is updateExisting with an extra condition on the existing
// item. A failed guard is reported as ErrConflict.
func (s *DynamoStore) updateGuarded(ctx context.Context, pk, sk, expr, guard string, names map[string]string, values map[string]types.AttributeValue) error {
	cond := "attribute_exists(PK)"
	if guard != "" {
		cond += " AND (" + guard + ")"
	}
	input := &dynamodb.UpdateItemInput{
		TableName:                           &s.tableName,
		Key:                                 key(pk, sk),
		UpdateExpression:                    aws.String(expr),
		ConditionExpression:                 aws.String(cond),
		ExpressionAttributeValues:           values,
		ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
	}
	if len(names) > 0 {
		input.ExpressionAttributeNames = names
	}
	if _, err := s.client.UpdateItem(ctx, input); err != nil {
		if cerr := conditionFailure(err); cerr != nil {
			return cerr
		}
		return fmt.Errorf("UpdateItem PK=%s SK=%s: %w", pk, sk, err)
	}
	return nil
}

// queryBySKPrefix returns every item in a partition whose SK begins with prefix.
func (s *DynamoStore) queryBySKPrefix(ctx context.Context, pk, skPrefix string) ([]map[string]types.AttributeValue, error) {
	input := &dynamodb.QueryInput{
		TableName:              &s.tableName,
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :skPrefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":       str(pk),
			":skPrefix": str(skPrefix),
		},
	}
	return s.queryAll(ctx, input, 0)
}

// queryAll follows LastEvaluatedKey until the result set is exhausted or limit
// items were collected (limit <= 0 means no limit).
func (s *DynamoStore) queryAll(ctx context.Context, input *dynamodb.QueryInput, limit int) ([]map[string]types.AttributeValue, error) {
	var items []map[string]types.AttributeValue
	for {
		result, err := s.client.Query(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("Query: %w", err)
		}
		items = append(items, result.Items...)
		if limit > 0 && len(items) >= limit {
			return items[:limit], nil
		}
		if result.LastEvaluatedKey == nil {
			return items, nil
		}
		input.ExclusiveStartKey = result.LastEvaluatedKey
	}
}

// queryGSI1 queries the secondary index with a partition value and an optional
// sort key upper bound.
func (s *DynamoStore) queryGSI1(ctx context.Context, pk, skUpper string, limit int) ([]map[string]types.AttributeValue, error) {
	cond := "GSI1PK = :pk"
	values := map[string]types.AttributeValue{":pk": str(pk)}
	if skUpper != "" {
		cond += " AND GSI1SK <= :upper"
		values[":upper"] = str(skUpper)
	}
	input := &dynamodb.QueryInput{
		TableName:                 &s.tableName,
		IndexName:                 aws.String(gsi1Name),
		KeyConditionExpression:    aws.String(cond),
		ExpressionAttributeValues: values,
		ScanIndexForward:          aws.Bool(true),
	}
	if limit > 0 {
		input.Limit = aws.Int32(int32(limit))
	}
	return s.queryAll(ctx, input, limit)
}

func (s *DynamoStore) countGSI1(ctx context.Context, pk string) (int, error) {
	input := &dynamodb.QueryInput{
		TableName:                 &s.tableName,
		IndexName:                 aws.String(gsi1Name),
		KeyConditionExpression:    aws.String("GSI1PK = :pk"),
		ExpressionAttributeValues: map[string]types.AttributeValue{":pk": str(pk)},
		Select:                    types.SelectCount,
	}
	total := 0
	for {
		result, err := s.client.Query(ctx, input)
		if err != nil {
			return 0, fmt.Errorf("Query count GSI1PK=%s: %w", pk, err)
		}
		total += int(result.Count)
		if result.LastEvaluatedKey == nil {
			return total, nil
		}
		input.ExclusiveStartKey = result.LastEvaluatedKey
	}
}

func unmarshalAll[T any](items []map[string]types.AttributeValue) ([]*T, error) {
	out := make([]*T, 0, len(items))
	for _, item := range items {
		var v T
		if err := attributevalue.UnmarshalMap(item, &v); err != nil {
			return nil, fmt.Errorf("unmarshal: %w", err)
		}
		out = append(out, &v)
	}
	return out, nil
}
