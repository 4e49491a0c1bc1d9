package store

import (
	"context"
	"errors"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/skiatlas/internal/model"
)

// DynamoAPI is the subset of the DynamoDB client used by DynamoStore.
type DynamoAPI interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	Scan(ctx context.Context, in *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	DescribeTable(ctx context.Context, in *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
	CreateTable(ctx context.Context, in *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error)
}

// DynamoStore implements AreaStore on a DynamoDB table keyed by resortId.
type DynamoStore struct {
	client DynamoAPI
	table  string
}

// NewDynamo creates a DynamoStore for table.
func NewDynamo(client DynamoAPI, table string) *DynamoStore {
	return &DynamoStore{client: client, table: table}
}

// NewDynamoClient builds a DynamoDB client with an optional endpoint override.
func NewDynamoClient(awsCfg aws.Config, endpoint *string) *dynamodb.Client {
	return dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if endpoint != nil {
			o.BaseEndpoint = endpoint
		}
	})
}

// dynamoItem is the item layout; attribute names match the records the
// service has always written.
type dynamoItem struct {
	ResortID          string `dynamodbav:"resortId"`
	ResortName        string `dynamodbav:"resortName"`
	Country           string `dynamodbav:"country"`
	Province          string `dynamodbav:"province"`
	GeoData           string `dynamodbav:"geoData,omitempty"`
	DetailedDataS3Key string `dynamodbav:"detailedDataS3Key,omitempty"`
	LastUpdated       string `dynamodbav:"lastUpdated"`
}

func (s *DynamoStore) key(slug string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"resortId": &types.AttributeValueMemberS{Value: slug},
	}
}

func (s *DynamoStore) PutBasic(ctx context.Context, rec model.AreaRecord) error {
	item, err := attributevalue.MarshalMap(dynamoItem{
		ResortID:          rec.Slug,
		ResortName:        rec.Name,
		Country:           rec.Country,
		Province:          rec.Province,
		GeoData:           string(rec.GeoData),
		DetailedDataS3Key: rec.DetailKey,
		LastUpdated:       formatTime(rec.LastUpdated),
	})
	if err != nil {
		return eris.Wrapf(err, "dynamo: marshal area %s", rec.Slug)
	}

	if _, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item:      item,
	}); err != nil {
		return eris.Wrapf(err, "dynamo: put area %s", rec.Slug)
	}
	return nil
}

func (s *DynamoStore) UpdateLocation(ctx context.Context, slug string, loc model.AdminLocation, at time.Time) error {
	return s.update(ctx, slug, "dynamo: update location",
		"SET country = :country, province = :province, lastUpdated = :updated",
		map[string]types.AttributeValue{
			":country":  &types.AttributeValueMemberS{Value: loc.Country},
			":province": &types.AttributeValueMemberS{Value: loc.Province},
			":updated":  &types.AttributeValueMemberS{Value: formatTime(at)},
		},
	)
}

func (s *DynamoStore) UpdateDetail(ctx context.Context, slug, key string, at time.Time) error {
	return s.update(ctx, slug, "dynamo: update detail",
		"SET detailedDataS3Key = :key, lastUpdated = :updated",
		map[string]types.AttributeValue{
			":key":     &types.AttributeValueMemberS{Value: key},
			":updated": &types.AttributeValueMemberS{Value: formatTime(at)},
		},
	)
}

// update applies a SET expression to an existing item only.
func (s *DynamoStore) update(ctx context.Context, slug, op, expr string, values map[string]types.AttributeValue) error {
	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(s.table),
		Key:                       s.key(slug),
		UpdateExpression:          aws.String(expr),
		ConditionExpression:       aws.String("attribute_exists(resortId)"),
		ExpressionAttributeValues: values,
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return eris.Wrapf(ErrNotFound, "%s %s", op, slug)
		}
		return eris.Wrapf(err, "%s %s", op, slug)
	}
	return nil
}

func (s *DynamoStore) Get(ctx context.Context, slug string) (*model.AreaRecord, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            s.key(slug),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, eris.Wrapf(err, "dynamo: get area %s", slug)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}

	var item dynamoItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return nil, eris.Wrapf(err, "dynamo: unmarshal area %s", slug)
	}

	rec := &model.AreaRecord{
		Slug:      item.ResortID,
		Name:      item.ResortName,
		Country:   item.Country,
		Province:  item.Province,
		DetailKey: item.DetailedDataS3Key,
	}
	if item.GeoData != "" {
		rec.GeoData = []byte(item.GeoData)
	}
	if item.LastUpdated != "" {
		if rec.LastUpdated, err = time.Parse(time.RFC3339Nano, item.LastUpdated); err != nil {
			zap.L().Warn("dynamo: unparseable lastUpdated", zap.String("slug", slug), zap.Error(err))
		}
	}
	return rec, nil
}

// Count scans the table with Select=COUNT, following pagination.
func (s *DynamoStore) Count(ctx context.Context) (int, error) {
	var total int
	var start map[string]types.AttributeValue
	for {
		out, err := s.client.Scan(ctx, &dynamodb.ScanInput{
			TableName:         aws.String(s.table),
			Select:            types.SelectCount,
			ExclusiveStartKey: start,
		})
		if err != nil {
			return 0, eris.Wrap(err, "dynamo: count areas")
		}
		total += int(out.Count)
		if len(out.LastEvaluatedKey) == 0 {
			return total, nil
		}
		start = out.LastEvaluatedKey
	}
}

// Migrate creates the table with on-demand billing when it does not exist.
func (s *DynamoStore) Migrate(ctx context.Context) error {
	_, err := s.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(s.table)})
	if err == nil {
		return nil
	}
	var nf *types.ResourceNotFoundException
	if !errors.As(err, &nf) {
		return eris.Wrapf(err, "dynamo: describe table %s", s.table)
	}

	_, err = s.client.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName: aws.String(s.table),
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: aws.String("resortId"), AttributeType: types.ScalarAttributeTypeS},
		},
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String("resortId"), KeyType: types.KeyTypeHash},
		},
		BillingMode: types.BillingModePayPerRequest,
	})
	if err != nil {
		return eris.Wrapf(err, "dynamo: create table %s", s.table)
	}
	zap.L().Info("dynamo: created table", zap.String("table", s.table))
	return nil
}

func (s *DynamoStore) Close() error {
	return nil
}
