package store

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/vantagebi/vantage-mcp/internal/model"
)

const (
	sortKeyDocument  = "document"
	sortKeyAnalytics = "analytics"

	// DynamoDB caps BatchWriteItem at 25 requests per call.
	batchWriteLimit = 25

	// Unprocessed items under throttling are retried with doubling delays
	// before the write fails.
	batchRetryLimit = 5
	batchRetryDelay = 50 * time.Millisecond
)

// DynamoAPI is the subset of *dynamodb.Client methods used by DynamoStore.
type DynamoAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	BatchWriteItem(ctx context.Context, params *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
}

// documentItem is the table representation of one cached document.
type documentItem struct {
	PK       string               `dynamodbav:"pk"`
	SK       string               `dynamodbav:"sk"`
	Type     string               `dynamodbav:"type"`
	Document model.CachedDocument `dynamodbav:"document"`
}

// analyticsItem is the table representation of one analytics cache entry.
// The ttl attribute lets DynamoDB reap expired items; validity is still
// checked at read time since reaping is lazy.
type analyticsItem struct {
	PK    string                    `dynamodbav:"pk"`
	SK    string                    `dynamodbav:"sk"`
	Entry model.AnalyticsCacheEntry `dynamodbav:"entry"`
	TTL   int64                     `dynamodbav:"ttl"`
}

// DynamoStore persists documents and analytics entries in a single table
// keyed by pk/sk.
type DynamoStore struct {
	client DynamoAPI
	table  string
	sleep  func(time.Duration)
}

// NewDynamoStore returns a DocumentStore backed by a DynamoDB table.
func NewDynamoStore(client DynamoAPI, table string) *DynamoStore {
	return &DynamoStore{client: client, table: table, sleep: time.Sleep}
}

func documentPK(docType model.DocumentType, id string) string {
	return string(docType) + ":" + id
}

// LoadDocuments scans the table with a type-equality filter. A table with no
// items of the type yields an empty slice.
func (s *DynamoStore) LoadDocuments(ctx context.Context, docType model.DocumentType) ([]model.CachedDocument, error) {
	if s.client == nil {
		return nil, ErrUnavailable
	}

	var docs []model.CachedDocument
	var startKey map[string]types.AttributeValue
	for {
		out, err := s.client.Scan(ctx, &dynamodb.ScanInput{
			TableName:        aws.String(s.table),
			FilterExpression: aws.String("#t = :t AND sk = :sk"),
			ExpressionAttributeNames: map[string]string{
				"#t": "type",
			},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":t":  &types.AttributeValueMemberS{Value: string(docType)},
				":sk": &types.AttributeValueMemberS{Value: sortKeyDocument},
			},
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return nil, fmt.Errorf("scan %s documents: %w", docType, err)
		}

		var items []documentItem
		if err := attributevalue.UnmarshalListOfMaps(out.Items, &items); err != nil {
			return nil, fmt.Errorf("unmarshal %s documents: %w", docType, err)
		}
		for _, item := range items {
			docs = append(docs, item.Document)
		}

		if out.LastEvaluatedKey == nil {
			break
		}
		startKey = out.LastEvaluatedKey
	}
	return docs, nil
}

// SaveDocuments replaces the partition wholesale: new documents are written
// and items no longer present are deleted.
func (s *DynamoStore) SaveDocuments(ctx context.Context, docType model.DocumentType, docs []model.CachedDocument) error {
	if s.client == nil {
		return ErrUnavailable
	}

	existing, err := s.LoadDocuments(ctx, docType)
	if err != nil {
		return err
	}

	keep := make(map[string]bool, len(docs))
	var writes []types.WriteRequest
	for _, doc := range docs {
		pk := documentPK(docType, doc.ID)
		keep[pk] = true
		av, err := attributevalue.MarshalMap(documentItem{
			PK:       pk,
			SK:       sortKeyDocument,
			Type:     string(docType),
			Document: doc,
		})
		if err != nil {
			return fmt.Errorf("marshal document %s: %w", doc.ID, err)
		}
		writes = append(writes, types.WriteRequest{
			PutRequest: &types.PutRequest{Item: av},
		})
	}
	for _, doc := range existing {
		pk := documentPK(docType, doc.ID)
		if keep[pk] {
			continue
		}
		writes = append(writes, types.WriteRequest{
			DeleteRequest: &types.DeleteRequest{
				Key: map[string]types.AttributeValue{
					"pk": &types.AttributeValueMemberS{Value: pk},
					"sk": &types.AttributeValueMemberS{Value: sortKeyDocument},
				},
			},
		})
	}

	for start := 0; start < len(writes); start += batchWriteLimit {
		end := min(start+batchWriteLimit, len(writes))
		if err := s.batchWrite(ctx, writes[start:end]); err != nil {
			return fmt.Errorf("batch write %s documents: %w", docType, err)
		}
	}
	return nil
}

// batchWrite submits one chunk, re-submitting anything DynamoDB returns as
// unprocessed. Leftovers after the retry budget fail the write; a partial
// replace must never look like success.
func (s *DynamoStore) batchWrite(ctx context.Context, writes []types.WriteRequest) error {
	pending := writes
	delay := batchRetryDelay
	for attempt := 0; attempt < batchRetryLimit; attempt++ {
		if attempt > 0 {
			s.sleep(delay)
			delay *= 2
		}
		out, err := s.client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{
			RequestItems: map[string][]types.WriteRequest{
				s.table: pending,
			},
		})
		if err != nil {
			return err
		}
		pending = out.UnprocessedItems[s.table]
		if len(pending) == 0 {
			return nil
		}
	}
	return fmt.Errorf("%d unprocessed items after %d attempts", len(pending), batchRetryLimit)
}

// LoadAnalytics fetches one analytics entry by composite key.
func (s *DynamoStore) LoadAnalytics(ctx context.Context, key string) (*model.AnalyticsCacheEntry, error) {
	if s.client == nil {
		return nil, ErrUnavailable
	}

	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.table),
		Key: map[string]types.AttributeValue{
			"pk": &types.AttributeValueMemberS{Value: key},
			"sk": &types.AttributeValueMemberS{Value: sortKeyAnalytics},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("get analytics %s: %w", key, err)
	}
	if out.Item == nil {
		return nil, ErrNotFound
	}

	var item analyticsItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return nil, fmt.Errorf("unmarshal analytics %s: %w", key, err)
	}
	return &item.Entry, nil
}

// SaveAnalytics overwrites the entry for its composite key.
func (s *DynamoStore) SaveAnalytics(ctx context.Context, entry model.AnalyticsCacheEntry) error {
	if s.client == nil {
		return ErrUnavailable
	}

	key := model.AnalyticsKey(entry.WorkbookID, entry.ElementID)
	av, err := attributevalue.MarshalMap(analyticsItem{
		PK:    key,
		SK:    sortKeyAnalytics,
		Entry: entry,
		TTL:   entry.LastCached.Add(model.AnalyticsTTL).Unix(),
	})
	if err != nil {
		return fmt.Errorf("marshal analytics %s: %w", key, err)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item:      av,
	})
	if err != nil {
		return fmt.Errorf("put analytics %s: %w", key, err)
	}
	return nil
}
