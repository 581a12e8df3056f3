package store

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/fpang/ai-deck-builder/internal/deck"
	"github.com/rs/zerolog/log"
)

// DynamoDB key constants for the single-table design.
const (
	pkPrefix    = "DECK#"
	skMeta      = "META"
	skSlide     = "SLIDE#"
	slideDigits = 4

	// maxBatchWrite is the DynamoDB BatchWriteItem limit per call.
	maxBatchWrite = 25
)

// DynamoAPI is the subset of *dynamodb.Client used by DynamoStore.
type DynamoAPI interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	Scan(ctx context.Context, in *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	BatchWriteItem(ctx context.Context, in *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
}

// DynamoStore implements DeckStore using AWS DynamoDB.
type DynamoStore struct {
	client    DynamoAPI
	tableName string
	ttl       time.Duration
	now       func() time.Time
}

// Compile-time interface check.
var _ DeckStore = (*DynamoStore)(nil)

// NewDynamoStore creates a DynamoStore for the given table.
func NewDynamoStore(client DynamoAPI, tableName string) *DynamoStore {
	return &DynamoStore{client: client, tableName: tableName, ttl: DeckTTL, now: time.Now}
}

// deckMeta is the META record of a deck.
type deckMeta struct {
	ID              string    `dynamodbav:"id"`
	Title           string    `dynamodbav:"title"`
	Theme           string    `dynamodbav:"theme"`
	BackgroundImage string    `dynamodbav:"backgroundImage,omitempty"`
	SlideCount      int       `dynamodbav:"slideCount"`
	CreatedAt       time.Time `dynamodbav:"createdAt"`
	UpdatedAt       time.Time `dynamodbav:"updatedAt"`
}

// slideRecord is one SLIDE#nnnn record.
type slideRecord struct {
	Position int `dynamodbav:"position"`
	deck.Slide
}

func deckPK(id string) string { return pkPrefix + id }

func slideSK(pos int) string {
	return fmt.Sprintf("%s%0*d", skSlide, slideDigits, pos)
}

func (s *DynamoStore) expiresAt() string {
	return strconv.FormatInt(s.now().Add(s.ttl).Unix(), 10)
}

// item marshals a record and adds PK, SK and TTL attributes.
func (s *DynamoStore) item(pk, sk string, data any) (map[string]types.AttributeValue, error) {
	item, err := attributevalue.MarshalMap(data)
	if err != nil {
		return nil, fmt.Errorf("marshal %s/%s: %w", pk, sk, err)
	}
	item["PK"] = &types.AttributeValueMemberS{Value: pk}
	item["SK"] = &types.AttributeValueMemberS{Value: sk}
	item["expiresAt"] = &types.AttributeValueMemberN{Value: s.expiresAt()}
	return item, nil
}

func key(pk, sk string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: pk},
		"SK": &types.AttributeValueMemberS{Value: sk},
	}
}

// PutDeck writes the META record and one record per slide, then removes
// slide records past the new end of the deck.
func (s *DynamoStore) PutDeck(ctx context.Context, d deck.Deck) error {
	pk := deckPK(d.ID)
	existing, err := s.queryBySKPrefix(ctx, pk, skSlide)
	if err != nil {
		return fmt.Errorf("put deck %s: %w", d.ID, err)
	}

	var writes []types.WriteRequest
	for i, sl := range d.Slides {
		it, err := s.item(pk, slideSK(i), slideRecord{Position: i, Slide: sl})
		if err != nil {
			return err
		}
		writes = append(writes, types.WriteRequest{PutRequest: &types.PutRequest{Item: it}})
	}
	for _, it := range existing {
		sk, _ := it["SK"].(*types.AttributeValueMemberS)
		if sk == nil {
			continue
		}
		pos, err := strconv.Atoi(strings.TrimPrefix(sk.Value, skSlide))
		if err == nil && pos < len(d.Slides) {
			continue
		}
		writes = append(writes, types.WriteRequest{DeleteRequest: &types.DeleteRequest{Key: key(pk, sk.Value)}})
	}
	if err := s.batchWrite(ctx, writes); err != nil {
		return fmt.Errorf("put deck %s slides: %w", d.ID, err)
	}

	meta := deckMeta{
		ID:              d.ID,
		Title:           d.Title,
		Theme:           d.Theme,
		BackgroundImage: d.BackgroundImage,
		SlideCount:      len(d.Slides),
		CreatedAt:       d.CreatedAt,
		UpdatedAt:       d.UpdatedAt,
	}
	it, err := s.item(pk, skMeta, meta)
	if err != nil {
		return err
	}
	if _, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{TableName: &s.tableName, Item: it}); err != nil {
		return fmt.Errorf("PutItem PK=%s SK=%s: %w", pk, skMeta, err)
	}

	log.Debug().Str("deckId", d.ID).Int("slides", len(d.Slides)).Msg("Deck persisted to DynamoDB")
	return nil
}

// GetDeck reads the META record and every slide record of a deck.
func (s *DynamoStore) GetDeck(ctx context.Context, id string) (*deck.Deck, error) {
	pk := deckPK(id)
	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{TableName: &s.tableName, Key: key(pk, skMeta)})
	if err != nil {
		return nil, fmt.Errorf("GetItem PK=%s SK=%s: %w", pk, skMeta, err)
	}
	if result.Item == nil {
		return nil, nil
	}
	var meta deckMeta
	if err := attributevalue.UnmarshalMap(result.Item, &meta); err != nil {
		return nil, fmt.Errorf("unmarshal deck %s: %w", id, err)
	}

	items, err := s.queryBySKPrefix(ctx, pk, skSlide)
	if err != nil {
		return nil, fmt.Errorf("get deck %s slides: %w", id, err)
	}
	records := make([]slideRecord, 0, len(items))
	for _, it := range items {
		var rec slideRecord
		if err := attributevalue.UnmarshalMap(it, &rec); err != nil {
			return nil, fmt.Errorf("unmarshal slide of deck %s: %w", id, err)
		}
		if rec.Position < meta.SlideCount {
			records = append(records, rec)
		}
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Position < records[j].Position })

	d := &deck.Deck{
		ID:              id,
		Title:           meta.Title,
		Theme:           meta.Theme,
		BackgroundImage: meta.BackgroundImage,
		CreatedAt:       meta.CreatedAt,
		UpdatedAt:       meta.UpdatedAt,
		Slides:          make([]deck.Slide, 0, len(records)),
	}
	for _, rec := range records {
		d.Slides = append(d.Slides, rec.Slide)
	}
	return d, nil
}

// ListDecks scans META records, newest first.
func (s *DynamoStore) ListDecks(ctx context.Context) ([]DeckSummary, error) {
	input := &dynamodb.ScanInput{
		TableName:        &s.tableName,
		FilterExpression: aws.String("SK = :meta"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":meta": &types.AttributeValueMemberS{Value: skMeta},
		},
	}

	var out []DeckSummary
	for {
		result, err := s.client.Scan(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("Scan decks: %w", err)
		}
		for _, it := range result.Items {
			var sum DeckSummary
			if err := attributevalue.UnmarshalMap(it, &sum); err != nil {
				return nil, fmt.Errorf("unmarshal deck summary: %w", err)
			}
			out = append(out, sum)
		}
		if result.LastEvaluatedKey == nil {
			break
		}
		input.ExclusiveStartKey = result.LastEvaluatedKey
	}
	sortSummaries(out)
	return out, nil
}

// DeleteDeck removes every record of a deck.
func (s *DynamoStore) DeleteDeck(ctx context.Context, id string) error {
	pk := deckPK(id)
	items, err := s.queryBySKPrefix(ctx, pk, "")
	if err != nil {
		return fmt.Errorf("delete deck %s: %w", id, err)
	}
	writes := make([]types.WriteRequest, 0, len(items))
	for _, it := range items {
		sk, _ := it["SK"].(*types.AttributeValueMemberS)
		if sk == nil {
			continue
		}
		writes = append(writes, types.WriteRequest{DeleteRequest: &types.DeleteRequest{Key: key(pk, sk.Value)}})
	}
	if err := s.batchWrite(ctx, writes); err != nil {
		return fmt.Errorf("delete deck %s: %w", id, err)
	}
	log.Debug().Str("deckId", id).Int("records", len(writes)).Msg("Deck deleted from DynamoDB")
	return nil
}

// queryBySKPrefix queries all items of a partition whose SK begins with prefix.
func (s *DynamoStore) queryBySKPrefix(ctx context.Context, pk, prefix string) ([]map[string]types.AttributeValue, error) {
	input := &dynamodb.QueryInput{
		TableName:              &s.tableName,
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :skPrefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":       &types.AttributeValueMemberS{Value: pk},
			":skPrefix": &types.AttributeValueMemberS{Value: prefix},
		},
	}

	var all []map[string]types.AttributeValue
	// DynamoDB returns up to 1MB per Query call.
	for {
		result, err := s.client.Query(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("Query PK=%s SK prefix=%s: %w", pk, prefix, err)
		}
		all = append(all, result.Items...)
		if result.LastEvaluatedKey == nil {
			break
		}
		input.ExclusiveStartKey = result.LastEvaluatedKey
	}
	return all, nil
}

// batchWrite sends writes in chunks of maxBatchWrite, resubmitting any
// unprocessed items once.
func (s *DynamoStore) batchWrite(ctx context.Context, writes []types.WriteRequest) error {
	for i := 0; i < len(writes); i += maxBatchWrite {
		end := min(i+maxBatchWrite, len(writes))
		requests := map[string][]types.WriteRequest{s.tableName: writes[i:end]}
		for attempt := 0; attempt < 2 && len(requests) > 0; attempt++ {
			result, err := s.client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{RequestItems: requests})
			if err != nil {
				return fmt.Errorf("BatchWriteItem (%d items): %w", end-i, err)
			}
			requests = result.UnprocessedItems
		}
		if n := len(requests[s.tableName]); n > 0 {
			return fmt.Errorf("BatchWriteItem: %d items unprocessed", n)
		}
	}
	return nil
}

func sortSummaries(s []DeckSummary) {
	sort.SliceStable(s, func(i, j int) bool { return s[i].UpdatedAt.After(s[j].UpdatedAt) })
}
