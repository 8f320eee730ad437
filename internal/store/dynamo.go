package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/sentinel-hq/sentinel/internal/domain"
)

// eventsByCampaignIndex is the GSI on the events table keyed by campaign_id.
const eventsByCampaignIndex = "campaign_index"

// DynamoCampaignStore implements CampaignStore on a DynamoDB table
// keyed by id.
type DynamoCampaignStore struct {
	client *dynamodb.Client
	table  string
}

func NewDynamoCampaignStore(client *dynamodb.Client, table string) *DynamoCampaignStore {
	return &DynamoCampaignStore{client: client, table: table}
}

func (s *DynamoCampaignStore) Get(ctx context.Context, id string) (*domain.Campaign, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.table),
		Key: map[string]types.AttributeValue{
			"id": &types.AttributeValueMemberS{Value: id},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("getting campaign %s: %w", id, err)
	}
	if out.Item == nil {
		return nil, ErrNotFound
	}

	var c domain.Campaign
	if err := unmarshalItem(out.Item, &c); err != nil {
		return nil, fmt.Errorf("unmarshaling campaign %s: %w", id, err)
	}
	return &c, nil
}

func (s *DynamoCampaignStore) Put(ctx context.Context, c *domain.Campaign) error {
	item, err := marshalItem(c)
	if err != nil {
		return fmt.Errorf("marshaling campaign %s: %w", c.ID, err)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("putting campaign %s: %w", c.ID, err)
	}
	return nil
}

func (s *DynamoCampaignStore) UpdateState(ctx context.Context, id string, state domain.CampaignState, expect domain.CampaignState) error {
	input := &dynamodb.UpdateItemInput{
		TableName: aws.String(s.table),
		Key: map[string]types.AttributeValue{
			"id": &types.AttributeValueMemberS{Value: id},
		},
		UpdateExpression: aws.String("SET #st = :state, updated_at = :now"),
		ExpressionAttributeNames: map[string]string{
			"#st": "state",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":state": &types.AttributeValueMemberS{Value: string(state)},
			":now":   &types.AttributeValueMemberS{Value: time.Now().UTC().Format(time.RFC3339)},
		},
	}

	if expect != "" {
		input.ConditionExpression = aws.String("#st = :expect")
		input.ExpressionAttributeValues[":expect"] = &types.AttributeValueMemberS{Value: string(expect)}
	}

	_, err := s.client.UpdateItem(ctx, input)
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return ErrConflict
		}
		return fmt.Errorf("updating campaign %s state: %w", id, err)
	}
	return nil
}

func (s *DynamoCampaignStore) SetWinner(ctx context.Context, id, variantID string) error {
	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.table),
		Key: map[string]types.AttributeValue{
			"id": &types.AttributeValueMemberS{Value: id},
		},
		UpdateExpression: aws.String("SET ab_test_config.winner_variant = :w, updated_at = :now"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":w":   &types.AttributeValueMemberS{Value: variantID},
			":now": &types.AttributeValueMemberS{Value: time.Now().UTC().Format(time.RFC3339)},
		},
	})
	if err != nil {
		return fmt.Errorf("setting campaign %s winner: %w", id, err)
	}
	return nil
}

func (s *DynamoCampaignStore) ListByState(ctx context.Context, state domain.CampaignState) ([]domain.Campaign, error) {
	var campaigns []domain.Campaign
	var startKey map[string]types.AttributeValue

	for {
		out, err := s.client.Scan(ctx, &dynamodb.ScanInput{
			TableName:        aws.String(s.table),
			FilterExpression: aws.String("#st = :state"),
			ExpressionAttributeNames: map[string]string{
				"#st": "state",
			},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":state": &types.AttributeValueMemberS{Value: string(state)},
			},
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return nil, fmt.Errorf("scanning campaigns in state %s: %w", state, err)
		}

		for _, item := range out.Items {
			var c domain.Campaign
			if err := unmarshalItem(item, &c); err != nil {
				return nil, fmt.Errorf("unmarshaling campaign: %w", err)
			}
			campaigns = append(campaigns, c)
		}

		if out.LastEvaluatedKey == nil {
			break
		}
		startKey = out.LastEvaluatedKey
	}

	return campaigns, nil
}

// DynamoSegmentStore implements SegmentStore on a DynamoDB table
// keyed by id.
type DynamoSegmentStore struct {
	client *dynamodb.Client
	table  string
}

func NewDynamoSegmentStore(client *dynamodb.Client, table string) *DynamoSegmentStore {
	return &DynamoSegmentStore{client: client, table: table}
}

func (s *DynamoSegmentStore) Get(ctx context.Context, id string) (*domain.Segment, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.table),
		Key: map[string]types.AttributeValue{
			"id": &types.AttributeValueMemberS{Value: id},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("getting segment %s: %w", id, err)
	}
	if out.Item == nil {
		return nil, ErrNotFound
	}

	var seg domain.Segment
	if err := unmarshalItem(out.Item, &seg); err != nil {
		return nil, fmt.Errorf("unmarshaling segment %s: %w", id, err)
	}
	return &seg, nil
}

func (s *DynamoSegmentStore) ListAll(ctx context.Context) ([]domain.Segment, error) {
	var segments []domain.Segment
	var startKey map[string]types.AttributeValue

	for {
		out, err := s.client.Scan(ctx, &dynamodb.ScanInput{
			TableName:         aws.String(s.table),
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return nil, fmt.Errorf("scanning segments: %w", err)
		}

		for _, item := range out.Items {
			var seg domain.Segment
			if err := unmarshalItem(item, &seg); err != nil {
				return nil, fmt.Errorf("unmarshaling segment: %w", err)
			}
			segments = append(segments, seg)
		}

		if out.LastEvaluatedKey == nil {
			break
		}
		startKey = out.LastEvaluatedKey
	}

	return segments, nil
}

func (s *DynamoSegmentStore) RecordExecution(ctx context.Context, segmentID, campaignID string, recipientCount int, at time.Time) error {
	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.table),
		Key: map[string]types.AttributeValue{
			"id": &types.AttributeValueMemberS{Value: segmentID},
		},
		UpdateExpression: aws.String("SET last_campaign_id = :cid, last_execution_at = :at, last_recipient_count = :n, updated_at = :at"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":cid": &types.AttributeValueMemberS{Value: campaignID},
			":at":  &types.AttributeValueMemberS{Value: at.UTC().Format(time.RFC3339)},
			":n":   &types.AttributeValueMemberN{Value: strconv.Itoa(recipientCount)},
		},
	})
	if err != nil {
		return fmt.Errorf("recording segment %s execution: %w", segmentID, err)
	}
	return nil
}

// DynamoEventStore implements EventStore on a DynamoDB table keyed by
// id with a campaign_id GSI.
type DynamoEventStore struct {
	client *dynamodb.Client
	table  string
	ttl    time.Duration
}

func NewDynamoEventStore(client *dynamodb.Client, table string) *DynamoEventStore {
	return &DynamoEventStore{client: client, table: table, ttl: 90 * 24 * time.Hour}
}

func (s *DynamoEventStore) Put(ctx context.Context, e *domain.Event) error {
	item, err := marshalItem(e)
	if err != nil {
		return fmt.Errorf("marshaling event %s: %w", e.ID, err)
	}
	item["ttl"] = &types.AttributeValueMemberN{
		Value: strconv.FormatInt(time.Now().Add(s.ttl).Unix(), 10),
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("putting event %s: %w", e.ID, err)
	}
	return nil
}

func (s *DynamoEventStore) ListByCampaign(ctx context.Context, campaignID string) ([]domain.Event, error) {
	var events []domain.Event
	var startKey map[string]types.AttributeValue

	for {
		out, err := s.client.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(s.table),
			IndexName:              aws.String(eventsByCampaignIndex),
			KeyConditionExpression: aws.String("campaign_id = :cid"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":cid": &types.AttributeValueMemberS{Value: campaignID},
			},
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return nil, fmt.Errorf("querying events for campaign %s: %w", campaignID, err)
		}

		for _, item := range out.Items {
			var e domain.Event
			if err := unmarshalItem(item, &e); err != nil {
				return nil, fmt.Errorf("unmarshaling event: %w", err)
			}
			events = append(events, e)
		}

		if out.LastEvaluatedKey == nil {
			break
		}
		startKey = out.LastEvaluatedKey
	}

	return events, nil
}

// DynamoLinkStore implements LinkStore on a DynamoDB table keyed by
// tracking_id with TTL-based expiry.
type DynamoLinkStore struct {
	client *dynamodb.Client
	table  string
	now    func() time.Time
}

func NewDynamoLinkStore(client *dynamodb.Client, table string) *DynamoLinkStore {
	return &DynamoLinkStore{client: client, table: table, now: time.Now}
}

func (s *DynamoLinkStore) Put(ctx context.Context, l *domain.TrackingLink) error {
	item, err := marshalItem(l)
	if err != nil {
		return fmt.Errorf("marshaling tracking link %s: %w", l.TrackingID, err)
	}
	item["ttl"] = &types.AttributeValueMemberN{
		Value: strconv.FormatInt(l.ExpiresAt.Unix(), 10),
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("putting tracking link %s: %w", l.TrackingID, err)
	}
	return nil
}

func (s *DynamoLinkStore) Get(ctx context.Context, trackingID string) (*domain.TrackingLink, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.table),
		Key: map[string]types.AttributeValue{
			"tracking_id": &types.AttributeValueMemberS{Value: trackingID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("getting tracking link %s: %w", trackingID, err)
	}
	if out.Item == nil {
		return nil, ErrNotFound
	}

	var l domain.TrackingLink
	if err := unmarshalItem(out.Item, &l); err != nil {
		return nil, fmt.Errorf("unmarshaling tracking link %s: %w", trackingID, err)
	}

	// TTL deletion is lazy; treat expired rows as gone.
	if !l.ExpiresAt.IsZero() && s.now().After(l.ExpiresAt) {
		return nil, ErrNotFound
	}
	return &l, nil
}
