package database

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
	"github.com/imyashkale/gengar-bark/internal/models"
)

const (
	recordTypeOperation = "operation"
	recordTypeSecurity  = "security"
)

// AuditLog appends audit records to a DynamoDB table keyed by Id.
type AuditLog struct {
	client *Client
}

// NewAuditLog creates a new AuditLog instance
func NewAuditLog(client *Client) *AuditLog {
	return &AuditLog{client: client}
}

// PutEntry stores an operation record
func (a *AuditLog) PutEntry(ctx context.Context, entry *models.AuditEntry) error {
	av, err := attributevalue.MarshalMap(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal audit entry: %w", err)
	}
	return a.put(ctx, av, recordTypeOperation, entry.Timestamp)
}

// PutSecurityEvent stores an SSRF block record
func (a *AuditLog) PutSecurityEvent(ctx context.Context, event *models.SecurityEvent) error {
	av, err := attributevalue.MarshalMap(event)
	if err != nil {
		return fmt.Errorf("failed to marshal security event: %w", err)
	}
	return a.put(ctx, av, recordTypeSecurity, event.Timestamp)
}

func (a *AuditLog) put(ctx context.Context, item map[string]types.AttributeValue, recordType string, ts time.Time) error {
	item["RecordType"] = &types.AttributeValueMemberS{Value: recordType}
	item["Timestamp"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(ts.UnixMilli(), 10)}
	item["TimestampISO"] = &types.AttributeValueMemberS{Value: ts.UTC().Format(time.RFC3339Nano)}

	_, err := a.client.DynamoDB.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(a.client.TableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(Id)"),
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("failed to put audit record: %w", err)
	}
	return nil
}
