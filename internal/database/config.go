package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	appConfig "github.com/imyashkale/gengar-bark/internal/config"
	"github.com/imyashkale/gengar-bark/internal/logger"
)

// auditKeyAttribute is the partition key every audit record is written under.
const auditKeyAttribute = "Id"

// ErrAuditTableSchema means the audit table exists but is not keyed on Id alone,
// so conditional writes from AuditLog would be rejected.
var ErrAuditTableSchema = errors.New("audit table key schema mismatch")

// DynamoDBAPI is the part of the DynamoDB client the audit log calls.
type DynamoDBAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
}

// Config locates the audit table.
type Config struct {
	TableName string
	Region    string
}

// Client is a DynamoDB handle bound to the audit table.
type Client struct {
	DynamoDB  DynamoDBAPI
	TableName string
}

// NewConfig reads the audit table settings from the application config.
func NewConfig(appCfg *appConfig.Config) *Config {
	return &Config{
		TableName: appCfg.AuditDynamoDBTable,
		Region:    appCfg.AWSRegion,
	}
}

// NewClient connects to DynamoDB and checks the audit table. A table that
// cannot be described only logs a warning; a table with the wrong key fails.
func NewClient(ctx context.Context, cfg *Config) (*Client, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(cfg.Region),
	)
	if err != nil {
		return nil, fmt.Errorf("unable to load AWS SDK config: %w", err)
	}

	return newClient(ctx, dynamodb.NewFromConfig(awsCfg), cfg.TableName)
}

func newClient(ctx context.Context, api DynamoDBAPI, tableName string) (*Client, error) {
	if err := checkAuditTable(ctx, api, tableName); err != nil {
		if errors.Is(err, ErrAuditTableSchema) {
			return nil, err
		}
		logger.WithFields(map[string]interface{}{
			"table": tableName,
			"error": err.Error(),
		}).Warn("Could not describe audit table")
	}

	return &Client{
		DynamoDB:  api,
		TableName: tableName,
	}, nil
}

// checkAuditTable requires a table whose only key is the Id hash key.
func checkAuditTable(ctx context.Context, client DynamoDBAPI, tableName string) error {
	out, err := client.DescribeTable(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(tableName),
	})
	if err != nil {
		return fmt.Errorf("table %s does not exist or cannot be accessed: %w", tableName, err)
	}
	if out.Table == nil {
		return fmt.Errorf("table %s: empty description", tableName)
	}

	keys := out.Table.KeySchema
	if len(keys) != 1 || aws.ToString(keys[0].AttributeName) != auditKeyAttribute || keys[0].KeyType != types.KeyTypeHash {
		return fmt.Errorf("%w: table %s must have a single %s hash key", ErrAuditTableSchema, tableName, auditKeyAttribute)
	}

	logger.WithField("table", tableName).Info("DynamoDB audit table verified successfully")
	return nil
}
