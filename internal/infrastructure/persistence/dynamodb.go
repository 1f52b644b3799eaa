// Package persistence provides the DynamoDB-backed stores for billing
// records and invoices.
package persistence

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// ClientOptions configures the AWS SDK clients. An empty Endpoint targets
// the real AWS API; a non-empty one targets a local emulator such as
// LocalStack.
type ClientOptions struct {
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
}

// LoadAWSConfig builds an aws.Config from the options. Credentials fall back
// to the default provider chain when no static pair is configured.
func LoadAWSConfig(ctx context.Context, opts ClientOptions) (aws.Config, error) {
	region := opts.Region
	if region == "" {
		region = "us-east-1"
	}

	loadOpts := []func(*config.LoadOptions) error{
		config.WithRegion(region),
	}
	if opts.AccessKey != "" && opts.SecretKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("failed to create AWS config: %w", err)
	}
	return awsCfg, nil
}

// NewDynamoDBClient creates a DynamoDB client from the AWS config.
func NewDynamoDBClient(awsCfg aws.Config, endpoint string) *dynamodb.Client {
	return dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})
}

// keyOf builds the primary key for the single-id table layout.
func keyOf(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"id": &types.AttributeValueMemberS{Value: id},
	}
}

// getItem fetches one item and unmarshals it into out. ok is false when the
// item does not exist.
func getItem(ctx context.Context, client *dynamodb.Client, table, id string, out interface{}) (bool, error) {
	result, err := client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(table),
		Key:       keyOf(id),
	})
	if err != nil {
		return false, fmt.Errorf("get item %s from %s: %w", id, table, err)
	}
	if len(result.Item) == 0 {
		return false, nil
	}
	if err := attributevalue.UnmarshalMap(result.Item, out); err != nil {
		return false, fmt.Errorf("unmarshal item %s from %s: %w", id, table, err)
	}
	return true, nil
}

// putItem marshals in and overwrites the full item.
func putItem(ctx context.Context, client *dynamodb.Client, table string, in interface{}) error {
	item, err := attributevalue.MarshalMap(in)
	if err != nil {
		return fmt.Errorf("marshal item for %s: %w", table, err)
	}
	if _, err := client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(table),
		Item:      item,
	}); err != nil {
		return fmt.Errorf("put item to %s: %w", table, err)
	}
	return nil
}

// isNotFound reports whether the error is a DynamoDB resource-not-found.
func isNotFound(err error) bool {
	var rnf *types.ResourceNotFoundException
	return errors.As(err, &rnf)
}
