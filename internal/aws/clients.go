package aws

import (
	"context"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

// AWSClients bundles all service clients for convenience.
type AWSClients struct {
	DynamoDB   DynamoDBAPI
	SQS        SQSAPI
	CloudWatch CloudWatchAPI
}

// NewAWSClients loads AWS config and returns concrete service clients that implement our interfaces.
// When endpoint is non-empty every client is pointed at it (LocalStack, dynamodb-local).
func NewAWSClients(ctx context.Context, region, endpoint string) (*AWSClients, error) {
	cfg, err := LoadAWSConfig(ctx, region)
	if err != nil {
		return nil, err
	}

	var base *string
	if endpoint != "" {
		base = sdkaws.String(endpoint)
	}

	return &AWSClients{
		DynamoDB: dynamodb.NewFromConfig(cfg, func(o *dynamodb.Options) {
			o.BaseEndpoint = base
		}),
		SQS: sqs.NewFromConfig(cfg, func(o *sqs.Options) {
			o.BaseEndpoint = base
		}),
		CloudWatch: cloudwatch.NewFromConfig(cfg, func(o *cloudwatch.Options) {
			o.BaseEndpoint = base
		}),
	}, nil
}
