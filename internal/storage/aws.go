// Package storage persists exported event counts outside the primary
// database: JSON snapshots to S3 or local disk, and per-bucket rows in
// DynamoDB for dashboards.
package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/ignite/fan-automation/internal/domain"
)

// countTTL is how long DynamoDB keeps a count row.
const countTTL = 90 * 24 * time.Hour

// S3API is the part of the S3 client used here.
type S3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// DynamoAPI is the part of the DynamoDB client used here.
type DynamoAPI interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

// AWSStorage provides AWS-backed storage using S3 and, optionally, DynamoDB.
type AWSStorage struct {
	s3Client  S3API
	dynamoDB  DynamoAPI
	bucket    string
	tableName string
}

// CountItem is one exported bucket count as stored in DynamoDB.
type CountItem struct {
	PK          string `dynamodbav:"PK"`
	SK          string `dynamodbav:"SK"`
	SubjectID   string `dynamodbav:"SubjectID"`
	EventType   string `dynamodbav:"EventType"`
	BucketStart string `dynamodbav:"BucketStart"`
	Count       int64  `dynamodbav:"Count"`
	ExportedAt  string `dynamodbav:"ExportedAt"`
	TTL         int64  `dynamodbav:"TTL,omitempty"`
}

// NewAWSStorage loads the default AWS config for region. An empty tableName
// disables the DynamoDB writes.
func NewAWSStorage(ctx context.Context, bucket, tableName, region string) (*AWSStorage, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	var dynamo DynamoAPI
	if tableName != "" {
		dynamo = dynamodb.NewFromConfig(cfg)
	}
	return NewAWSStorageWithClients(s3.NewFromConfig(cfg), dynamo, bucket, tableName), nil
}

// NewAWSStorageWithClients wires explicit clients. dynamo may be nil.
func NewAWSStorageWithClients(s3Client S3API, dynamo DynamoAPI, bucket, tableName string) *AWSStorage {
	return &AWSStorage{s3Client: s3Client, dynamoDB: dynamo, bucket: bucket, tableName: tableName}
}

// Name identifies the sink in logs.
func (s *AWSStorage) Name() string { return "s3://" + s.bucket }

// SaveCounts writes the snapshot to S3 under key and, when a table is set,
// one DynamoDB row per count.
func (s *AWSStorage) SaveCounts(ctx context.Context, key string, snap domain.CountSnapshot) error {
	if err := s.SaveToS3(ctx, key, snap); err != nil {
		return err
	}
	if s.dynamoDB == nil || s.tableName == "" {
		return nil
	}
	return s.saveCountsToDynamoDB(ctx, snap)
}

// SaveToS3 saves data to S3 as JSON.
func (s *AWSStorage) SaveToS3(ctx context.Context, key string, data interface{}) error {
	jsonData, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling data: %w", err)
	}

	_, err = s.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(jsonData),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("putting object to S3: %w", err)
	}
	return nil
}

func (s *AWSStorage) saveCountsToDynamoDB(ctx context.Context, snap domain.CountSnapshot) error {
	exportedAt := snap.GeneratedAt.UTC().Format(time.RFC3339)
	for _, c := range snap.Counts {
		item := CountItem{
			PK:          fmt.Sprintf("%s#%s", c.SubjectID, c.Type),
			SK:          fmt.Sprintf("%s#%s", snap.Bucket, c.BucketStart.UTC().Format(time.RFC3339)),
			SubjectID:   c.SubjectID,
			EventType:   string(c.Type),
			BucketStart: c.BucketStart.UTC().Format(time.RFC3339),
			Count:       c.Count,
			ExportedAt:  exportedAt,
			TTL:         snap.GeneratedAt.Add(countTTL).Unix(),
		}
		av, err := attributevalue.MarshalMap(item)
		if err != nil {
			return fmt.Errorf("marshaling item: %w", err)
		}
		if _, err := s.dynamoDB.PutItem(ctx, &dynamodb.PutItemInput{
			TableName: aws.String(s.tableName),
			Item:      av,
		}); err != nil {
			return fmt.Errorf("putting item to DynamoDB: %w", err)
		}
	}
	return nil
}
