package storage

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	dtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/fan-automation/internal/domain"
)

type fakeS3 struct {
	keys   []string
	bodies [][]byte
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	b, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.keys = append(f.keys, aws.ToString(in.Key))
	f.bodies = append(f.bodies, b)
	return &s3.PutObjectOutput{}, nil
}

type fakeDynamo struct {
	items []map[string]dtypes.AttributeValue
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.items = append(f.items, in.Item)
	return &dynamodb.PutItemOutput{}, nil
}

func snapshot() domain.CountSnapshot {
	from := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	return domain.CountSnapshot{
		GeneratedAt: from.Add(2 * time.Hour),
		From:        from,
		To:          from.Add(time.Hour),
		Bucket:      domain.BucketHour,
		Counts: []domain.BucketCount{
			{SubjectID: "S1", Type: domain.EventListenClick, BucketStart: from, Count: 4},
			{SubjectID: "S1", Type: domain.EventProfileView, BucketStart: from, Count: 9},
		},
	}
}

func TestAWSStorage_SaveCountsWritesS3AndDynamo(t *testing.T) {
	s3c := &fakeS3{}
	dyn := &fakeDynamo{}
	st := NewAWSStorageWithClients(s3c, dyn, "exports", "fan-counts")

	require.NoError(t, st.SaveCounts(context.Background(), "event-counts/2026/03/01/00.json", snapshot()))

	require.Equal(t, []string{"event-counts/2026/03/01/00.json"}, s3c.keys)
	var got domain.CountSnapshot
	require.NoError(t, json.Unmarshal(s3c.bodies[0], &got))
	assert.Len(t, got.Counts, 2)

	require.Len(t, dyn.items, 2)
	pk, ok := dyn.items[0]["PK"].(*dtypes.AttributeValueMemberS)
	require.True(t, ok)
	assert.Equal(t, "S1#listen_click", pk.Value)
	n, ok := dyn.items[0]["Count"].(*dtypes.AttributeValueMemberN)
	require.True(t, ok)
	assert.Equal(t, "4", n.Value)
}

func TestAWSStorage_WithoutTableSkipsDynamo(t *testing.T) {
	s3c := &fakeS3{}
	st := NewAWSStorageWithClients(s3c, nil, "exports", "")
	require.NoError(t, st.SaveCounts(context.Background(), "k.json", snapshot()))
	assert.Len(t, s3c.keys, 1)
}

func TestFileStorage_SaveCounts(t *testing.T) {
	dir := t.TempDir()
	st := NewFileStorage(dir)

	require.NoError(t, st.SaveCounts(context.Background(), "event-counts/2026/03/01/00.json", snapshot()))

	data, err := os.ReadFile(filepath.Join(dir, "event-counts", "2026", "03", "01", "00.json"))
	require.NoError(t, err)
	var got domain.CountSnapshot
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, domain.BucketHour, got.Bucket)
}
