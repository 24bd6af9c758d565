package storage

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeObjects struct {
	batches [][]string
	fail    map[string]bool
	err     error
}

func (f *fakeObjects) DeleteObjects(ctx context.Context, params *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	var keys []string
	out := &s3.DeleteObjectsOutput{}
	for _, obj := range params.Delete.Objects {
		key := aws.ToString(obj.Key)
		keys = append(keys, key)
		if f.fail[key] {
			out.Errors = append(out.Errors, types.Error{Key: obj.Key, Message: aws.String("access denied")})
		}
	}
	f.batches = append(f.batches, keys)
	return out, nil
}

func TestDeleteObjectsBatches(t *testing.T) {
	fake := &fakeObjects{}
	c := &Client{bucket: "attachments", s3: fake}

	keys := make([]string, 0, deleteBatch+5)
	for i := 0; i < deleteBatch+5; i++ {
		keys = append(keys, fmt.Sprintf("conv/%d.jpg", i))
	}
	keys = append(keys, "")

	require.NoError(t, c.DeleteObjects(context.Background(), keys))
	require.Len(t, fake.batches, 2)
	assert.Len(t, fake.batches[0], deleteBatch)
	assert.Len(t, fake.batches[1], 5)
}

func TestDeleteObjectsReportsFailures(t *testing.T) {
	fake := &fakeObjects{fail: map[string]bool{"b": true}}
	c := &Client{bucket: "attachments", s3: fake}

	err := c.DeleteObjects(context.Background(), []string{"a", "b"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "delete b")

	fake = &fakeObjects{err: errors.New("network down")}
	c = &Client{bucket: "attachments", s3: fake}
	assert.ErrorContains(t, c.DeleteObjects(context.Background(), []string{"a"}), "network down")

	assert.NoError(t, c.DeleteObjects(context.Background(), nil))
}

func TestNewClientRequiresBucket(t *testing.T) {
	_, err := NewClient(context.Background(), S3Config{Region: "us-east-1"})
	assert.Error(t, err)
}
