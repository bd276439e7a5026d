package storage

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeS3 struct {
	s3iface.S3API
	puts    map[string]string
	deleted []string
	fail    bool
}

func (f *fakeS3) PutObjectWithContext(_ aws.Context, in *s3.PutObjectInput, _ ...request.Option) (*s3.PutObjectOutput, error) {
	if f.fail {
		return nil, errors.New("access denied")
	}
	b, _ := io.ReadAll(in.Body)
	f.puts[aws.StringValue(in.Key)] = aws.StringValue(in.ContentType) + "|" + string(b)
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) DeleteObjectWithContext(_ aws.Context, in *s3.DeleteObjectInput, _ ...request.Option) (*s3.DeleteObjectOutput, error) {
	f.deleted = append(f.deleted, aws.StringValue(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func TestUploadBuildsDatedKey(t *testing.T) {
	fake := &fakeS3{puts: map[string]string{}}
	svc := NewStorageServiceWithClient(fake, "classflow", "ap-southeast-1")
	svc.now = func() time.Time { return time.Date(2024, 3, 9, 10, 0, 0, 0, time.UTC) }

	obj, err := svc.Upload(context.Background(), strings.NewReader("slides"), "Week1.PDF", "/materials/", 12)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(obj.Key, "materials/12/2024/03/09/"), obj.Key)
	assert.True(t, strings.HasSuffix(obj.Key, ".pdf"), obj.Key)
	assert.Equal(t, "application/pdf", obj.ContentType)
	assert.Equal(t, int64(6), obj.Size)
	assert.Equal(t, "application/pdf|slides", fake.puts[obj.Key])
	assert.Equal(t, "https://classflow.s3.ap-southeast-1.amazonaws.com/"+obj.Key, obj.URL)

	require.NoError(t, svc.DeleteFile(context.Background(), obj.URL))
	assert.Equal(t, []string{obj.Key}, fake.deleted)
	assert.Error(t, svc.DeleteFile(context.Background(), "https://example.com/x"))
}

func TestUploadPropagatesS3Errors(t *testing.T) {
	svc := NewStorageServiceWithClient(&fakeS3{puts: map[string]string{}, fail: true}, "b", "r")
	_, err := svc.Upload(context.Background(), strings.NewReader("x"), "a.txt", "materials", 1)
	assert.Error(t, err)
}
