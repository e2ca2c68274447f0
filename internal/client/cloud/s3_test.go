package cloud

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"
	"github.com/dmitrijs2005/gophvault/internal/client/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeObject struct {
	data []byte
	mod  time.Time
}

// fakeS3 is an in-memory bucket implementing S3API.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string]fakeObject
	now     time.Time
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: map[string]fakeObject{}, now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (f *fakeS3) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{ContentLength: aws.Int64(int64(len(o.data))), LastModified: aws.Time(o.mod)}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(o.data))}, nil
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	b, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(time.Second)
	f.objects[aws.ToString(in.Key)] = fakeObject{data: b, mod: f.now}
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) CopyObject(_ context.Context, in *s3.CopyObjectInput, _ ...func(*s3.Options)) (*s3.CopyObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	src := strings.TrimPrefix(aws.ToString(in.CopySource), aws.ToString(in.Bucket)+"/")
	o, ok := f.objects[src]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	f.objects[aws.ToString(in.Key)] = o
	return &s3.CopyObjectOutput{}, nil
}

func (f *fakeS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

// ListObjectsV2 pages by key order; the continuation token is the last
// key or common prefix returned.
func (f *fakeS3) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	prefix, delim := aws.ToString(in.Prefix), aws.ToString(in.Delimiter)
	limit := int(aws.ToInt32(in.MaxKeys))
	if limit <= 0 {
		limit = 1000
	}

	entries := map[string]bool{} // name -> is common prefix
	for k := range f.objects {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		rest := strings.TrimPrefix(k, prefix)
		if delim != "" {
			if i := strings.Index(rest, delim); i >= 0 {
				entries[prefix+rest[:i+1]] = true
				continue
			}
		}
		entries[k] = false
	}
	names := make([]string, 0, len(entries))
	for n := range entries {
		names = append(names, n)
	}
	sort.Strings(names)

	out := &s3.ListObjectsV2Output{}
	count, last := 0, ""
	for _, n := range names {
		if in.ContinuationToken != nil && n <= *in.ContinuationToken {
			continue
		}
		if count == limit {
			out.IsTruncated = aws.Bool(true)
			out.NextContinuationToken = aws.String(last)
			break
		}
		count++
		last = n
		if entries[n] {
			out.CommonPrefixes = append(out.CommonPrefixes, types.CommonPrefix{Prefix: aws.String(n)})
			continue
		}
		o := f.objects[n]
		out.Contents = append(out.Contents, types.Object{Key: aws.String(n), Size: aws.Int64(int64(len(o.data))), LastModified: aws.Time(o.mod)})
	}
	return out, nil
}

func newS3(t *testing.T, pageSize int32) (*S3, *fakeS3) {
	t.Helper()
	api := newFakeS3()
	return NewS3(api, S3Config{Bucket: "b", Prefix: "/vault/", PageSize: pageSize}), api
}

func srcFile(t *testing.T, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "src")
	require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
	return p
}

func TestS3_FilesAndFolders(t *testing.T) {
	s, api := newS3(t, 0)
	ctx := context.Background()

	require.NoError(t, s.CreateFolder(ctx, "/docs"))
	assert.Contains(t, api.objects, "vault/docs/")
	assert.ErrorIs(t, s.CreateFolder(ctx, "/docs"), ErrAlreadyExists)
	assert.ErrorIs(t, s.CreateFolder(ctx, "/x/y"), ErrParentNotFound)

	meta, err := s.Upload(ctx, srcFile(t, "abc"), "/docs/a.bin", false)
	require.NoError(t, err)
	assert.Equal(t, models.ItemTypeFile, meta.Type)
	assert.Equal(t, int64(3), *meta.Size)
	assert.Equal(t, "a.bin", meta.Name)

	_, err = s.Upload(ctx, srcFile(t, "abc"), "/docs/a.bin", false)
	assert.ErrorIs(t, err, ErrAlreadyExists)
	_, err = s.Upload(ctx, srcFile(t, "abc"), "/docs", true)
	assert.ErrorIs(t, err, ErrTypeMismatch)
	_, err = s.Upload(ctx, srcFile(t, "abc"), "/nope/a", false)
	assert.ErrorIs(t, err, ErrParentNotFound)

	folder, err := s.FetchMetadata(ctx, "/docs")
	require.NoError(t, err)
	assert.Equal(t, models.ItemTypeFolder, folder.Type)
	_, err = s.FetchMetadata(ctx, "/missing")
	assert.ErrorIs(t, err, ErrNotFound)

	dst := filepath.Join(t.TempDir(), "out")
	require.NoError(t, s.Download(ctx, "/docs/a.bin", dst))
	b, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "abc", string(b))
	assert.ErrorIs(t, s.Download(ctx, "/docs/zz", dst), ErrNotFound)
}

func TestS3_ImplicitFolder(t *testing.T) {
	s, api := newS3(t, 0)
	ctx := context.Background()
	api.objects["vault/photos/2024/img.jpg"] = fakeObject{data: []byte("x"), mod: time.Now()}

	meta, err := s.FetchMetadata(ctx, "/photos/2024")
	require.NoError(t, err)
	assert.Equal(t, models.ItemTypeFolder, meta.Type)

	list, err := s.ListFolder(ctx, "/photos", nil)
	require.NoError(t, err)
	require.Len(t, list.Items, 1)
	assert.Equal(t, "/photos/2024", list.Items[0].Path)
}

func TestS3_ListFolderPaging(t *testing.T) {
	s, _ := newS3(t, 2)
	ctx := context.Background()
	require.NoError(t, s.CreateFolder(ctx, "/d"))
	for _, n := range []string{"/a", "/b", "/c"} {
		_, err := s.Upload(ctx, srcFile(t, n), n, false)
		require.NoError(t, err)
	}

	var paths []string
	var token *string
	for {
		page, err := s.ListFolder(ctx, "/", token)
		require.NoError(t, err)
		for _, it := range page.Items {
			paths = append(paths, it.Path)
		}
		if page.NextPageToken == nil {
			break
		}
		token = page.NextPageToken
	}
	sort.Strings(paths)
	assert.Equal(t, []string{"/a", "/b", "/c", "/d"}, paths)

	_, err := s.ListFolder(ctx, "/none", nil)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestS3_MoveAndDelete(t *testing.T) {
	s, api := newS3(t, 0)
	ctx := context.Background()
	require.NoError(t, s.CreateFolder(ctx, "/A"))
	require.NoError(t, s.CreateFolder(ctx, "/A/B"))
	_, err := s.Upload(ctx, srcFile(t, "1"), "/A/B/f", false)
	require.NoError(t, err)
	require.NoError(t, s.CreateFolder(ctx, "/C"))

	assert.ErrorIs(t, s.Move(ctx, "/A", "/C"), ErrAlreadyExists)
	require.NoError(t, s.Move(ctx, "/A", "/C/A"))
	assert.Contains(t, api.objects, "vault/C/A/B/f")
	assert.NotContains(t, api.objects, "vault/A/B/f")
	assert.NotContains(t, api.objects, "vault/A/")

	require.NoError(t, s.Move(ctx, "/C/A/B/f", "/g"))
	assert.Contains(t, api.objects, "vault/g")

	require.NoError(t, s.Delete(ctx, "/C"))
	for k := range api.objects {
		assert.False(t, strings.HasPrefix(k, "vault/C/"), k)
	}
	assert.ErrorIs(t, s.Delete(ctx, "/C"), ErrNotFound)
	assert.ErrorIs(t, s.Delete(ctx, "/"), ErrTypeMismatch)
}

type fakeNetErr struct{}

func (fakeNetErr) Error() string   { return "dial tcp: refused" }
func (fakeNetErr) Timeout() bool   { return false }
func (fakeNetErr) Temporary() bool { return false }

func responseErr(status int) error {
	return &awshttp.ResponseError{ResponseError: &smithyhttp.ResponseError{
		Response: &smithyhttp.Response{Response: &http.Response{StatusCode: status}},
		Err:      errors.New("http"),
	}}
}

func TestMapS3Error(t *testing.T) {
	tests := []struct {
		name string
		in   error
		want error
	}{
		{"no such key", &types.NoSuchKey{}, ErrNotFound},
		{"access denied", &smithy.GenericAPIError{Code: "AccessDenied"}, ErrUnauthorized},
		{"slow down", &smithy.GenericAPIError{Code: "SlowDown"}, ErrRateLimited},
		{"quota", &smithy.GenericAPIError{Code: "QuotaExceeded"}, ErrQuotaExceeded},
		{"status 403", responseErr(403), ErrUnauthorized},
		{"status 404", responseErr(404), ErrNotFound},
		{"status 503", responseErr(503), ErrRateLimited},
		{"send error", &smithyhttp.RequestSendError{Err: errors.New("reset")}, ErrNoConnectivity},
		{"net error", fakeNetErr{}, ErrNoConnectivity},
		{"canceled", context.Canceled, context.Canceled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, mapS3Error("op", "/p", tt.in), tt.want)
		})
	}

	assert.NoError(t, mapS3Error("op", "/p", nil))
	other := errors.New("weird")
	assert.ErrorIs(t, mapS3Error("op", "/p", other), other)
}
