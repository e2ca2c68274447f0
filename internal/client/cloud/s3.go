package cloud

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"
	"github.com/dmitrijs2005/gophvault/internal/client/models"
	"github.com/dmitrijs2005/gophvault/internal/filex"
)

// S3API is the subset of *s3.Client the provider uses.
type S3API interface {
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	CopyObject(ctx context.Context, in *s3.CopyObjectInput, optFns ...func(*s3.Options)) (*s3.CopyObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// S3Config describes an S3-compatible bucket (AWS, MinIO, ...).
type S3Config struct {
	Bucket    string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
	// Prefix scopes the vault inside the bucket.
	Prefix   string
	PageSize int32
}

var loadDefaultAWSConfig = config.LoadDefaultConfig

// NewS3Client builds an S3 client with static credentials and an optional
// custom endpoint.
func NewS3Client(ctx context.Context, c S3Config) (*s3.Client, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(c.Region)}
	if c.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(c.AccessKey, c.SecretKey, "")))
	}
	cfg, err := loadDefaultAWSConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		if c.Endpoint != "" {
			o.BaseEndpoint = aws.String(c.Endpoint)
			o.UsePathStyle = true
		}
	}), nil
}

// S3 stores files as objects keyed by their path. A folder is a
// zero-byte marker object whose key ends in "/"; folders that only exist
// implicitly through their contents are recognised as well.
type S3 struct {
	api      S3API
	bucket   string
	prefix   string
	pageSize int32
}

func NewS3(api S3API, c S3Config) *S3 {
	prefix := strings.Trim(c.Prefix, "/")
	if prefix != "" {
		prefix += "/"
	}
	pageSize := c.PageSize
	if pageSize <= 0 {
		pageSize = 1000
	}
	return &S3{api: api, bucket: c.Bucket, prefix: prefix, pageSize: pageSize}
}

func (s *S3) key(p string) string {
	return s.prefix + strings.TrimPrefix(path.Clean("/"+p), "/")
}

// folderPrefix is the key prefix of everything inside folder p.
func (s *S3) folderPrefix(p string) string {
	k := s.key(p)
	if k == "" || strings.HasSuffix(k, "/") {
		return k
	}
	return k + "/"
}

func (s *S3) pathOf(key string) string {
	return "/" + strings.TrimSuffix(strings.TrimPrefix(key, s.prefix), "/")
}

func isRoot(p string) bool { return path.Clean("/"+p) == "/" }

// mapS3Error translates SDK failures into provider error kinds.
func mapS3Error(op, p string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var ae smithy.APIError
	if errors.As(err, &ae) {
		switch ae.ErrorCode() {
		case "NoSuchKey", "NotFound", "NoSuchBucket":
			return fmt.Errorf("%s %s: %w", op, p, ErrNotFound)
		case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch", "ExpiredToken", "InvalidToken":
			return fmt.Errorf("%s %s: %w", op, p, ErrUnauthorized)
		case "SlowDown", "Throttling", "ThrottlingException", "TooManyRequests", "RequestLimitExceeded":
			return fmt.Errorf("%s %s: %w", op, p, ErrRateLimited)
		case "QuotaExceeded", "EntityTooLarge":
			return fmt.Errorf("%s %s: %w", op, p, ErrQuotaExceeded)
		}
	}

	var re *awshttp.ResponseError
	if errors.As(err, &re) {
		switch re.HTTPStatusCode() {
		case 401, 403:
			return fmt.Errorf("%s %s: %w", op, p, ErrUnauthorized)
		case 404:
			return fmt.Errorf("%s %s: %w", op, p, ErrNotFound)
		case 429, 503:
			return fmt.Errorf("%s %s: %w", op, p, ErrRateLimited)
		}
	}

	var se *smithyhttp.RequestSendError
	var ne net.Error
	if errors.As(err, &se) || errors.As(err, &ne) {
		return fmt.Errorf("%s %s: %w: %v", op, p, ErrNoConnectivity, err)
	}
	return fmt.Errorf("%s %s: %w", op, p, err)
}

func (s *S3) head(ctx context.Context, key string) (*s3.HeadObjectOutput, error) {
	return s.api.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(key)})
}

func (s *S3) fileMetadata(p string, size *int64, mod *time.Time) ItemMetadata {
	m := ItemMetadata{Name: path.Base(p), Path: path.Clean("/" + p), Type: models.ItemTypeFile, Size: size}
	if mod != nil {
		m.LastModified = ptr(mod.UTC())
	}
	return m
}

func folderMetadata(p string) ItemMetadata {
	clean := path.Clean("/" + p)
	return ItemMetadata{Name: path.Base(clean), Path: clean, Type: models.ItemTypeFolder}
}

func (s *S3) FetchMetadata(ctx context.Context, p string) (ItemMetadata, error) {
	if isRoot(p) {
		return folderMetadata("/"), nil
	}
	out, err := s.head(ctx, s.key(p))
	if err == nil {
		return s.fileMetadata(p, out.ContentLength, out.LastModified), nil
	}
	if mapped := mapS3Error("fetch", p, err); !errors.Is(mapped, ErrNotFound) {
		return ItemMetadata{}, mapped
	}

	exists, err := s.folderExists(ctx, p)
	if err != nil {
		return ItemMetadata{}, err
	}
	if !exists {
		return ItemMetadata{}, fmt.Errorf("fetch %s: %w", p, ErrNotFound)
	}
	return folderMetadata(p), nil
}

// folderExists looks for the folder marker or any object below it.
func (s *S3) folderExists(ctx context.Context, p string) (bool, error) {
	if isRoot(p) {
		return true, nil
	}
	out, err := s.api.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(s.bucket),
		Prefix:  aws.String(s.folderPrefix(p)),
		MaxKeys: aws.Int32(1),
	})
	if err != nil {
		return false, mapS3Error("fetch", p, err)
	}
	return len(out.Contents) > 0 || len(out.CommonPrefixes) > 0, nil
}

func (s *S3) ListFolder(ctx context.Context, p string, pageToken *string) (ItemList, error) {
	prefix := s.folderPrefix(p)
	out, err := s.api.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:            aws.String(s.bucket),
		Prefix:            aws.String(prefix),
		Delimiter:         aws.String("/"),
		ContinuationToken: pageToken,
		MaxKeys:           aws.Int32(s.pageSize),
	})
	if err != nil {
		return ItemList{}, mapS3Error("list", p, err)
	}

	var list ItemList
	for _, cp := range out.CommonPrefixes {
		list.Items = append(list.Items, folderMetadata(s.pathOf(aws.ToString(cp.Prefix))))
	}
	for _, obj := range out.Contents {
		key := aws.ToString(obj.Key)
		if key == prefix || strings.HasPrefix(path.Base(key), filex.TempPrefix) {
			continue
		}
		list.Items = append(list.Items, s.fileMetadata(s.pathOf(key), obj.Size, obj.LastModified))
	}
	if len(list.Items) == 0 && pageToken == nil && !isRoot(p) {
		exists, err := s.folderExists(ctx, p)
		if err != nil {
			return ItemList{}, err
		}
		if !exists {
			return ItemList{}, fmt.Errorf("list %s: %w", p, ErrNotFound)
		}
	}
	if aws.ToBool(out.IsTruncated) {
		list.NextPageToken = out.NextContinuationToken
	}
	return list, nil
}

func (s *S3) Download(ctx context.Context, p string, localPath string) error {
	out, err := s.api.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(s.key(p))})
	if err != nil {
		return mapS3Error("download", p, err)
	}
	defer out.Body.Close()

	if err := filex.WriteAtomically(ctx, out.Body, localPath); err != nil {
		return mapS3Error("download", p, err)
	}
	return nil
}

func (s *S3) checkParent(ctx context.Context, p string) error {
	parent := path.Dir(path.Clean("/" + p))
	exists, err := s.folderExists(ctx, parent)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%s: %w", p, ErrParentNotFound)
	}
	return nil
}

func (s *S3) Upload(ctx context.Context, localPath string, p string, replaceExisting bool) (ItemMetadata, error) {
	if err := s.checkParent(ctx, p); err != nil {
		return ItemMetadata{}, err
	}
	existing, err := s.FetchMetadata(ctx, p)
	switch {
	case err == nil && existing.Type == models.ItemTypeFolder:
		return ItemMetadata{}, fmt.Errorf("upload %s: %w", p, ErrTypeMismatch)
	case err == nil && !replaceExisting:
		return ItemMetadata{}, fmt.Errorf("upload %s: %w", p, ErrAlreadyExists)
	case err != nil && !errors.Is(err, ErrNotFound):
		return ItemMetadata{}, err
	}

	f, err := os.Open(localPath)
	if err != nil {
		return ItemMetadata{}, fmt.Errorf("open %s: %w", localPath, err)
	}
	defer f.Close()

	_, err = s.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.key(p)),
		Body:        f,
		ContentType: aws.String("application/octet-stream"),
	})
	if err != nil {
		return ItemMetadata{}, mapS3Error("upload", p, err)
	}
	return s.FetchMetadata(ctx, p)
}

func (s *S3) CreateFolder(ctx context.Context, p string) error {
	if err := s.checkParent(ctx, p); err != nil {
		return err
	}
	if _, err := s.FetchMetadata(ctx, p); err == nil {
		return fmt.Errorf("create folder %s: %w", p, ErrAlreadyExists)
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}
	_, err := s.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.folderPrefix(p)),
		Body:   strings.NewReader(""),
	})
	return mapS3Error("create folder", p, err)
}

// keysUnder lists every object key in the subtree of folder p,
// including its marker.
func (s *S3) keysUnder(ctx context.Context, p string) ([]string, error) {
	var keys []string
	var token *string
	for {
		out, err := s.api.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(s.bucket),
			Prefix:            aws.String(s.folderPrefix(p)),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, mapS3Error("list", p, err)
		}
		for _, obj := range out.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
		if !aws.ToBool(out.IsTruncated) {
			return keys, nil
		}
		token = out.NextContinuationToken
	}
}

func (s *S3) deleteKey(ctx context.Context, key string) error {
	_, err := s.api.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(key)})
	return err
}

func (s *S3) Delete(ctx context.Context, p string) error {
	if isRoot(p) {
		return fmt.Errorf("delete root: %w", ErrTypeMismatch)
	}
	meta, err := s.FetchMetadata(ctx, p)
	if err != nil {
		return err
	}
	if meta.Type == models.ItemTypeFile {
		return mapS3Error("delete", p, s.deleteKey(ctx, s.key(p)))
	}
	keys, err := s.keysUnder(ctx, p)
	if err != nil {
		return err
	}
	for _, k := range keys {
		if err := s.deleteKey(ctx, k); err != nil {
			return mapS3Error("delete", p, err)
		}
	}
	return nil
}

func (s *S3) copyKey(ctx context.Context, from, to string) error {
	_, err := s.api.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:            aws.String(s.bucket),
		CopySource:        aws.String(s.bucket + "/" + from),
		Key:               aws.String(to),
		MetadataDirective: types.MetadataDirectiveCopy,
	})
	return err
}

// Move copies then deletes, since S3 has no rename. A folder is moved
// object by object.
func (s *S3) Move(ctx context.Context, from, to string) error {
	meta, err := s.FetchMetadata(ctx, from)
	if err != nil {
		return err
	}
	if err := s.checkParent(ctx, to); err != nil {
		return err
	}
	if _, err := s.FetchMetadata(ctx, to); err == nil {
		return fmt.Errorf("move to %s: %w", to, ErrAlreadyExists)
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}

	if meta.Type == models.ItemTypeFile {
		if err := s.copyKey(ctx, s.key(from), s.key(to)); err != nil {
			return mapS3Error("move", from, err)
		}
		return mapS3Error("move", from, s.deleteKey(ctx, s.key(from)))
	}

	keys, err := s.keysUnder(ctx, from)
	if err != nil {
		return err
	}
	oldPrefix, newPrefix := s.folderPrefix(from), s.folderPrefix(to)
	for _, k := range keys {
		if err := s.copyKey(ctx, k, newPrefix+strings.TrimPrefix(k, oldPrefix)); err != nil {
			return mapS3Error("move", from, err)
		}
	}
	for _, k := range keys {
		if err := s.deleteKey(ctx, k); err != nil {
			return mapS3Error("move", from, err)
		}
	}
	return nil
}
