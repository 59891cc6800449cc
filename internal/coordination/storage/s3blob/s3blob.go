// Package s3blob is the object-store mode of the Blob Store:
// content-addressed byte blobs held in an S3-compatible bucket instead of
// inline in SQLite. Deletes go through the batched DeleteObjects API so
// bulk cleanup stays one round trip per thousand keys.
package s3blob

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	smithyhttp "github.com/aws/smithy-go/transport/http"
	"github.com/google/uuid"

	"github.com/custodia-labs/sercha-coordinator/internal/coordination/domain"
	"github.com/custodia-labs/sercha-coordinator/internal/coordination/ports"
)

// maxDeleteBatch is the maximum number of keys the S3 DeleteObjects API
// accepts in one call.
const maxDeleteBatch = 1000

// Config configures the object-store Blob Store backend.
type Config struct {
	Bucket string
	Prefix string // key prefix within the bucket, e.g. "blobs/"

	// Endpoint overrides the default AWS endpoint resolution, for
	// S3-compatible backends (MinIO, R2, etc). Empty means real AWS S3.
	Endpoint string

	// Region is required even for non-AWS endpoints by the SDK's signer.
	Region string

	// UsePathStyle forces path-style addressing (bucket in the URL path
	// rather than the host), required by most self-hosted S3-compatible
	// servers.
	UsePathStyle bool
}

// Store implements ports.BlobStore against an S3-compatible bucket.
type Store struct {
	client *s3.Client
	bucket string
	prefix string
}

var _ ports.BlobStore = (*Store)(nil)

// New builds a Store from Config, loading AWS credentials the standard way
// (environment, shared config, IMDS) via config.LoadDefaultConfig.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("%w: s3 blob store requires a bucket", domain.ErrConfig)
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("%w: loading aws config: %v", domain.ErrConfig, err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.UsePathStyle
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})

	return &Store{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

func (s *Store) Put(ctx context.Context, content []byte, contentType string) (string, error) {
	return s.putWithID(ctx, newBlobID(), content, contentType)
}

func (s *Store) PutWithPrefix(ctx context.Context, prefix string, content []byte, contentType string) (string, error) {
	return s.putWithID(ctx, prefix+"-"+newBlobID(), content, contentType)
}

func (s *Store) putWithID(ctx context.Context, id string, content []byte, contentType string) (string, error) {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	sum := sha256.Sum256(content)
	hash := hex.EncodeToString(sum[:])

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.key(id)),
		Body:        bytes.NewReader(content),
		ContentType: aws.String(contentType),
		Metadata:    map[string]string{"sha256": hash},
	})
	if err != nil {
		return "", fmt.Errorf("%w: putting blob %s: %v", domain.ErrBackend, id, err)
	}
	return id, nil
}

func (s *Store) Get(ctx context.Context, id string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(id)),
	})
	if isNotFound(err) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: getting blob %s: %v", domain.ErrBackend, id, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading blob %s: %v", domain.ErrBackend, id, err)
	}
	return data, nil
}

func (s *Store) Size(ctx context.Context, id string) (int64, error) {
	md, err := s.Metadata(ctx, id)
	if err != nil {
		return 0, err
	}
	return md.Size, nil
}

// Delete removes a single blob via the same batched DeleteObjects call used
// for bulk cleanup, for one consistent code path through the SDK.
func (s *Store) Delete(ctx context.Context, id string) error {
	return s.DeleteBatch(ctx, []string{id})
}

// DeleteBatch removes multiple blobs in groups of at most maxDeleteBatch
// keys.
func (s *Store) DeleteBatch(ctx context.Context, ids []string) error {
	var errs []error
	for len(ids) != 0 {
		n := min(maxDeleteBatch, len(ids))
		objects := make([]types.ObjectIdentifier, 0, n)
		for _, id := range ids[:n] {
			objects = append(objects, types.ObjectIdentifier{Key: aws.String(s.key(id))})
		}

		out, err := s.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(s.bucket),
			Delete: &types.Delete{Objects: objects},
		})
		if err != nil {
			return fmt.Errorf("%w: deleting blob batch: %v", domain.ErrBackend, err)
		}
		for _, e := range out.Errors {
			errs = append(errs, fmt.Errorf("%s: %s: %s", aws.ToString(e.Key), aws.ToString(e.Code), aws.ToString(e.Message)))
		}
		ids = ids[n:]
	}
	return errors.Join(errs...)
}

func (s *Store) BatchGetText(ctx context.Context, ids []string) (map[string]string, error) {
	result := make(map[string]string, len(ids))
	for _, id := range ids {
		data, err := s.Get(ctx, id)
		if errors.Is(err, domain.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		result[id] = string(data)
	}
	return result, nil
}

func (s *Store) Metadata(ctx context.Context, id string) (domain.BlobMetadata, error) {
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(id)),
	})
	if isNotFound(err) {
		return domain.BlobMetadata{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.BlobMetadata{}, fmt.Errorf("%w: heading blob %s: %v", domain.ErrBackend, id, err)
	}

	md := domain.BlobMetadata{
		ContentType: aws.ToString(out.ContentType),
		Size:        aws.ToInt64(out.ContentLength),
		SHA256:      out.Metadata["sha256"],
	}
	return md, nil
}

// FindByHash is unsupported in object-store mode: S3 has no secondary index
// on object metadata, and scanning the bucket for a matching sha256 tag
// would be an O(n) list operation on every ingested document. Callers that
// need hash-based dedup should run the relational backend.
func (s *Store) FindByHash(ctx context.Context, sha256Hex string) (string, error) {
	return "", fmt.Errorf("%w: hash lookup is not supported by the object-store blob backend", domain.ErrNotSupported)
}

func (s *Store) key(id string) string {
	if s.prefix == "" {
		return id
	}
	return strings.TrimSuffix(s.prefix, "/") + "/" + id
}

func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) {
		return respErr.HTTPStatusCode() == 404
	}
	return false
}

func newBlobID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
