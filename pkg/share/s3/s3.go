// Package s3 implements a share store on Amazon S3 or S3-compatible object
// storage.
//
// Each record is one JSON object at "<prefix><identity>.json". This store
// exists for fleets that distribute share configuration through a bucket:
// a new machine pointed at the bucket replays the same shares on startup
// without any local state. Last-write-wins semantics on concurrent saves
// match S3's consistency model and are acceptable for configuration-rate
// updates.
package s3

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/marmos91/swarmsync/pkg/secret"
	"github.com/marmos91/swarmsync/pkg/share"
)

// S3Store is an S3-backed share store. Safe for concurrent use.
type S3Store struct {
	client    *s3.Client
	bucket    string
	keyPrefix string
}

// S3StoreConfig configures the store.
type S3StoreConfig struct {
	// Client is the configured S3 client. Required.
	Client *s3.Client

	// Bucket is the bucket name. The bucket must already exist; this store
	// does not create it.
	Bucket string

	// KeyPrefix is an optional prefix for all object keys, e.g.
	// "swarmsync/shares/".
	KeyPrefix string
}

// NewS3Store creates the store and verifies bucket access with a cheap
// HeadBucket call.
func NewS3Store(ctx context.Context, cfg S3StoreConfig) (*S3Store, error) {
	if cfg.Client == nil {
		return nil, fmt.Errorf("s3 share store: client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 share store: bucket is required")
	}

	s := &S3Store{
		client:    cfg.Client,
		bucket:    cfg.Bucket,
		keyPrefix: cfg.KeyPrefix,
	}

	if _, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(s.bucket),
	}); err != nil {
		return nil, fmt.Errorf("failed to access bucket %q: %w", s.bucket, err)
	}
	return s, nil
}

// LoadAll lists and fetches every share object under the key prefix.
func (s *S3Store) LoadAll(ctx context.Context) ([]*share.Share, error) {
	var out []*share.Share

	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.keyPrefix),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list share objects: %w", err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if !strings.HasSuffix(key, ".json") {
				continue
			}
			rec, err := s.getObject(ctx, key)
			if err != nil {
				return nil, err
			}
			out = append(out, rec)
		}
	}
	return out, nil
}

// Save upserts a share record by identity.
func (s *S3Store) Save(ctx context.Context, rec *share.Share) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode share record: %w", err)
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.key(rec.ID)),
		Body:        strings.NewReader(string(data)),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("failed to store share %s: %w", rec.ID, err)
	}
	return nil
}

// Remove deletes a share record, returning share.ErrNotFound if absent.
func (s *S3Store) Remove(ctx context.Context, id secret.Identity) error {
	// S3 deletes are idempotent and report success for missing keys, so
	// existence has to be checked first to honor the store contract.
	if _, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(id)),
	}); err != nil {
		var nf *types.NotFound
		if errors.As(err, &nf) {
			return share.ErrNotFound
		}
		return fmt.Errorf("failed to check share %s: %w", id, err)
	}

	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(id)),
	})
	if err != nil {
		return fmt.Errorf("failed to delete share %s: %w", id, err)
	}
	return nil
}

// Get returns one share record, or share.ErrNotFound.
func (s *S3Store) Get(ctx context.Context, id secret.Identity) (*share.Share, error) {
	rec, err := s.getObject(ctx, s.key(id))
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, share.ErrNotFound
		}
		return nil, err
	}
	return rec, nil
}

// Close is a no-op: the S3 client holds no local resources worth releasing.
func (s *S3Store) Close() error {
	return nil
}

func (s *S3Store) getObject(ctx context.Context, key string) (*share.Share, error) {
	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to fetch share object %q: %w", key, err)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read share object %q: %w", key, err)
	}

	var rec share.Share
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("corrupt share object %q: %w", key, err)
	}
	return &rec, nil
}

func (s *S3Store) key(id secret.Identity) string {
	return s.keyPrefix + string(id) + ".json"
}
