package zarr

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"
)

const BlobStoreType = "BlobStore"

// BlobStore keeps keys as objects in a gocloud bucket, which can be backed by
// a local directory (file://), memory (mem://), S3 (s3://) or GCS (gs://),
// depending on which drivers the program links in.
type BlobStore struct {
	bucket *blob.Bucket
	ref    string
	ctx    context.Context
}

var _ ContextStore = (*BlobStore)(nil)

// OpenBlobStore opens the bucket at urlstr. A path after the bucket name of
// s3:// and gs:// urls becomes a key prefix.
func OpenBlobStore(ctx context.Context, urlstr string) (*BlobStore, error) {
	ref, prefix := urlstr, ""
	for _, scheme := range []string{"s3://", "gs://"} {
		if strings.HasPrefix(urlstr, scheme) {
			rest := strings.TrimPrefix(urlstr, scheme)
			query := ""
			if i := strings.Index(rest, "?"); i >= 0 {
				rest, query = rest[:i], rest[i:]
			}
			parts := strings.SplitN(rest, "/", 2)
			ref = scheme + parts[0] + query
			if len(parts) == 2 {
				prefix = strings.Trim(parts[1], "/")
			}
		}
	}

	bucket, err := blob.OpenBucket(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("opening bucket %q: %w", urlstr, err)
	}
	if prefix != "" {
		bucket = blob.PrefixedBucket(bucket, prefix+"/")
	}
	return NewBlobStore(bucket, urlstr), nil
}

// NewBlobStore wraps an open bucket. The store takes ownership of bucket.
func NewBlobStore(bucket *blob.Bucket, ref string) *BlobStore {
	return &BlobStore{bucket: bucket, ref: ref, ctx: context.Background()}
}

// WithContext returns a store sharing the bucket whose operations use ctx.
// Closing either store closes the bucket.
func (s *BlobStore) WithContext(ctx context.Context) Store {
	cp := *s
	cp.ctx = ctx
	return &cp
}

func (s *BlobStore) Type() string { return BlobStoreType }

func (s *BlobStore) String() string { return fmt.Sprintf("blob store @ %s", s.ref) }

func (s *BlobStore) Close() error { return s.bucket.Close() }

func (s *BlobStore) Get(key string) (io.ReadCloser, error) {
	ctx := s.ctx
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r, err := s.bucket.NewReader(ctx, key, nil)
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return nil, fmt.Errorf("%w: %s", ErrNotfound, key)
		}
		return nil, err
	}
	return r, nil
}

func (s *BlobStore) Put(key string, val io.Reader) error {
	ctx := s.ctx
	if err := ctx.Err(); err != nil {
		return err
	}
	w, err := s.bucket.NewWriter(ctx, key, nil)
	if err != nil {
		return err
	}
	if _, err := io.Copy(w, val); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

func (s *BlobStore) Delete(prefix string) error {
	keys, err := s.List(prefix)
	if err != nil {
		return err
	}
	ctx := s.ctx
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.bucket.Delete(ctx, key); err != nil && gcerrors.Code(err) != gcerrors.NotFound {
			return err
		}
	}
	return nil
}

func (s *BlobStore) List(prefix string) ([]string, error) {
	ctx := s.ctx
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	opts := &blob.ListOptions{}
	if prefix != "" {
		opts.Prefix = prefix
	}
	var keys []string
	iter := s.bucket.List(opts)
	for {
		obj, err := iter.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if obj.IsDir || !underPrefix(obj.Key, prefix) {
			continue
		}
		keys = append(keys, obj.Key)
	}
	sort.Strings(keys)
	return keys, nil
}
