package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	// bucket drivers available to --output and inspect urls
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/memblob"
	_ "gocloud.dev/blob/s3blob"

	zarr "github.com/zarrgl/zarr-go"
)

// openStore opens a bucket url as a blob store and anything else as a local
// directory. Local directories are created unless mustExist is set.
func openStore(ctx context.Context, location string, mustExist bool) (zarr.Store, func() error, error) {
	if strings.Contains(location, "://") {
		s, err := zarr.OpenBlobStore(ctx, location)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	}

	if mustExist {
		if _, err := os.Stat(location); err != nil {
			return nil, nil, fmt.Errorf("opening store: %w", err)
		}
	}
	s, err := zarr.NewLocalStore(location)
	if err != nil {
		return nil, nil, err
	}
	return s, func() error { return nil }, nil
}
