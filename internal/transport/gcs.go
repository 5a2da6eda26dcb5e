package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// GCSConfig configures the gs:// backend.
type GCSConfig struct {
	// CredentialsFile is a service account key. When empty, Anonymous
	// selects unauthenticated access and otherwise application default
	// credentials are used.
	CredentialsFile string
	Anonymous       bool
	ChunkSize       int
}

// GCS downloads gs://bucket/object artifacts.
type GCS struct {
	cfg GCSConfig
}

// NewGCS returns a Google Cloud Storage backend.
func NewGCS(cfg GCSConfig) *GCS {
	return &GCS{cfg: cfg}
}

// Download implements Transport.
func (g *GCS) Download(ctx context.Context, uri string, onChunk ChunkFunc, resumeOffset int64) (Response, error) {
	bucket, object, err := splitObjectURI(uri)
	if err != nil {
		return Response{}, err
	}

	var opts []option.ClientOption
	switch {
	case g.cfg.CredentialsFile != "":
		opts = append(opts, option.WithCredentialsFile(g.cfg.CredentialsFile))
	case g.cfg.Anonymous:
		opts = append(opts, option.WithoutAuthentication())
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return Response{}, fmt.Errorf("create gcs client: %w", err)
	}
	defer client.Close()

	r, err := client.Bucket(bucket).Object(object).NewRangeReader(ctx, resumeOffset, -1)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) || errors.Is(err, storage.ErrBucketNotExist) {
			return Response{StatusCode: http.StatusNotFound}, nil
		}
		return Response{}, fmt.Errorf("gcs read %s/%s: %w", bucket, object, err)
	}
	defer r.Close()

	n, err := stream(ctx, r, g.cfg.ChunkSize, onChunk)
	return Response{StatusCode: successStatus(resumeOffset), Bytes: n}, err
}
