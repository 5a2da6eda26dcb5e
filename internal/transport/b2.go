package transport

import (
	"context"
	"fmt"
	"net/http"

	"github.com/Backblaze/blazer/b2"
)

// B2Config configures the b2:// backend.
type B2Config struct {
	AccountID      string
	ApplicationKey string
	ChunkSize      int
}

// B2 downloads b2://bucket/object artifacts from Backblaze.
type B2 struct {
	cfg B2Config
}

// NewB2 returns a Backblaze B2 backend.
func NewB2(cfg B2Config) *B2 {
	return &B2{cfg: cfg}
}

// Download implements Transport.
func (b *B2) Download(ctx context.Context, uri string, onChunk ChunkFunc, resumeOffset int64) (Response, error) {
	bucketName, object, err := splitObjectURI(uri)
	if err != nil {
		return Response{}, err
	}
	if b.cfg.AccountID == "" || b.cfg.ApplicationKey == "" {
		return Response{}, fmt.Errorf("b2 account id and application key are required")
	}

	client, err := b2.NewClient(ctx, b.cfg.AccountID, b.cfg.ApplicationKey)
	if err != nil {
		return Response{}, fmt.Errorf("create b2 client: %w", err)
	}
	bucket, err := client.Bucket(ctx, bucketName)
	if err != nil {
		if b2.IsNotExist(err) {
			return Response{StatusCode: http.StatusNotFound}, nil
		}
		return Response{}, fmt.Errorf("b2 bucket %s: %w", bucketName, err)
	}

	r := bucket.Object(object).NewRangeReader(ctx, resumeOffset, -1)
	defer r.Close()

	n, err := stream(ctx, r, b.cfg.ChunkSize, onChunk)
	if err != nil && n == 0 && b2.IsNotExist(err) {
		return Response{StatusCode: http.StatusNotFound}, nil
	}
	return Response{StatusCode: successStatus(resumeOffset), Bytes: n}, err
}
