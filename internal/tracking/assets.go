package tracking

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/sentinel-hq/sentinel/internal/pkg/logger"
)

// pixelPNG is a 1x1 transparent PNG, the fallback body for the open route.
var pixelPNG = []byte{
	0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a, 0x00, 0x00, 0x00, 0x0d,
	0x49, 0x48, 0x44, 0x52, 0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x01,
	0x08, 0x06, 0x00, 0x00, 0x00, 0x1f, 0x15, 0xc4, 0x89, 0x00, 0x00, 0x00,
	0x0d, 0x49, 0x44, 0x41, 0x54, 0x78, 0x9c, 0x62, 0x00, 0x01, 0x00, 0x00,
	0x05, 0x00, 0x01, 0x0d, 0x0a, 0x2d, 0xb4, 0x00, 0x00, 0x00, 0x00, 0x49,
	0x45, 0x4e, 0x44, 0xae, 0x42, 0x60, 0x82,
}

// AssetServer serves the branded open-tracking image from S3, cached in
// memory. Any fetch problem falls back to the inline pixel so the open
// route never depends on S3 being up.
type AssetServer struct {
	client *s3.Client
	bucket string
	key    string
	log    *logger.Logger

	mu        sync.Mutex
	cached    []byte
	fetchedAt time.Time
}

const assetCacheTTL = time.Hour

func NewAssetServer(client *s3.Client, bucket, key string) *AssetServer {
	return &AssetServer{
		client: client,
		bucket: bucket,
		key:    key,
		log:    logger.Component("tracking-assets"),
	}
}

// Image returns the branded image bytes, or nil when the caller should
// serve the inline pixel instead.
func (a *AssetServer) Image(ctx context.Context) []byte {
	if a == nil || a.client == nil || a.bucket == "" || a.key == "" {
		return nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.cached != nil && time.Since(a.fetchedAt) < assetCacheTTL {
		return a.cached
	}

	out, err := a.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(a.key),
	})
	if err != nil {
		a.log.Warn("asset fetch failed, serving pixel", "error", err.Error())
		return a.cached
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		a.log.Warn("asset read failed, serving pixel", "error", err.Error())
		return a.cached
	}

	a.cached = data
	a.fetchedAt = time.Now()
	return a.cached
}
