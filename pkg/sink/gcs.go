package sink

import (
	"context"
	"io"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/ajitpratap0/quarry/pkg/errors"
)

// GCSUploader writes objects to Google Cloud Storage.
type GCSUploader struct {
	client *storage.Client
}

// NewGCSUploader creates a client from application default credentials.
func NewGCSUploader(ctx context.Context, opts ...option.ClientOption) (*GCSUploader, error) {
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to create GCS client")
	}
	return &GCSUploader{client: client}, nil
}

// Open returns an object writer. The object becomes visible on Close;
// cancelling the writer context discards it.
func (g *GCSUploader) Open(ctx context.Context, bucket, key string, meta Meta) io.WriteCloser {
	ctx, cancel := context.WithCancel(ctx)
	w := g.client.Bucket(bucket).Object(key).NewWriter(ctx)
	w.ContentType = meta.ContentType
	w.Metadata = meta.Metadata
	return &gcsWriter{w: w, cancel: cancel}
}

// Close closes the client.
func (g *GCSUploader) Close() error {
	return g.client.Close()
}

type gcsWriter struct {
	w      *storage.Writer
	cancel context.CancelFunc
}

func (g *gcsWriter) Write(b []byte) (int, error) {
	n, err := g.w.Write(b)
	if err != nil {
		return n, errors.Wrap(err, errors.ErrorTypeConnection, "GCS upload failed")
	}
	return n, nil
}

func (g *gcsWriter) Abort(error) error {
	g.cancel()
	_ = g.w.Close()
	return nil
}

func (g *gcsWriter) Close() error {
	defer g.cancel()
	if err := g.w.Close(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "failed to write to GCS")
	}
	return nil
}
