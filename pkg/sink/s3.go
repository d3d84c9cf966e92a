package sink

import (
	"context"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/ajitpratap0/quarry/pkg/errors"
)

const (
	defaultUploadPartSize    = 5 * 1024 * 1024
	defaultUploadConcurrency = 4
)

// S3Uploader streams objects to S3 with multipart uploads.
type S3Uploader struct {
	uploader *manager.Uploader
}

// NewS3Uploader loads the default AWS configuration.
func NewS3Uploader(ctx context.Context, region string) (*S3Uploader, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to load AWS configuration")
	}
	return NewS3UploaderFromClient(s3.NewFromConfig(cfg)), nil
}

// NewS3UploaderFromClient uses an existing client.
func NewS3UploaderFromClient(client *s3.Client) *S3Uploader {
	return &S3Uploader{uploader: manager.NewUploader(client, func(u *manager.Uploader) {
		u.PartSize = defaultUploadPartSize
		u.Concurrency = defaultUploadConcurrency
	})}
}

// Open starts an upload fed by the returned writer.
func (u *S3Uploader) Open(ctx context.Context, bucket, key string, meta Meta) io.WriteCloser {
	pr, pw := io.Pipe()
	w := &pipeUpload{pw: pw, done: make(chan error, 1)}
	input := &s3.PutObjectInput{
		Bucket:   aws.String(bucket),
		Key:      aws.String(key),
		Body:     pr,
		Metadata: meta.Metadata,
	}
	if meta.ContentType != "" {
		input.ContentType = aws.String(meta.ContentType)
	}
	go func() {
		_, err := u.uploader.Upload(ctx, input)
		// unblock the writer if the upload stops reading early
		_ = pr.CloseWithError(err)
		w.done <- err
	}()
	return w
}

type pipeUpload struct {
	pw   *io.PipeWriter
	done chan error
}

func (p *pipeUpload) Write(b []byte) (int, error) {
	n, err := p.pw.Write(b)
	if err != nil {
		return n, errors.Wrap(err, errors.ErrorTypeConnection, "S3 upload failed")
	}
	return n, nil
}

// Abort fails the upload body so that the uploader never completes the
// object. Multipart uploads already started are aborted by the uploader.
func (p *pipeUpload) Abort(cause error) error {
	if cause == nil {
		cause = errors.New(errors.ErrorTypeAborted, "upload aborted")
	}
	_ = p.pw.CloseWithError(cause)
	<-p.done
	return nil
}

func (p *pipeUpload) Close() error {
	_ = p.pw.Close()
	if err := <-p.done; err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "failed to upload to S3")
	}
	return nil
}
