// Package sink opens export targets named by URL: local paths, "-" for
// stdout, s3://bucket/key and gs://bucket/key. Closing the returned writer
// commits the object; a failed upload surfaces from Close. Abort discards
// a partially written object instead.
package sink

import (
	"context"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/ajitpratap0/quarry/pkg/errors"
)

// Kind is the storage backend of a target.
type Kind string

const (
	// File is a local file
	File Kind = "file"
	// Stdout is the process standard output
	Stdout Kind = "stdout"
	// S3 is an Amazon S3 object
	S3 Kind = "s3"
	// GCS is a Google Cloud Storage object
	GCS Kind = "gs"
)

// Target is a parsed export destination.
type Target struct {
	Kind   Kind
	Path   string
	Bucket string
	Key    string
}

func (t Target) String() string {
	switch t.Kind {
	case S3, GCS:
		return string(t.Kind) + "://" + t.Bucket + "/" + t.Key
	case Stdout:
		return "-"
	default:
		return t.Path
	}
}

// Meta is attached to uploaded objects.
type Meta struct {
	ContentType string
	Metadata    map[string]string
}

// ParseTarget parses raw. Empty and "-" mean stdout.
func ParseTarget(raw string) (Target, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "-" {
		return Target{Kind: Stdout}, nil
	}
	if !strings.Contains(raw, "://") {
		return Target{Kind: File, Path: raw}, nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return Target{}, errors.Wrap(err, errors.ErrorTypeParse, "malformed output URL")
	}
	switch strings.ToLower(u.Scheme) {
	case "file":
		return Target{Kind: File, Path: u.Host + u.Path}, nil
	case "s3", "gs", "gcs":
		key := strings.TrimPrefix(u.Path, "/")
		if u.Host == "" || key == "" {
			return Target{}, errors.Newf(errors.ErrorTypeParse, "output URL %s needs a bucket and a key", raw)
		}
		kind := S3
		if u.Scheme != "s3" {
			kind = GCS
		}
		return Target{Kind: kind, Bucket: u.Host, Key: key}, nil
	default:
		return Target{}, errors.Newf(errors.ErrorTypeConfig, "unsupported output scheme %q", u.Scheme)
	}
}

// Opener opens object storage writers. Zero value Openers create clients
// from the ambient cloud credentials on first use.
type Opener struct {
	S3Region string
	S3       *S3Uploader
	GCS      *GCSUploader
}

// Open opens t for writing.
func (o *Opener) Open(ctx context.Context, t Target, meta Meta) (io.WriteCloser, error) {
	switch t.Kind {
	case Stdout:
		return nopCloser{os.Stdout}, nil
	case File:
		if dir := filepath.Dir(t.Path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to create output directory")
			}
		}
		f, err := os.Create(t.Path) //nolint:gosec // G304: path is supplied by the operator
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to create output file").WithDetail("path", t.Path)
		}
		return &fileWriter{File: f}, nil
	case S3:
		if o.S3 == nil {
			u, err := NewS3Uploader(ctx, o.S3Region)
			if err != nil {
				return nil, err
			}
			o.S3 = u
		}
		return o.S3.Open(ctx, t.Bucket, t.Key, meta), nil
	case GCS:
		if o.GCS == nil {
			u, err := NewGCSUploader(ctx)
			if err != nil {
				return nil, err
			}
			o.GCS = u
		}
		return o.GCS.Open(ctx, t.Bucket, t.Key, meta), nil
	default:
		return nil, errors.Newf(errors.ErrorTypeConfig, "unsupported output kind %q", t.Kind)
	}
}

// Aborter is implemented by writers that can discard what was written.
type Aborter interface {
	Abort(cause error) error
}

// Abort discards w after a failed export so that no truncated object is
// committed. Writers without an abort path are closed.
func Abort(w io.WriteCloser, cause error) error {
	if a, ok := w.(Aborter); ok {
		return a.Abort(cause)
	}
	return w.Close()
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

type fileWriter struct {
	*os.File
}

func (f *fileWriter) Abort(error) error {
	_ = f.File.Close()
	if err := os.Remove(f.Name()); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, errors.ErrorTypeInternal, "failed to remove partial output").WithDetail("path", f.Name())
	}
	return nil
}
