package sink

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/quarry/pkg/errors"
)

func TestParseTarget(t *testing.T) {
	tests := []struct {
		raw  string
		want Target
	}{
		{"", Target{Kind: Stdout}},
		{"-", Target{Kind: Stdout}},
		{"out/result.parquet", Target{Kind: File, Path: "out/result.parquet"}},
		{"file:///tmp/r.jsonl", Target{Kind: File, Path: "/tmp/r.jsonl"}},
		{"s3://bucket/exports/r.parquet", Target{Kind: S3, Bucket: "bucket", Key: "exports/r.parquet"}},
		{"gs://bucket/r.avro", Target{Kind: GCS, Bucket: "bucket", Key: "r.avro"}},
	}
	for _, tt := range tests {
		got, err := ParseTarget(tt.raw)
		require.NoError(t, err, tt.raw)
		assert.Equal(t, tt.want, got, tt.raw)
	}

	_, err := ParseTarget("s3://bucket")
	assert.True(t, errors.IsType(err, errors.ErrorTypeParse))
	_, err = ParseTarget("ftp://host/file")
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
	assert.Equal(t, "s3://b/k", Target{Kind: S3, Bucket: "b", Key: "k"}.String())
}

func TestOpenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "out.jsonl")
	var o Opener
	w, err := o.Open(context.Background(), Target{Kind: File, Path: path}, Meta{})
	require.NoError(t, err)
	_, err = io.WriteString(w, "{}\n")
	require.NoError(t, err)
	require.NoError(t, w.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "{}\n", string(data))
}

func TestAbortFileRemovesPartialOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.parquet")
	var o Opener
	w, err := o.Open(context.Background(), Target{Kind: File, Path: path}, Meta{})
	require.NoError(t, err)
	_, err = io.WriteString(w, "PAR1 truncated")
	require.NoError(t, err)

	require.NoError(t, Abort(w, fmt.Errorf("record batch 3 failed")))
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err), "partial file left behind: %v", err)
}

func TestAbortStdoutCloses(t *testing.T) {
	var o Opener
	w, err := o.Open(context.Background(), Target{Kind: Stdout}, Meta{})
	require.NoError(t, err)
	assert.NoError(t, Abort(w, fmt.Errorf("write failed")))
}

func TestS3AbortNeverCommits(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		requests.Add(1)
		w.Header().Set("ETag", `"abc"`)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := s3.New(s3.Options{
		Region:       "us-east-1",
		BaseEndpoint: aws.String(srv.URL),
		UsePathStyle: true,
		Credentials:  aws.AnonymousCredentials{},
	})
	o := Opener{S3: NewS3UploaderFromClient(client)}

	w, err := o.Open(context.Background(), Target{Kind: S3, Bucket: "exports", Key: "run/r.parquet"}, Meta{})
	require.NoError(t, err)
	_, err = io.WriteString(w, "PAR1 truncated")
	require.NoError(t, err)

	require.NoError(t, Abort(w, fmt.Errorf("record batch 3 failed")))
	assert.Zero(t, requests.Load(), "aborted upload reached the server")
}

func TestS3Upload(t *testing.T) {
	var (
		mu     sync.Mutex
		method string
		path   string
		format string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		mu.Lock()
		method, path, format = r.Method, r.URL.Path, r.Header.Get("X-Amz-Meta-Format")
		mu.Unlock()
		w.Header().Set("ETag", `"abc"`)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := s3.New(s3.Options{
		Region:       "us-east-1",
		BaseEndpoint: aws.String(srv.URL),
		UsePathStyle: true,
		Credentials:  aws.AnonymousCredentials{},
	})
	o := Opener{S3: NewS3UploaderFromClient(client)}

	w, err := o.Open(context.Background(), Target{Kind: S3, Bucket: "exports", Key: "run/r.jsonl"},
		Meta{ContentType: "application/x-ndjson", Metadata: map[string]string{"format": "json"}})
	require.NoError(t, err)
	_, err = io.WriteString(w, `{"col_0":1}`+"\n")
	require.NoError(t, err)
	require.NoError(t, w.Close())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, http.MethodPut, method)
	assert.Equal(t, "/exports/run/r.jsonl", path)
	assert.Equal(t, "json", format)
}

func TestS3UploadFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	client := s3.New(s3.Options{
		Region:           "us-east-1",
		BaseEndpoint:     aws.String(srv.URL),
		UsePathStyle:     true,
		Credentials:      aws.AnonymousCredentials{},
		RetryMaxAttempts: 1,
	})
	u := NewS3UploaderFromClient(client)

	w := u.Open(context.Background(), "exports", "r.jsonl", Meta{})
	_, _ = io.WriteString(w, "x")
	err := w.Close()
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConnection))
}
