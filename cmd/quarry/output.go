package main

import (
	"context"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ajitpratap0/quarry/pkg/compression"
	arrowdst "github.com/ajitpratap0/quarry/pkg/connector/destinations/arrow"
	"github.com/ajitpratap0/quarry/pkg/errors"
	"github.com/ajitpratap0/quarry/pkg/formats"
	"github.com/ajitpratap0/quarry/pkg/sink"
	"github.com/ajitpratap0/quarry/pkg/types"
)

// outputFlags describe where and how a result is written.
type outputFlags struct {
	format   string
	compress string
	level    int
	out      string
	region   string
}

func (o *outputFlags) register(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVarP(&o.format, "format", "f", string(formats.JSON), "Output format (json, arrow, parquet, avro)")
	f.StringVar(&o.compress, "compress", "", "Compress the output stream (gzip, snappy, lz4, zstd, s2)")
	f.IntVar(&o.level, "compress-level", int(compression.Default), "Compression level from 1 (fastest) to 9 (best)")
	f.StringVarP(&o.out, "out", "o", "-", "Output path, s3://bucket/key, gs://bucket/key or - for stdout")
	f.StringVar(&o.region, "s3-region", "", "AWS region for s3:// outputs")
}

// write exports records to the configured target and returns the rows written.
func (o *outputFlags) write(ctx context.Context, log *zap.Logger, schema types.Schema, records []arrow.Record) (int64, error) {
	format, err := formats.Parse(o.format)
	if err != nil {
		return 0, err
	}
	algo, err := compression.Parse(o.compress)
	if err != nil {
		return 0, err
	}
	target, err := sink.ParseTarget(o.out)
	if err != nil {
		return 0, err
	}

	opener := &sink.Opener{S3Region: o.region}
	w, err := opener.Open(ctx, target, sink.Meta{
		ContentType: contentType(format, algo),
		Metadata:    map[string]string{"format": string(format), "compression": string(algo)},
	})
	if err != nil {
		return 0, err
	}

	cw, err := compression.NewWriter(w, algo, compression.Level(o.level))
	if err != nil {
		_ = sink.Abort(w, err)
		return 0, err
	}

	rows, err := formats.WriteAll(cw, format, arrowdst.ArrowSchema(schema), records)
	if cerr := cw.Close(); err == nil && cerr != nil {
		err = errors.Wrap(cerr, errors.ErrorTypeInternal, "failed to flush compressed output")
	}
	if err != nil {
		if aerr := sink.Abort(w, err); aerr != nil {
			log.Warn("discarding partial output failed", zap.Stringer("target", target), zap.Error(aerr))
		}
		return rows, err
	}
	if err := w.Close(); err != nil {
		return rows, err
	}
	log.Info("output written",
		zap.Stringer("target", target),
		zap.String("format", string(format)),
		zap.String("compression", string(algo)),
		zap.Int64("rows", rows))
	return rows, nil
}

func contentType(f formats.Format, a compression.Algorithm) string {
	if a != compression.None {
		return "application/octet-stream"
	}
	switch f {
	case formats.JSON:
		return "application/x-ndjson"
	case formats.Arrow:
		return "application/vnd.apache.arrow.file"
	default:
		return "application/octet-stream"
	}
}
