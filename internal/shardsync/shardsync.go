// Copyright 2023 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Package shardsync mirrors shard objects from S3-compatible object storage
// into a local directory, so they can be listed and memory-mapped.
package shardsync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/endpoints"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
)

var ErrNotS3URL = errors.New("not an s3:// URL")

// S3Client is the subset of the S3 API used for mirroring.  *s3.S3
// implements it.
type S3Client interface {
	GetObjectWithContext(ctx aws.Context, input *s3.GetObjectInput, opts ...request.Option) (*s3.GetObjectOutput, error)
	ListObjectsV2WithContext(ctx aws.Context, input *s3.ListObjectsV2Input, opts ...request.Option) (*s3.ListObjectsV2Output, error)
}

var _ S3Client = (*s3.S3)(nil)

// IsS3URL reports whether s names an S3 location.
func IsS3URL(s string) bool {
	return strings.HasPrefix(s, "s3://")
}

// ParseS3URL splits "s3://bucket/prefix" into its bucket and key prefix.
func ParseS3URL(s string) (bucket, prefix string, err error) {
	if !IsS3URL(s) {
		return "", "", fmt.Errorf("%w: %q", ErrNotS3URL, s)
	}
	u, err := url.Parse(s)
	if err != nil {
		return "", "", fmt.Errorf("url.Parse: %w", err)
	}
	if u.Host == "" {
		return "", "", fmt.Errorf("%w: %q has no bucket", ErrNotS3URL, s)
	}
	return u.Host, strings.TrimPrefix(u.Path, "/"), nil
}

// NewClient returns an S3 client.  A non-empty endpoint replaces the default
// S3 endpoint, for S3-compatible object stores.
func NewClient(endpoint, region string) (*s3.S3, error) {
	cfg := aws.Config{
		Region: aws.String(region),
	}
	if endpoint != "" {
		defaultResolver := endpoints.DefaultResolver()
		resolve := func(service, region string, optFns ...func(*endpoints.Options)) (endpoints.ResolvedEndpoint, error) {
			if service == s3.EndpointsID {
				return endpoints.ResolvedEndpoint{URL: endpoint}, nil
			}
			return defaultResolver.EndpointFor(service, region, optFns...)
		}
		cfg.EndpointResolver = endpoints.ResolverFunc(resolve)
		cfg.S3ForcePathStyle = aws.Bool(true)
	}

	sess, err := session.NewSessionWithOptions(session.Options{
		Config:            cfg,
		SharedConfigState: session.SharedConfigEnable,
	})
	if err != nil {
		return nil, fmt.Errorf("session.NewSessionWithOptions: %w", err)
	}
	return s3.New(sess), nil
}

// Mirror copies every object under prefix in bucket whose key ends in one of
// suffixes (or every object, if none are given) into dir, preserving the key
// path below prefix.  Files already present with the object's size are not
// downloaded again.  It returns the sorted local paths of the mirrored
// objects.
func Mirror(ctx context.Context, svc S3Client, bucket, prefix, dir string, logger *slog.Logger, suffixes ...string) ([]string, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	var paths []string
	var continuationToken *string
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		resp, err := svc.ListObjectsV2WithContext(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(bucket),
			Prefix:            aws.String(prefix),
			ContinuationToken: continuationToken,
		})
		if err != nil {
			return nil, fmt.Errorf("ListObjectsV2(%s/%s): %w", bucket, prefix, err)
		}

		for _, obj := range resp.Contents {
			key := aws.StringValue(obj.Key)
			if !matchesSuffix(key, suffixes) {
				continue
			}
			path, err := localPath(dir, prefix, key)
			if err != nil {
				return nil, err
			}
			size := aws.Int64Value(obj.Size)
			if fi, err := os.Stat(path); err == nil && fi.Size() == size {
				logger.Debug("shard already mirrored", slog.String("key", key), slog.String("path", path))
				paths = append(paths, path)
				continue
			}
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			if err := download(ctx, svc, bucket, key, path); err != nil {
				return nil, err
			}
			logger.Info("mirrored shard", slog.String("key", key), slog.String("path", path), slog.Int64("bytes", size))
			paths = append(paths, path)
		}

		if !aws.BoolValue(resp.IsTruncated) {
			break
		}
		continuationToken = resp.NextContinuationToken
	}

	slices.Sort(paths)
	return paths, nil
}

func matchesSuffix(key string, suffixes []string) bool {
	if strings.HasSuffix(key, "/") {
		return false
	}
	if len(suffixes) == 0 {
		return true
	}
	for _, suffix := range suffixes {
		if strings.HasSuffix(key, suffix) {
			return true
		}
	}
	return false
}

// localPath maps key to a path beneath dir, rejecting keys that would
// escape it.
func localPath(dir, prefix, key string) (string, error) {
	rel := strings.TrimPrefix(strings.TrimPrefix(key, prefix), "/")
	rel = filepath.FromSlash(rel)
	if rel == "" || !filepath.IsLocal(rel) {
		return "", fmt.Errorf("object key %q can't be mirrored below %s", key, dir)
	}
	return filepath.Join(dir, rel), nil
}

// download writes the object to a temporary file next to path, then renames
// it into place.  Canceling ctx aborts a transfer in progress.
func download(ctx context.Context, svc S3Client, bucket, key, path string) error {
	resp, err := svc.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("GetObject(%s/%s): %w", bucket, key, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("os.MkdirAll: %w", err)
	}
	f, err := os.CreateTemp(dir, "shardsync.*.tmp")
	if err != nil {
		return fmt.Errorf("CreateTemp failed (may need permissions for dir %q): %w", dir, err)
	}
	defer func() {
		_ = os.Remove(f.Name())
	}()

	if _, err := io.Copy(f, resp.Body); err != nil {
		_ = f.Close()
		return fmt.Errorf("io.Copy(%s): %w", key, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("f.Close: %w", err)
	}
	if err := os.Rename(f.Name(), path); err != nil {
		return fmt.Errorf("os.Rename: %w", err)
	}
	return nil
}
