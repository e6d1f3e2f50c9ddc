// Package storage turns product image object paths into short-lived signed Cloud Storage URLs.
package storage

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"cloud.google.com/go/storage"
)

const (
	defaultImageURLTTL = 15 * time.Minute
	maxImageURLTTL     = 7 * 24 * time.Hour
)

// ImageSigner signs read-only URLs for objects in the catalogue image bucket.
type ImageSigner struct {
	bucket string
	signer Signer
	ttl    time.Duration
	now    func() time.Time
}

// ImageSignerOption customises an ImageSigner.
type ImageSignerOption func(*ImageSigner)

// WithTTL sets how long signed URLs stay valid. V4 URLs are capped at seven days.
func WithTTL(ttl time.Duration) ImageSignerOption {
	return func(s *ImageSigner) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithClock injects a clock for tests.
func WithClock(now func() time.Time) ImageSignerOption {
	return func(s *ImageSigner) {
		if now != nil {
			s.now = now
		}
	}
}

func NewImageSigner(bucket string, signer Signer, opts ...ImageSignerOption) (*ImageSigner, error) {
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, errors.New("storage: bucket name is required")
	}
	if signer == nil || strings.TrimSpace(signer.Email()) == "" {
		return nil, errors.New("storage: signer is required")
	}
	s := &ImageSigner{bucket: bucket, signer: signer, ttl: defaultImageURLTTL, now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if s.ttl > maxImageURLTTL {
		return nil, fmt.Errorf("storage: signed url ttl %s exceeds %s", s.ttl, maxImageURLTTL)
	}
	return s, nil
}

// SignedURL returns a GET URL for object. Absolute http(s) references are returned unchanged
// since they were stored before images moved to the bucket.
func (s *ImageSigner) SignedURL(ctx context.Context, object string) (string, error) {
	object = strings.TrimSpace(object)
	if object == "" {
		return "", errors.New("storage: object name is required")
	}
	if strings.HasPrefix(object, "https://") || strings.HasPrefix(object, "http://") {
		return object, nil
	}
	object = strings.TrimPrefix(object, "gs://"+s.bucket+"/")
	object = strings.TrimPrefix(object, "/")

	url, err := storage.SignedURL(s.bucket, object, &storage.SignedURLOptions{
		GoogleAccessID: s.signer.Email(),
		Method:         http.MethodGet,
		Expires:        s.now().Add(s.ttl),
		Scheme:         storage.SigningSchemeV4,
		SignBytes: func(payload []byte) ([]byte, error) {
			return s.signer.SignBytes(ctx, payload)
		},
	})
	if err != nil {
		return "", fmt.Errorf("storage: sign %s: %w", object, err)
	}
	return url, nil
}

// SignAll signs every reference, keeping the original value for any that fail.
func (s *ImageSigner) SignAll(ctx context.Context, objects []string) ([]string, error) {
	if len(objects) == 0 {
		return nil, nil
	}
	out := make([]string, len(objects))
	var errs []error
	for i, object := range objects {
		url, err := s.SignedURL(ctx, object)
		if err != nil {
			out[i] = object
			errs = append(errs, err)
			continue
		}
		out[i] = url
	}
	return out, errors.Join(errs...)
}
