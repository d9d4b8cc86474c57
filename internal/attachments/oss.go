package attachments

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aliyun/aliyun-oss-go-sdk/oss"
)

// OSS stores attachments in an Aliyun OSS bucket.
type OSS struct {
	Bucket     *oss.Bucket
	Endpoint   string
	BucketName string
	PublicBase string
}

// NewOSS connects to a bucket. publicBase, when set, replaces the default
// https://<bucket>.<endpoint> prefix of returned URLs (e.g. a CDN domain).
func NewOSS(endpoint, accessKey, secretKey, bucketName, publicBase string) (*OSS, error) {
	if endpoint == "" || accessKey == "" || secretKey == "" || bucketName == "" {
		return nil, ErrNotConfigured
	}
	client, err := oss.New(endpoint, accessKey, secretKey)
	if err != nil {
		return nil, fmt.Errorf("oss.New: %w", err)
	}
	bkt, err := client.Bucket(bucketName)
	if err != nil {
		return nil, fmt.Errorf("client.Bucket: %w", err)
	}
	return &OSS{Bucket: bkt, Endpoint: endpoint, BucketName: bucketName, PublicBase: publicBase}, nil
}

func (s *OSS) Upload(ctx context.Context, key string, r io.Reader, contentType string) (Object, error) {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	opts := []oss.Option{
		oss.WithContext(ctx),
		oss.ContentType(contentType),
		oss.ContentDisposition("inline"),
	}
	if err := s.Bucket.PutObject(key, r, opts...); err != nil {
		return Object{}, err
	}
	return Object{Key: key, URL: s.PublicURL(key)}, nil
}

// Delete removes the object; OSS reports success for missing keys.
func (s *OSS) Delete(ctx context.Context, key string) error {
	return s.Bucket.DeleteObject(key, oss.WithContext(ctx))
}

// PublicURL returns the URL clients use to fetch key.
func (s *OSS) PublicURL(key string) string {
	if key == "" {
		return ""
	}
	if s.PublicBase != "" {
		return strings.TrimRight(s.PublicBase, "/") + "/" + key
	}
	host := strings.TrimPrefix(strings.TrimPrefix(s.Endpoint, "https://"), "http://")
	return "https://" + s.BucketName + "." + strings.TrimRight(host, "/") + "/" + key
}
