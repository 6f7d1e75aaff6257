package kv

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type MinioConfig struct {
	Endpoint string
	Access   string
	Secret   string
	Bucket   string
	Region   string
	// Prefix is a "directory" inside the bucket, e.g. "despacho"
	Prefix string
	// Insecure disables TLS, for local minio servers
	Insecure     bool
	RequestTrace io.Writer
}

// Minio is a Store keeping each value as an object in an S3-compatible
// bucket. Object storage has no compare-and-swap so Minio doesn't
// implement Updater.
type Minio struct {
	client *minio.Client
	bucket string
	prefix string
}

var _ Store = &Minio{}

// NewMinio connects to the server and checks that the bucket exists
func NewMinio(ctx context.Context, config *MinioConfig) (*Minio, error) {
	if config == nil {
		return nil, errors.New("kv: must provide minio config")
	}
	c := config
	if c.Access == "" || c.Secret == "" || c.Bucket == "" || c.Endpoint == "" {
		return nil, errors.New("kv: must provide endpoint, access, secret and bucket for minio")
	}

	mc, err := minio.New(c.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(c.Access, c.Secret, ""),
		Region: c.Region,
		Secure: !c.Insecure,
	})
	if err != nil {
		return nil, err
	}
	if c.RequestTrace != nil {
		mc.TraceOn(c.RequestTrace)
	}
	found, err := mc.BucketExists(ctx, c.Bucket)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("kv: bucket '%s' doesn't exist", c.Bucket)
	}
	return &Minio{
		client: mc,
		bucket: c.Bucket,
		prefix: c.Prefix,
	}, nil
}

// ObjectName returns the name of the object a key is stored in
func (s *Minio) ObjectName(key string) string {
	return path.Join(s.prefix, key+".json")
}

func isNoSuchKey(err error) bool {
	return minio.ToErrorResponse(err).Code == "NoSuchKey"
}

func (s *Minio) Get(ctx context.Context, key string) ([]byte, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}
	obj, err := s.client.GetObject(ctx, s.bucket, s.ObjectName(key), minio.GetObjectOptions{})
	if err != nil {
		if isNoSuchKey(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	defer obj.Close()
	// GetObject is lazy, a missing object only shows up on first read
	d, err := io.ReadAll(obj)
	if err != nil {
		if isNoSuchKey(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return d, nil
}

func (s *Minio) Put(ctx context.Context, key string, value []byte) error {
	if err := validateKey(key); err != nil {
		return err
	}
	opts := minio.PutObjectOptions{
		ContentType: "application/json",
	}
	r := bytes.NewReader(value)
	_, err := s.client.PutObject(ctx, s.bucket, s.ObjectName(key), r, int64(len(value)), opts)
	return err
}
