package store

import (
	"bytes"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	raven "github.com/getsentry/raven-go"
)

// A S3 store keeps its values as objects in an S3 bucket. It is useful when
// the published manifest set is hosted out of a bucket. Do not change Bucket
// or Prefix concurrently with calls using the structure.
type S3 struct {
	svc    *s3.S3
	Bucket string
	Prefix string
}

var _ Store = &S3{}

// NewS3 creates a new S3 store. It will use the given bucket and will
// prepend prefix to all keys. This is to allow a bucket to be shared between
// more than one store. The authorization method and credentials in the
// session are used for all accesses.
func NewS3(bucket, prefix string, awsSession *session.Session) *S3 {
	return &S3{
		Bucket: bucket,
		Prefix: prefix,
		svc:    s3.New(awsSession),
	}
}

// ListPrefix returns the keys in this store beginning with the given prefix.
// Only keys under the store's Prefix are considered, so it is safe to use
// this on a bucket containing other items.
func (s *S3) ListPrefix(prefix string) ([]string, error) {
	var result []string
	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(s.Bucket),
		Prefix: aws.String(s.Prefix + prefix),
	}
	err := s.svc.ListObjectsV2Pages(input,
		func(page *s3.ListObjectsV2Output, lastpage bool) bool {
			for _, item := range page.Contents {
				result = append(result, strings.TrimPrefix(*item.Key, s.Prefix))
			}
			return !lastpage
		})
	if err != nil {
		raven.CaptureError(err, nil)
	}
	return result, err
}

// Open returns a reader over the object stored under the given key.
func (s *S3) Open(key string) (io.ReadCloser, error) {
	output, err := s.svc.GetObject(&s3.GetObjectInput{
		Bucket: aws.String(s.Bucket),
		Key:    aws.String(s.Prefix + key),
	})
	if err != nil {
		if aerr, ok := err.(awserr.Error); ok &&
			(aerr.Code() == s3.ErrCodeNoSuchKey || aerr.Code() == "NotFound") {
			return nil, ErrNotFound
		}
		raven.CaptureError(err, nil)
		return nil, err
	}
	return output.Body, nil
}

// Create makes a new entry in the store, and returns a writer to save data
// into it. The data is buffered in memory and only uploaded to the bucket
// when the writer is closed, making the write atomic from the point of view
// of readers.
func (s *S3) Create(key string) (io.WriteCloser, error) {
	return &s3writer{parent: s, key: key}, nil
}

// Delete removes the given key from the store. It is not an error if the
// key does not exist.
func (s *S3) Delete(key string) error {
	_, err := s.svc.DeleteObject(&s3.DeleteObjectInput{
		Bucket: aws.String(s.Bucket),
		Key:    aws.String(s.Prefix + key),
	})
	if err != nil {
		raven.CaptureError(err, nil)
	}
	return err
}

type s3writer struct {
	parent *S3
	key    string
	buf    bytes.Buffer
}

func (w *s3writer) Write(p []byte) (int, error) {
	return w.buf.Write(p)
}

func (w *s3writer) Close() error {
	_, err := w.parent.svc.PutObject(&s3.PutObjectInput{
		Bucket: aws.String(w.parent.Bucket),
		Key:    aws.String(w.parent.Prefix + w.key),
		Body:   bytes.NewReader(w.buf.Bytes()),
	})
	if err != nil {
		raven.CaptureError(err, nil)
	}
	return err
}
