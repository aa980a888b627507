package archive

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type s3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Result reports what one Archive call did. Archived=false with a nil error
// means the pull had no new data and nothing was written.
type Result struct {
	Archived bool
	Key      string
	Bytes    int64
}

// Writer compresses pulled log data and writes it durably to object storage
// under a source-scoped key. Keys embed a freshly generated UUID, never
// anything derived from content or request identity, so repeated archiving of
// the same logical pull produces additional objects instead of overwrites.
type Writer struct {
	client s3API

	bucket    string
	bucketPtr *string
	prefix    string

	comp  Compressor
	retry RetryPolicy
	log   *zap.Logger
}

func NewWriter(client s3API, bucket, prefix string, comp Compressor, log *zap.Logger) *Writer {
	if client == nil {
		panic("s3 client is required")
	}
	if strings.TrimSpace(bucket) == "" {
		panic("bucket is required")
	}
	if comp == nil {
		panic("compressor is required")
	}
	if log == nil {
		log = zap.NewNop()
	}

	w := &Writer{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
		comp:   comp,
		retry:  nopRetry{},
		log:    log,
	}
	w.bucketPtr = &w.bucket
	return w
}

func (w *Writer) SetRetryPolicy(p RetryPolicy) {
	if p == nil {
		w.retry = nopRetry{}
		return
	}
	w.retry = p
}

// Archive compresses data and writes one object for sourceName. Empty data
// is not an error: it means the source had nothing new, and no I/O happens.
func (w *Writer) Archive(ctx context.Context, sourceName string, data []byte) (Result, error) {
	if sourceName == "" {
		return Result{}, fmt.Errorf("empty source name")
	}
	if len(data) == 0 {
		return Result{}, nil
	}

	compressed, err := w.comp.Compress(data)
	if err != nil {
		return Result{}, fmt.Errorf("compress %s payload: %w", sourceName, err)
	}

	key := sourceName + "/" + uuid.NewString() + ".json" + w.comp.FileExtension()
	if w.prefix != "" {
		key = w.prefix + "/" + key
	}

	keyVar := key
	encoding := w.comp.ContentEncoding()
	cl := int64(len(compressed))

	var body bytes.Reader
	input := s3.PutObjectInput{
		Bucket:          w.bucketPtr,
		Key:             &keyVar,
		Body:            &body,
		ContentLength:   &cl,
		ContentEncoding: &encoding,
	}

	err = w.retry.Do(ctx, func(ctx context.Context) error {
		body.Reset(compressed)
		_, err := w.client.PutObject(ctx, &input)
		return err
	})
	if err != nil {
		return Result{}, fmt.Errorf("put s3 object key=%q: %w", key, err)
	}

	return Result{Archived: true, Key: key, Bytes: cl}, nil
}
