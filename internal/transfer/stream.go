package transfer

import (
	"bytes"
	"context"
	"fmt"

	"github.com/uball/court-agent/internal/storage"
)

// streaming pipes camera bytes straight into a multipart upload without
// touching local disk. Bytes accumulate in a per-part buffer; each time the
// buffer reaches the part size a part is dispatched. The buffer survives
// failed download attempts, so the resume offset (committed parts plus
// buffered bytes) is monotonic non-decreasing across attempts.
func (e *Engine) streaming(ctx context.Context, url, key string, expected int64) (int64, error) {
	uploadID, err := e.store.CreateMultipart(ctx, key)
	if err != nil {
		return 0, err
	}

	pu := &partUploader{
		ctx:      ctx,
		store:    e.store,
		key:      key,
		uploadID: uploadID,
		partSize: storage.PartSize,
	}

	d := newDownloader(e.tuning)
	if err := d.fetch(ctx, url, pu, pu.offset, expected); err != nil {
		// Unrecoverable: free the stored parts.
		e.store.AbortMultipart(context.WithoutCancel(ctx), key, uploadID)
		return 0, err
	}

	if err := pu.finish(); err != nil {
		e.store.AbortMultipart(context.WithoutCancel(ctx), key, uploadID)
		return 0, err
	}

	return pu.committed, nil
}

// partUploader implements io.Writer over a multipart upload.
type partUploader struct {
	ctx      context.Context
	store    ObjectStore
	key      string
	uploadID string
	partSize int

	buf       bytes.Buffer
	parts     []storage.CompletedPart
	committed int64
}

// offset is the resume position for the downloader: bytes safely in S3 plus
// bytes still buffered locally.
func (pu *partUploader) offset() int64 {
	return pu.committed + int64(pu.buf.Len())
}

func (pu *partUploader) Write(p []byte) (int, error) {
	pu.buf.Write(p)
	for pu.buf.Len() >= pu.partSize {
		if err := pu.flushPart(pu.partSize); err != nil {
			return len(p), err
		}
	}
	return len(p), nil
}

// flushPart uploads exactly n buffered bytes as the next part. The bytes are
// consumed from the buffer only after the part upload succeeds, so a failed
// part never loses data.
func (pu *partUploader) flushPart(n int) error {
	data := pu.buf.Bytes()[:n]
	partNumber := int32(len(pu.parts) + 1)

	part, err := pu.store.UploadPart(pu.ctx, pu.key, pu.uploadID, partNumber, bytes.NewReader(data), int64(n))
	if err != nil {
		return fmt.Errorf("part %d: %w", partNumber, err)
	}

	pu.buf.Next(n)
	pu.parts = append(pu.parts, part)
	pu.committed += int64(n)
	return nil
}

// finish flushes the trailing partial part (the final part may be smaller
// than the part size) and completes the upload atomically.
func (pu *partUploader) finish() error {
	if pu.buf.Len() > 0 || len(pu.parts) == 0 {
		if err := pu.flushPart(pu.buf.Len()); err != nil {
			return err
		}
	}
	return pu.store.CompleteMultipart(pu.ctx, pu.key, pu.uploadID, pu.parts)
}
