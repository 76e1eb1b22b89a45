package transfer

import (
	"fmt"
	"os"
	"path/filepath"

	"context"
)

// countingWriter tracks the absolute write position so the downloader can
// resume from the right offset after a failed attempt.
type countingWriter struct {
	w     interface{ Write([]byte) (int, error) }
	total int64
}

func (cw *countingWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	cw.total += int64(n)
	return n, err
}

// diskStaged downloads the chapter to scratch with resume, then uploads the
// staged file via managed multipart. The scratch file survives failed runs so
// the next attempt resumes instead of starting over; it is removed only after
// the upload completes.
func (e *Engine) diskStaged(ctx context.Context, url, key string, expected int64) (int64, error) {
	// Stage under the full object key. Fresh SD cards all start numbering at
	// GX010001.MP4, so two sessions colliding on a bare filename is routine;
	// sharing a stage file would let one session resume another's partial.
	stagePath := filepath.Join(e.scratchDir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(stagePath), 0755); err != nil {
		return 0, fmt.Errorf("create scratch dir: %w", err)
	}

	f, err := os.OpenFile(stagePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return 0, fmt.Errorf("open scratch file: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return 0, fmt.Errorf("stat scratch file: %w", err)
	}

	cw := &countingWriter{w: f, total: info.Size()}
	if cw.total > 0 {
		log.Info("resuming disk-staged download", "path", stagePath, "offset", cw.total)
	}

	d := newDownloader(e.tuning)
	err = d.fetch(ctx, url, cw, func() int64 { return cw.total }, expected)
	f.Close()
	if err != nil {
		// Leave the partial file for the next attempt.
		return 0, err
	}

	staged, err := os.Open(stagePath)
	if err != nil {
		return 0, fmt.Errorf("open staged file: %w", err)
	}
	uploadErr := e.store.UploadFile(ctx, key, staged)
	staged.Close()
	if uploadErr != nil {
		return 0, uploadErr
	}

	os.Remove(stagePath)
	return cw.total, nil
}
