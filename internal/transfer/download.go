package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/uball/court-agent/internal/faults"
	"github.com/uball/court-agent/internal/logging"
)

var log = logging.L("transfer")

// Tuning for the camera download half. The camera endpoint is slow to accept
// connections and can stall mid-stream, so stalls are detected per chunk
// rather than per request.
type Tuning struct {
	ChunkSize      int
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	MaxRetries     int
	BackoffCap     time.Duration
}

// DefaultTuning matches what the camera link tolerates.
func DefaultTuning() Tuning {
	return Tuning{
		ChunkSize:      256 * 1024,
		ConnectTimeout: 10 * time.Second,
		ReadTimeout:    60 * time.Second,
		MaxRetries:     20,
		BackoffCap:     30 * time.Second,
	}
}

func (t Tuning) normalize() Tuning {
	if t.ChunkSize <= 0 {
		t.ChunkSize = 256 * 1024
	}
	if t.ConnectTimeout <= 0 {
		t.ConnectTimeout = 10 * time.Second
	}
	if t.ReadTimeout <= 0 {
		t.ReadTimeout = 60 * time.Second
	}
	if t.MaxRetries <= 0 {
		t.MaxRetries = 1
	}
	if t.BackoffCap <= 0 {
		t.BackoffCap = 30 * time.Second
	}
	return t
}

// httpClientFor builds a client whose connect phase is bounded separately
// from reads; reads are watched per chunk in downloadOnce.
func httpClientFor(t Tuning) *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout: t.ConnectTimeout,
			}).DialContext,
			ResponseHeaderTimeout: t.ConnectTimeout,
		},
	}
}

// errAlreadyComplete signals a 416: the requested range starts at or past the
// end of the file, so there is nothing left to fetch.
var errAlreadyComplete = errors.New("requested range not satisfiable: already complete")

// downloader performs resumable range downloads from the camera.
type downloader struct {
	client *http.Client
	tuning Tuning
}

func newDownloader(t Tuning) *downloader {
	t = t.normalize()
	return &downloader{client: httpClientFor(t), tuning: t}
}

// fetch downloads url into sink starting at offset, retrying with exponential
// backoff. Partial progress is never discarded: each attempt asks nextOffset()
// for the current resume position, which must be monotonic non-decreasing.
// expectedSize < 0 means unknown; then a clean EOF is success.
func (d *downloader) fetch(ctx context.Context, url string, sink io.Writer, nextOffset func() int64, expectedSize int64) error {
	backoff := 1 * time.Second
	var lastErr error

	for attempt := 1; attempt <= d.tuning.MaxRetries; attempt++ {
		if attempt > 1 {
			log.Info("retrying chapter download",
				"attempt", attempt,
				"offset", nextOffset(),
				"backoff", backoff,
				"error", lastErr,
			)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > d.tuning.BackoffCap {
				backoff = d.tuning.BackoffCap
			}
		}

		offset := nextOffset()
		if expectedSize >= 0 && offset >= expectedSize {
			return nil
		}

		err := d.downloadOnce(ctx, url, sink, offset)
		if err == nil {
			final := nextOffset()
			if expectedSize >= 0 && final < expectedSize {
				lastErr = fmt.Errorf("short download: %d of %d bytes", final, expectedSize)
				continue
			}
			return nil
		}
		if errors.Is(err, errAlreadyComplete) {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		lastErr = err
	}

	return faults.New(faults.Transient, fmt.Errorf("download failed after %d attempts: %w", d.tuning.MaxRetries, lastErr))
}

// downloadOnce performs a single ranged GET and streams the body into sink.
// Stalls are detected by a watchdog that aborts the request when no chunk
// arrives within ReadTimeout.
func (d *downloader) downloadOnce(ctx context.Context, url string, sink io.Writer, offset int64) error {
	reqCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusRequestedRangeNotSatisfiable:
		return errAlreadyComplete
	case offset > 0 && resp.StatusCode == http.StatusPartialContent:
		// Expected resume response.
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if offset > 0 && resp.StatusCode != http.StatusPartialContent {
			// Some firmware answers a Range request with a plain 200 but
			// still serves from the offset. Append as if 206 was returned.
			log.Warn("camera ignored Range semantics", "status", resp.StatusCode, "offset", offset)
		}
	default:
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	// Watchdog: if no chunk completes within ReadTimeout, abort the request.
	// A read-stall then fails the transfer instead of hanging it.
	watchdog := time.AfterFunc(d.tuning.ReadTimeout, cancel)
	defer watchdog.Stop()

	buf := make([]byte, d.tuning.ChunkSize)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			watchdog.Reset(d.tuning.ReadTimeout)
			if _, writeErr := sink.Write(buf[:n]); writeErr != nil {
				return fmt.Errorf("write chunk: %w", writeErr)
			}
		}
		if readErr == io.EOF {
			return nil
		}
		if readErr != nil {
			if reqCtx.Err() != nil && ctx.Err() == nil {
				return fmt.Errorf("read stalled for %s: %w", d.tuning.ReadTimeout, readErr)
			}
			return fmt.Errorf("read chunk: %w", readErr)
		}
	}
}
