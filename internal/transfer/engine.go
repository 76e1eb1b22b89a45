// Package transfer moves chapter bytes from a camera's range-serving HTTP
// endpoint into object storage. Two paths satisfy the same contract: a
// disk-staged path (download to scratch, then managed multipart upload) and a
// streaming path (camera bytes accumulated into 25 MiB parts and dispatched
// straight to a multipart upload). Both resume, never discard partial state
// between attempts, and run at most one transfer per camera.
package transfer

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/uball/court-agent/internal/camera"
	"github.com/uball/court-agent/internal/storage"
)

// ObjectStore is the slice of the storage surface the engine drives.
type ObjectStore interface {
	Head(ctx context.Context, key string) (size int64, exists bool, err error)
	ListPrefix(ctx context.Context, prefix string) ([]storage.ObjectInfo, error)
	UploadFile(ctx context.Context, key string, body io.Reader) error
	CreateMultipart(ctx context.Context, key string) (string, error)
	UploadPart(ctx context.Context, key, uploadID string, partNumber int32, body io.Reader, size int64) (storage.CompletedPart, error)
	CompleteMultipart(ctx context.Context, key, uploadID string, parts []storage.CompletedPart) error
	AbortMultipart(ctx context.Context, key, uploadID string) error
}

// Engine coordinates chapter transfers.
type Engine struct {
	store      ObjectStore
	tuning     Tuning
	scratchDir string
	keepAlive  time.Duration

	// preferDisk decides per chapter whether the disk-staged path is usable
	// (typically a scratch free-space check). nil means always disk-staged.
	preferDisk func(size int64) bool

	mu        sync.Mutex
	perCamera map[string]*sync.Mutex
}

// NewEngine creates an Engine. scratchDir is the staging area for the
// disk-staged path; keepAlive is the camera ping interval during transfers.
func NewEngine(store ObjectStore, tuning Tuning, scratchDir string, keepAlive time.Duration, preferDisk func(size int64) bool) *Engine {
	return &Engine{
		store:      store,
		tuning:     tuning.normalize(),
		scratchDir: scratchDir,
		keepAlive:  keepAlive,
		preferDisk: preferDisk,
		perCamera:  make(map[string]*sync.Mutex),
	}
}

// ListRaw lists the chapter objects already stored under a session's raw
// prefix, in key order. A re-run uses this instead of asking the camera for
// its media list.
func (e *Engine) ListRaw(ctx context.Context, prefix string) ([]storage.ObjectInfo, error) {
	return e.store.ListPrefix(ctx, prefix)
}

// cameraLock returns the serialisation lock for one camera. The camera HTTP
// endpoint cannot serve concurrent large transfers.
func (e *Engine) cameraLock(addr string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()

	lock, ok := e.perCamera[addr]
	if !ok {
		lock = &sync.Mutex{}
		e.perCamera[addr] = lock
	}
	return lock
}

// TransferChapter moves one chapter to key and returns the stored size.
// A HEAD on the target short-circuits the whole operation, which is the
// defence against re-processing a chapter on pipeline retry.
func (e *Engine) TransferChapter(ctx context.Context, cam *camera.Client, ch camera.ChapterRef, key string) (int64, error) {
	lock := e.cameraLock(cam.Addr())
	lock.Lock()
	defer lock.Unlock()

	if size, exists, err := e.store.Head(ctx, key); err != nil {
		return 0, err
	} else if exists && (ch.Size <= 0 || size >= ch.Size) {
		log.Info("chapter already uploaded, skipping",
			"key", key,
			"size", size,
		)
		return size, nil
	}

	// Keep the camera awake for the duration of the transfer. The keep-alive
	// task shares the transfer context so cancelling one cancels both.
	kaCtx, kaCancel := context.WithCancel(ctx)
	defer kaCancel()
	go cam.RunKeepAlive(kaCtx, e.keepAlive)

	url := cam.MediaURL(ch.Directory, ch.Filename)
	expected := ch.Size
	if expected <= 0 {
		expected = -1 // unknown: clean EOF counts as success
	}

	start := time.Now()
	var (
		size int64
		err  error
	)
	if e.preferDisk == nil || e.preferDisk(ch.Size) {
		size, err = e.diskStaged(ctx, url, key, expected)
	} else {
		size, err = e.streaming(ctx, url, key, expected)
	}
	if err != nil {
		return 0, err
	}

	log.Info("chapter transferred",
		"key", key,
		"bytes", size,
		"duration", time.Since(start).Round(time.Second),
	)
	return size, nil
}
