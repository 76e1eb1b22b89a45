package transfer

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/uball/court-agent/internal/camera"
	"github.com/uball/court-agent/internal/storage"
)

// fakeStore is an in-memory ObjectStore.
type fakeStore struct {
	mu        sync.Mutex
	objects   map[string][]byte
	uploads   map[string]map[int32][]byte // uploadID → part → data
	aborted   []string
	headCalls int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		objects: make(map[string][]byte),
		uploads: make(map[string]map[int32][]byte),
	}
}

func (f *fakeStore) Head(ctx context.Context, key string) (int64, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.headCalls++
	data, ok := f.objects[key]
	return int64(len(data)), ok, nil
}

func (f *fakeStore) ListPrefix(ctx context.Context, prefix string) ([]storage.ObjectInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []storage.ObjectInfo
	for k, v := range f.objects {
		if strings.HasPrefix(k, prefix) {
			out = append(out, storage.ObjectInfo{Key: k, Size: int64(len(v))})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (f *fakeStore) UploadFile(ctx context.Context, key string, body io.Reader) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[key] = data
	return nil
}

func (f *fakeStore) CreateMultipart(ctx context.Context, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := fmt.Sprintf("upload-%d", len(f.uploads)+1)
	f.uploads[id] = make(map[int32][]byte)
	return id, nil
}

func (f *fakeStore) UploadPart(ctx context.Context, key, uploadID string, partNumber int32, body io.Reader, size int64) (storage.CompletedPart, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return storage.CompletedPart{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploads[uploadID][partNumber] = data
	return storage.CompletedPart{PartNumber: partNumber, ETag: fmt.Sprintf("etag-%d", partNumber)}, nil
}

func (f *fakeStore) CompleteMultipart(ctx context.Context, key, uploadID string, parts []storage.CompletedPart) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	var assembled []byte
	for _, p := range parts {
		assembled = append(assembled, f.uploads[uploadID][p.PartNumber]...)
	}
	f.objects[key] = assembled
	delete(f.uploads, uploadID)
	return nil
}

func (f *fakeStore) AbortMultipart(ctx context.Context, key, uploadID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.aborted = append(f.aborted, uploadID)
	delete(f.uploads, uploadID)
	return nil
}

// cameraServer serves a chapter at the camera media path.
func cameraServer(t *testing.T, dir, name string, content []byte) (*httptest.Server, *camera.Client) {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/videos/DCIM/"+dir+"/"+name, func(w http.ResponseWriter, r *http.Request) {
		offset := int64(0)
		if rng := r.Header.Get("Range"); rng != "" {
			fmt.Sscanf(rng, "bytes=%d-", &offset)
			w.WriteHeader(http.StatusPartialContent)
		}
		w.Write(content[offset:])
	})
	mux.HandleFunc("/gopro/camera/keep_alive", func(w http.ResponseWriter, r *http.Request) {})

	srv := httptest.NewServer(mux)
	u, _ := url.Parse(srv.URL)
	port, _ := strconv.Atoi(u.Port())
	return srv, camera.NewClientWithPort(u.Hostname(), port)
}

func testEngine(store ObjectStore, scratch string, preferDisk func(int64) bool) *Engine {
	return NewEngine(store, fastTuning(), scratch, time.Second, preferDisk)
}

func TestTransferChapterDiskStaged(t *testing.T) {
	content := bytes.Repeat([]byte("disk"), 3000)
	srv, cam := cameraServer(t, "100GOPRO", "GX010001.MP4", content)
	defer srv.Close()

	store := newFakeStore()
	e := testEngine(store, t.TempDir(), nil)

	key := RawChapterKey("enx_FL_20260120_195030", 1, "GX010001.MP4")
	size, err := e.TransferChapter(context.Background(), cam,
		camera.ChapterRef{Directory: "100GOPRO", Filename: "GX010001.MP4", Size: int64(len(content))}, key)
	if err != nil {
		t.Fatal(err)
	}
	if size != int64(len(content)) {
		t.Fatalf("size = %d, want %d", size, len(content))
	}
	if !bytes.Equal(store.objects[key], content) {
		t.Fatal("stored content mismatch")
	}
}

func TestDiskStagedPartialsNamespacedPerSession(t *testing.T) {
	content := bytes.Repeat([]byte("B"), 4096)
	srv, cam := cameraServer(t, "100GOPRO", "GX010001.MP4", content)
	defer srv.Close()

	store := newFakeStore()
	scratch := t.TempDir()
	e := testEngine(store, scratch, nil)

	// Partial left behind by another session's failed transfer of an
	// identically named chapter.
	keyA := RawChapterKey("enxa_FL_20260120_195030", 1, "GX010001.MP4")
	pathA := filepath.Join(scratch, filepath.FromSlash(keyA))
	if err := os.MkdirAll(filepath.Dir(pathA), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(pathA, bytes.Repeat([]byte("A"), 1024), 0644); err != nil {
		t.Fatal(err)
	}

	keyB := RawChapterKey("enxb_FR_20260120_195030", 1, "GX010001.MP4")
	size, err := e.TransferChapter(context.Background(), cam,
		camera.ChapterRef{Directory: "100GOPRO", Filename: "GX010001.MP4", Size: int64(len(content))}, keyB)
	if err != nil {
		t.Fatal(err)
	}
	if size != int64(len(content)) {
		t.Fatalf("size = %d, want %d", size, len(content))
	}
	if !bytes.Equal(store.objects[keyB], content) {
		t.Fatal("another session's partial leaked into the upload")
	}

	// The other session's partial stays untouched for its own retry.
	info, err := os.Stat(pathA)
	if err != nil {
		t.Fatal(err)
	}
	if info.Size() != 1024 {
		t.Fatalf("foreign partial size = %d, want 1024", info.Size())
	}
}

func TestDiskStagedResumesOwnPartial(t *testing.T) {
	content := bytes.Repeat([]byte("resume!!"), 512)
	srv, cam := cameraServer(t, "100GOPRO", "GX010004.MP4", content)
	defer srv.Close()

	store := newFakeStore()
	scratch := t.TempDir()
	e := testEngine(store, scratch, nil)

	key := RawChapterKey("enx_FL_20260120_195030", 4, "GX010004.MP4")
	stage := filepath.Join(scratch, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(stage), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(stage, content[:1000], 0644); err != nil {
		t.Fatal(err)
	}

	size, err := e.TransferChapter(context.Background(), cam,
		camera.ChapterRef{Directory: "100GOPRO", Filename: "GX010004.MP4", Size: int64(len(content))}, key)
	if err != nil {
		t.Fatal(err)
	}
	if size != int64(len(content)) {
		t.Fatalf("size = %d, want %d", size, len(content))
	}
	if !bytes.Equal(store.objects[key], content) {
		t.Fatal("resumed content mismatch")
	}
}

func TestTransferChapterStreaming(t *testing.T) {
	content := bytes.Repeat([]byte("st"), 5000)
	srv, cam := cameraServer(t, "100GOPRO", "GX010002.MP4", content)
	defer srv.Close()

	store := newFakeStore()
	e := testEngine(store, t.TempDir(), func(int64) bool { return false })

	key := RawChapterKey("enx_FL_20260120_195030", 2, "GX010002.MP4")
	size, err := e.TransferChapter(context.Background(), cam,
		camera.ChapterRef{Directory: "100GOPRO", Filename: "GX010002.MP4", Size: int64(len(content))}, key)
	if err != nil {
		t.Fatal(err)
	}
	if size != int64(len(content)) {
		t.Fatalf("size = %d, want %d", size, len(content))
	}
	if !bytes.Equal(store.objects[key], content) {
		t.Fatal("stored content mismatch")
	}
	if len(store.uploads) != 0 {
		t.Fatal("multipart upload left open")
	}
}

func TestTransferChapterHeadShortCircuit(t *testing.T) {
	srv, cam := cameraServer(t, "100GOPRO", "GX010003.MP4", []byte("should not be fetched"))
	defer srv.Close()

	store := newFakeStore()
	key := RawChapterKey("sess", 1, "GX010003.MP4")
	store.objects[key] = bytes.Repeat([]byte("x"), 21)

	e := testEngine(store, t.TempDir(), nil)
	size, err := e.TransferChapter(context.Background(), cam,
		camera.ChapterRef{Directory: "100GOPRO", Filename: "GX010003.MP4", Size: 21}, key)
	if err != nil {
		t.Fatal(err)
	}
	if size != 21 {
		t.Fatalf("size = %d, want 21", size)
	}
}

func TestRawChapterKey(t *testing.T) {
	got := RawChapterKey("enxd43260ddac87_FL_20260120_195030", 1, "GX018471.MP4")
	want := "raw-chapters/enxd43260ddac87_FL_20260120_195030/chapter_001_GX018471.MP4"
	if got != want {
		t.Fatalf("key = %q, want %q", got, want)
	}

	if name := ChapterFilename(got); name != "GX018471.MP4" {
		t.Fatalf("filename = %q, want GX018471.MP4", name)
	}
}

func TestListRaw(t *testing.T) {
	store := newFakeStore()
	prefix := RawChapterPrefix("enx_FL_20260120_195030")
	store.objects[RawChapterKey("enx_FL_20260120_195030", 2, "GX020008.MP4")] = []byte("bb")
	store.objects[RawChapterKey("enx_FL_20260120_195030", 1, "GX010008.MP4")] = []byte("a")
	store.objects["raw-chapters/other_session/chapter_001_GX010008.MP4"] = []byte("x")

	e := testEngine(store, t.TempDir(), nil)
	objs, err := e.ListRaw(context.Background(), prefix)
	if err != nil {
		t.Fatal(err)
	}
	if len(objs) != 2 {
		t.Fatalf("objects = %d, want 2", len(objs))
	}
	if ChapterFilename(objs[0].Key) != "GX010008.MP4" || objs[0].Size != 1 {
		t.Fatalf("first object = %+v", objs[0])
	}
}

func TestStreamingPartBoundaries(t *testing.T) {
	store := newFakeStore()
	pu := &partUploader{
		ctx:      context.Background(),
		store:    store,
		key:      "k",
		partSize: 10,
	}
	var err error
	pu.uploadID, err = store.CreateMultipart(context.Background(), "k")
	if err != nil {
		t.Fatal(err)
	}

	pu.Write(bytes.Repeat([]byte("a"), 25))
	if pu.committed != 20 {
		t.Fatalf("committed = %d, want 20 (two full parts)", pu.committed)
	}
	if pu.offset() != 25 {
		t.Fatalf("offset = %d, want 25", pu.offset())
	}

	if err := pu.finish(); err != nil {
		t.Fatal(err)
	}
	if len(store.objects["k"]) != 25 {
		t.Fatalf("final object = %d bytes, want 25", len(store.objects["k"]))
	}
}
