package camera

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
)

// testClient points a camera client at an httptest server.
func testClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	port, err := strconv.Atoi(u.Port())
	if err != nil {
		t.Fatal(err)
	}
	client := NewClient(u.Hostname())
	client.port = port
	client.httpClient = srv.Client()
	return client
}

func TestSortChapters(t *testing.T) {
	refs := []ChapterRef{
		{Filename: "GX028471.MP4"},
		{Filename: "GX018472.MP4"},
		{Filename: "GX018471.MP4"},
		{Filename: "GX038471.MP4"},
	}

	SortChapters(refs)

	want := []string{"GX018471.MP4", "GX028471.MP4", "GX038471.MP4", "GX018472.MP4"}
	for i, ref := range refs {
		if ref.Filename != want[i] {
			t.Fatalf("order[%d] = %s, want %s", i, ref.Filename, want[i])
		}
	}
}

func TestSortChaptersNonPatternLast(t *testing.T) {
	refs := []ChapterRef{
		{Filename: "LRV_0001.LRV"},
		{Filename: "GX010041.MP4"},
	}
	SortChapters(refs)
	if refs[0].Filename != "GX010041.MP4" {
		t.Fatalf("pattern files should sort first, got %v", refs)
	}
}

func TestListMediaParsesAndSorts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/gopro/media/list" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(`{"media":[{"d":"100GOPRO","fs":[
			{"n":"GX028471.MP4","s":"2000","cre":"1737400000","mod":"1737400100"},
			{"n":"GX018471.MP4","s":"10208434006","cre":"1737399000","mod":"1737399100"}
		]}]}`))
	}))
	defer srv.Close()

	client := testClient(t, srv)

	refs, err := client.ListMedia(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	if len(refs) != 2 {
		t.Fatalf("len = %d, want 2", len(refs))
	}
	if refs[0].Filename != "GX018471.MP4" || refs[0].Size != 10208434006 {
		t.Fatalf("first ref = %+v", refs[0])
	}
	if refs[0].Directory != "100GOPRO" {
		t.Fatalf("directory = %s", refs[0].Directory)
	}
	if refs[0].Created.Unix() != 1737399000 {
		t.Fatalf("created = %v, want unix 1737399000", refs[0].Created)
	}
	if refs[1].Created.Unix() != 1737400000 {
		t.Fatalf("created = %v, want unix 1737400000", refs[1].Created)
	}
}

func TestListMediaToleratesMissingCreated(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"media":[{"d":"100GOPRO","fs":[{"n":"GX010041.MP4","s":"500"}]}]}`))
	}))
	defer srv.Close()

	refs, err := testClient(t, srv).ListMedia(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(refs) != 1 || !refs[0].Created.IsZero() {
		t.Fatalf("refs = %+v, want one entry with zero Created", refs)
	}
}
