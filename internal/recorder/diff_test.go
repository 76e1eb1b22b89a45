package recorder

import (
	"fmt"
	"testing"

	"github.com/uball/court-agent/internal/camera"
)

func refs(names ...string) []camera.ChapterRef {
	out := make([]camera.ChapterRef, len(names))
	for i, n := range names {
		out[i] = camera.ChapterRef{Directory: "100GOPRO", Filename: n, Size: 100}
	}
	return out
}

func TestNewChaptersDiff(t *testing.T) {
	pre := fileSet(refs("GX010001.MP4", "GX010002.MP4"))
	post := refs("GX010001.MP4", "GX010002.MP4", "GX010041.MP4")

	got, trimmed := newChapters(pre, post)
	if trimmed {
		t.Fatal("unexpected trim")
	}
	if len(got) != 1 || got[0].Filename != "GX010041.MP4" {
		t.Fatalf("diff = %v, want [GX010041.MP4]", got)
	}
}

func TestNewChaptersEmptyWhenNothingNew(t *testing.T) {
	pre := fileSet(refs("GX010001.MP4"))
	got, trimmed := newChapters(pre, refs("GX010001.MP4"))
	if trimmed || len(got) != 0 {
		t.Fatalf("got %v trimmed=%v, want empty", got, trimmed)
	}
}

func TestNewChaptersOrderedMultiChapter(t *testing.T) {
	pre := fileSet(refs("GX010007.MP4"))
	// Chapters of recording 0008 arrive unordered from the camera.
	post := refs("GX030008.MP4", "GX010007.MP4", "GX010008.MP4", "GX020008.MP4")

	got, _ := newChapters(pre, post)
	want := []string{"GX010008.MP4", "GX020008.MP4", "GX030008.MP4"}
	if len(got) != len(want) {
		t.Fatalf("got %d chapters, want %d", len(got), len(want))
	}
	for i, w := range want {
		if got[i].Filename != w {
			t.Fatalf("chapter %d = %s, want %s", i, got[i].Filename, w)
		}
	}
}

func TestNewChaptersTrimsImplausibleDiff(t *testing.T) {
	pre := fileSet(nil)
	var post []camera.ChapterRef
	for i := 1; i <= 50; i++ {
		post = append(post, camera.ChapterRef{
			Directory: "100GOPRO",
			Filename:  fmt.Sprintf("GX01%04d.MP4", i),
			Size:      100,
		})
	}

	got, trimmed := newChapters(pre, post)
	if !trimmed {
		t.Fatal("expected trim flag for 50-file diff")
	}
	if len(got) != maxNewChapters {
		t.Fatalf("kept %d chapters, want %d", len(got), maxNewChapters)
	}
	if got[0].Filename != "GX010031.MP4" || got[len(got)-1].Filename != "GX010050.MP4" {
		t.Fatalf("trim kept wrong window: %s .. %s",
			got[0].Filename, got[len(got)-1].Filename)
	}
}
