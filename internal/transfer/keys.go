package transfer

import (
	"fmt"
	"path"
	"strings"
)

// RawChapterPrefix is the object-key prefix for a session's raw chapters.
func RawChapterPrefix(segmentSession string) string {
	return fmt.Sprintf("raw-chapters/%s", segmentSession)
}

// RawChapterKey derives the deterministic object key for one chapter.
// index is 1-based and enumerates chapters densely in chapter sort order.
func RawChapterKey(segmentSession string, index int, originalFilename string) string {
	return fmt.Sprintf("%s/chapter_%03d_%s", RawChapterPrefix(segmentSession), index, originalFilename)
}

// ChapterFilename recovers the camera's original filename from a key produced
// by RawChapterKey.
func ChapterFilename(key string) string {
	base := path.Base(key)
	if rest, ok := strings.CutPrefix(base, "chapter_"); ok {
		if i := strings.IndexByte(rest, '_'); i >= 0 {
			return rest[i+1:]
		}
	}
	return base
}
