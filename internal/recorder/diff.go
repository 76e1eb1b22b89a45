package recorder

import "github.com/uball/court-agent/internal/camera"

// maxNewChapters is a safety brake: a press-to-stop recording never produces
// more than a handful of chapters, so a larger diff means the pre-record
// snapshot was not captured and the diff would sweep in old files.
const maxNewChapters = 20

// newChapters computes post \ pre in chapter order. When the diff is
// implausibly large it is trimmed to the last maxNewChapters entries and
// trimmed=true is returned so the caller can log the anomaly.
func newChapters(pre map[string]bool, post []camera.ChapterRef) (refs []camera.ChapterRef, trimmed bool) {
	for _, ref := range post {
		if !pre[ref.Filename] {
			refs = append(refs, ref)
		}
	}

	camera.SortChapters(refs)

	if len(refs) > maxNewChapters {
		refs = refs[len(refs)-maxNewChapters:]
		return refs, true
	}
	return refs, false
}

// fileSet builds the pre-record snapshot from a media listing.
func fileSet(refs []camera.ChapterRef) map[string]bool {
	set := make(map[string]bool, len(refs))
	for _, ref := range refs {
		set[ref.Filename] = true
	}
	return set
}
