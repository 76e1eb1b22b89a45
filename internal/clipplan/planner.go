// Package clipplan maps a game's [start, end] window onto a session's chapter
// sequence: which chapters the encoder must read, where inside the first one
// the clip begins, and how long it runs.
package clipplan

import (
	"fmt"
	"time"

	"github.com/uball/court-agent/internal/camera"
	"github.com/uball/court-agent/internal/faults"
)

// defaultChapterDuration stands in when a chapter's real duration is unknown.
// It only influences which chapters are candidates; the remote encoder seeks
// precisely inside the selected set.
const defaultChapterDuration = 900 * time.Second

// Buffer is added on each side of the clip by the remote encoder to absorb
// clock skew between the catalog and the camera. It travels to the encode job
// separately so the offset/duration here stay exact.
const Buffer = 30 * time.Second

// Chapter is a planner input: one camera fragment with its known size and a
// possibly-unknown duration (zero means unknown).
type Chapter struct {
	Ref      camera.ChapterRef
	Duration time.Duration
}

// ChaptersFromRefs derives per-chapter durations from the camera's creation
// timestamps: a chapter runs until the next one was created. The last
// chapter's duration stays unknown and picks up the default during planning,
// as does any chapter whose listing omitted the timestamp.
func ChaptersFromRefs(refs []camera.ChapterRef) []Chapter {
	chapters := make([]Chapter, len(refs))
	for i, ref := range refs {
		chapters[i] = Chapter{Ref: ref}
		if i+1 < len(refs) && !ref.Created.IsZero() && !refs[i+1].Created.IsZero() {
			if d := refs[i+1].Created.Sub(ref.Created); d > 0 {
				chapters[i].Duration = d
			}
		}
	}
	return chapters
}

// Plan is the planner output handed to the encode adapter.
type Plan struct {
	// Chapters is the ordered subset of the session's chapters the clip
	// spans, as indices into the input sequence (0-based).
	Chapters []int

	// Offset is where the clip begins relative to the start of the first
	// selected chapter. Never negative.
	Offset time.Duration

	// Duration is the clip length, before the skew buffer.
	Duration time.Duration

	// TotalBytes sums the selected chapters' sizes (queue selection input).
	TotalBytes int64
}

// MultiChapter reports whether the plan spans more than one chapter.
func (p Plan) MultiChapter() bool {
	return len(p.Chapters) > 1
}

// Compute selects the chapters intersecting the game window and derives the
// intra-chapter offset and clip duration.
//
// offsetInRecording = max(0, gameStart − recStart). Walking the chapters with
// a running cursor, the first chapter whose [cursor, cursor+dur) interval
// intersects [offsetInRecording, offsetInRecording+duration) anchors the clip;
// collection continues while chapters keep intersecting. The offset handed to
// the encoder is relative to that anchor chapter's start.
func Compute(recStart, gameStart, gameEnd time.Time, chapters []Chapter) (Plan, error) {
	if len(chapters) == 0 {
		return Plan{}, faults.Newf(faults.Incoherent, "no chapters to plan against")
	}
	if !gameEnd.After(gameStart) {
		return Plan{}, faults.Newf(faults.Incoherent,
			"game window inverted: start %s, end %s",
			gameStart.Format(time.RFC3339), gameEnd.Format(time.RFC3339))
	}

	offsetInRecording := gameStart.Sub(recStart)
	if offsetInRecording < 0 {
		offsetInRecording = 0
	}
	duration := gameEnd.Sub(gameStart)
	clipEnd := offsetInRecording + duration

	var (
		plan    Plan
		cursor  time.Duration
		cursor0 time.Duration
		found   bool
	)
	for i, ch := range chapters {
		dur := ch.Duration
		if dur <= 0 {
			dur = defaultChapterDuration
		}
		chStart, chEnd := cursor, cursor+dur

		if chStart < clipEnd && chEnd > offsetInRecording {
			if !found {
				found = true
				cursor0 = chStart
			}
			plan.Chapters = append(plan.Chapters, i)
			plan.TotalBytes += ch.Ref.Size
		} else if found {
			break
		}
		cursor = chEnd
	}

	if !found {
		return Plan{}, faults.Newf(faults.Incoherent,
			"game window [%s+%s] falls outside the recording's %d chapters",
			offsetInRecording, duration, len(chapters))
	}

	relativeOffset := offsetInRecording - cursor0
	if relativeOffset < 0 {
		relativeOffset = 0
	}
	plan.Offset = relativeOffset
	plan.Duration = duration

	return plan, nil
}

// DeliverableKey builds the 1080p object key:
//
//	{court}/{YYYY-MM-DD}/{gameFolder}/{YYYY-MM-DD}_{gameFolder}_{ANGLE}.mp4
//
// gameFolder is GameFolder(gameID). day is the game date in UTC.
func DeliverableKey(court string, day time.Time, gameID, angle string) string {
	date := day.UTC().Format("2006-01-02")
	folder := GameFolder(gameID)
	return fmt.Sprintf("%s/%s/%s/%s_%s_%s.mp4", court, date, folder, date, folder, angle)
}

// RawDeliverableKey is the raw/ variant used for ordered enqueuing.
func RawDeliverableKey(court string, day time.Time, gameID, angle string) string {
	return "raw/" + DeliverableKey(court, day, gameID, angle)
}

// GameFolder shortens a catalog game id to its first four hyphen-delimited
// segments. Shorter ids pass through whole.
func GameFolder(gameID string) string {
	segments := 0
	for i := 0; i < len(gameID); i++ {
		if gameID[i] == '-' {
			segments++
			if segments == 4 {
				return gameID[:i]
			}
		}
	}
	return gameID
}
