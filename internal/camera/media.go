package camera

import (
	"context"
	"sort"
	"strconv"
	"time"
)

// ChapterRef identifies one fragment file on the camera's SD card. Created is
// the camera's creation timestamp, zero when the listing omitted it.
type ChapterRef struct {
	Directory string    `json:"directory"`
	Filename  string    `json:"filename"`
	Size      int64     `json:"size"`
	Created   time.Time `json:"created,omitzero"`
}

// mediaList mirrors the camera's /gopro/media/list document. Sizes come over
// the wire as decimal strings.
type mediaList struct {
	Media []struct {
		Directory string `json:"d"`
		Files     []struct {
			Name     string `json:"n"`
			Size     string `json:"s"`
			Created  string `json:"cre"`
			Modified string `json:"mod"`
		} `json:"fs"`
	} `json:"media"`
}

// ListMedia lists every file on the camera, in chapter order.
func (c *Client) ListMedia(ctx context.Context) ([]ChapterRef, error) {
	var doc mediaList
	if err := c.getJSON(ctx, "/gopro/media/list", &doc); err != nil {
		return nil, err
	}

	var refs []ChapterRef
	for _, dir := range doc.Media {
		for _, f := range dir.Files {
			size, _ := strconv.ParseInt(f.Size, 10, 64)
			ref := ChapterRef{
				Directory: dir.Directory,
				Filename:  f.Name,
				Size:      size,
			}
			if sec, err := strconv.ParseInt(f.Created, 10, 64); err == nil && sec > 0 {
				ref.Created = time.Unix(sec, 0).UTC()
			}
			refs = append(refs, ref)
		}
	}

	SortChapters(refs)
	return refs, nil
}

// SortChapters orders refs by the camera's naming convention. A chaptered
// filename looks like GX018471.MP4: two-digit fragment index (01) then
// four-digit recording index (8471). The recording index is the major key so
// all fragments of one press-to-stop recording group together.
func SortChapters(refs []ChapterRef) {
	sort.SliceStable(refs, func(i, j int) bool {
		ri, fi := chapterOrderKey(refs[i].Filename)
		rj, fj := chapterOrderKey(refs[j].Filename)
		if ri != rj {
			return ri < rj
		}
		if fi != fj {
			return fi < fj
		}
		return refs[i].Filename < refs[j].Filename
	})
}

// chapterOrderKey extracts (recording index, fragment index) from a GoPro
// filename. Files outside the G??xxxx pattern sort after everything else,
// lexicographically.
func chapterOrderKey(name string) (int, int) {
	if len(name) < 8 || name[0] != 'G' {
		return 1 << 30, 1 << 30
	}
	frag, err1 := strconv.Atoi(name[2:4])
	rec, err2 := strconv.Atoi(name[4:8])
	if err1 != nil || err2 != nil {
		return 1 << 30, 1 << 30
	}
	return rec, frag
}
