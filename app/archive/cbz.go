// Package archive writes chapter downloads as comic book archives.
package archive

import (
	"context"
	"fmt"
	"io"
	"path"
	"sort"

	"github.com/klauspost/compress/zip"

	"github.com/lysyi3m/manga-reader/app/blob"
	"github.com/lysyi3m/manga-reader/app/database"
)

const ContentType = "application/vnd.comicbook+zip"

// Filename is the download name of a chapter archive.
func Filename(c *database.Chapter) string {
	return fmt.Sprintf("%s_v%d_c%s.cbz", c.Series.Slug, c.VolumeKey(), c.NumberString())
}

// EntryName is the archive entry of the page with the given ordinal.
func EntryName(ordinal int, image string) string {
	return fmt.Sprintf("%03d%s", ordinal, path.Ext(image))
}

// WriteCBZ streams pages into w ordered by page number. Images are stored
// uncompressed since they are already compressed formats.
func WriteCBZ(ctx context.Context, w io.Writer, blobs blob.Storage, pages []*database.Page) error {
	sorted := make([]*database.Page, len(pages))
	copy(sorted, pages)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Number < sorted[j].Number })

	zw := zip.NewWriter(w)
	for _, p := range sorted {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := addPage(ctx, zw, blobs, p); err != nil {
			return err
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("failed to finish archive: %w", err)
	}
	return nil
}

func addPage(ctx context.Context, zw *zip.Writer, blobs blob.Storage, p *database.Page) error {
	r, err := blobs.Open(ctx, p.Image)
	if err != nil {
		return fmt.Errorf("failed to open page %d: %w", p.Number, err)
	}
	defer r.Close()

	entry, err := zw.CreateHeader(&zip.FileHeader{
		Name:   EntryName(p.Number, p.Image),
		Method: zip.Store,
	})
	if err != nil {
		return fmt.Errorf("failed to add page %d: %w", p.Number, err)
	}
	if _, err := io.Copy(entry, r); err != nil {
		return fmt.Errorf("failed to write page %d: %w", p.Number, err)
	}
	return nil
}
