package ingest

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"path"
	"strings"

	"github.com/klauspost/compress/zip"
	_ "golang.org/x/image/webp"
)

// entry is an archive member that passed validation.
type entry struct {
	file   *zip.File
	name   string
	format string
	width  int
	height int
}

func isDir(f *zip.File) bool {
	return strings.HasSuffix(f.Name, "/") || f.FileInfo().IsDir()
}

// checkFolders rejects archives whose entries span more than one directory.
// Directories implied by file paths count the same as explicit entries.
func checkFolders(files []*zip.File) error {
	dirs := make(map[string]bool)
	for _, f := range files {
		name := strings.TrimSuffix(f.Name, "/")
		if isDir(f) {
			dirs[name] = true
			name = path.Dir(name)
		} else {
			name = path.Dir(name)
		}
		for name != "." && name != "/" && name != "" {
			dirs[name] = true
			name = path.Dir(name)
		}
	}
	if len(dirs) > 1 {
		return MultipleSubfolders()
	}
	return nil
}

// readEntry reads an archive member, refusing members larger than limit.
func readEntry(f *zip.File, limit int64) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("entry %s exceeds %d bytes", f.Name, limit)
	}
	return data, nil
}

// verifyImage checks the image header and that the file is not truncated,
// without decoding pixels.
func verifyImage(data []byte) (image.Config, string, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return image.Config{}, "", err
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return image.Config{}, "", fmt.Errorf("invalid dimensions %dx%d", cfg.Width, cfg.Height)
	}
	if !complete(data, format) {
		return image.Config{}, "", fmt.Errorf("truncated %s data", format)
	}
	return cfg, format, nil
}

var pngTrailer = []byte{0, 0, 0, 0, 'I', 'E', 'N', 'D', 0xAE, 0x42, 0x60, 0x82}

func complete(data []byte, format string) bool {
	switch format {
	case "jpeg":
		trimmed := bytes.TrimRight(data, "\x00")
		return bytes.HasSuffix(trimmed, []byte{0xFF, 0xD9})
	case "png":
		return bytes.HasSuffix(data, pngTrailer)
	case "gif":
		return len(data) > 0 && data[len(data)-1] == 0x3B
	case "webp":
		if len(data) < 12 {
			return false
		}
		size := binary.LittleEndian.Uint32(data[4:8])
		return int64(size)+8 <= int64(len(data))
	}
	return true
}

// validate runs the fail-fast checks on an opened archive and returns its
// image entries.
func validate(zr *zip.Reader, limit int64) ([]entry, error) {
	if err := checkFolders(zr.File); err != nil {
		return nil, err
	}

	var entries []entry
	for _, f := range zr.File {
		if isDir(f) {
			continue
		}
		data, err := readEntry(f, limit)
		if err != nil {
			return nil, NonImageContent(f.Name)
		}
		cfg, format, err := verifyImage(data)
		if err != nil {
			return nil, NonImageContent(f.Name)
		}
		entries = append(entries, entry{
			file:   f,
			name:   path.Base(f.Name),
			format: format,
			width:  cfg.Width,
			height: cfg.Height,
		})
	}
	return entries, nil
}
