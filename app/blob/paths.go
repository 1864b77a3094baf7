package blob

import (
	"encoding/hex"
	"fmt"
	"mime"
	"path"
	"strconv"
	"strings"

	"golang.org/x/crypto/sha3"
)

// FingerprintSize is the digest length, in bytes, used to name page images.
const FingerprintSize = 16

// Fingerprint returns the hex encoded 128-bit SHAKE-128 digest of data.
func Fingerprint(data []byte) string {
	sum := make([]byte, FingerprintSize)
	sha3.ShakeSum128(sum, data)
	return hex.EncodeToString(sum)
}

// SeriesDir is the directory owning everything stored for a series.
func SeriesDir(slug string) string {
	return "series/" + slug
}

// VolumeDir is the directory of a volume; volume 0 holds chapters without one.
func VolumeDir(slug string, volume int64) string {
	return SeriesDir(slug) + "/" + strconv.FormatInt(volume, 10)
}

// ChapterDir is the directory holding the page images of a chapter.
func ChapterDir(slug string, volume int64, number string) string {
	return VolumeDir(slug, volume) + "/" + number
}

// PagePath is the canonical location of a page image.
func PagePath(slug string, volume int64, number, fingerprint, ext string) string {
	return ChapterDir(slug, volume, number) + "/" + fingerprint + normalizeExt(ext)
}

func CoverPath(slug, ext string) string {
	return SeriesDir(slug) + "/cover" + normalizeExt(ext)
}

func GroupLogoPath(groupID int64, ext string) string {
	return fmt.Sprintf("groups/%d/logo%s", groupID, normalizeExt(ext))
}

func AvatarPath(profileID int64, ext string) string {
	return fmt.Sprintf("users/%d/avatar%s", profileID, normalizeExt(ext))
}

func UploadPath(id string) string {
	return "uploads/" + id + ".zip"
}

// FingerprintOf extracts the fingerprint from a page image path.
func FingerprintOf(p string) string {
	base := path.Base(p)
	return strings.TrimSuffix(base, path.Ext(base))
}

// ContentType guesses the media type of a blob from its extension.
func ContentType(p string) string {
	if ct := mime.TypeByExtension(path.Ext(p)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

func normalizeExt(ext string) string {
	ext = strings.ToLower(ext)
	if ext == ".jpeg" {
		ext = ".jpg"
	}
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}
