package blob

import (
	"context"
	"fmt"

	"github.com/gabriel-vasile/mimetype"
)

// Describe reports the detected mime type and size of a stored blob.
func Describe(ctx context.Context, s Storage, p string) (string, int64, error) {
	info, err := s.Stat(ctx, p)
	if err != nil {
		return "", 0, err
	}

	rc, err := s.Open(ctx, p)
	if err != nil {
		return "", 0, err
	}
	defer rc.Close()

	mt, err := mimetype.DetectReader(rc)
	if err != nil {
		return "", 0, fmt.Errorf("failed to detect mime type: %w", err)
	}
	return mt.String(), info.Size, nil
}

// DetectExtension returns the file extension matching the content of data.
func DetectExtension(data []byte) string {
	return mimetype.Detect(data).Extension()
}
