package artifact

import (
	"os"
	"path/filepath"
)

// atomicWriteFile writes data to a temp file in the same directory as path
// and renames it into place, so a reader never observes a partial write.
//
// Grounded on other_examples/a4de19c9_iprodev-favicon-fetcher's
// atomicWriteFile (temp file + fsync + rename).
func atomicWriteFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

func mimeForFormat(format string) string {
	switch format {
	case "jpg", "jpeg":
		return "image/jpeg"
	case "png":
		return "image/png"
	case "tif", "tiff":
		return "image/tiff"
	case "bmp":
		return "image/bmp"
	case "miff":
		return "application/x-miff"
	default:
		return "application/octet-stream"
	}
}
