// Package sweep finds audio files that no dispatch_audio_recordings row
// references.
package sweep

import (
	"errors"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// File is a regular file found under the audio directory. RelPath uses the
// same form as file_path in the database.
type File struct {
	RelPath string
	Size    int64
	ModTime time.Time
}

// ListFiles returns the regular files in root/storagePath, skipping the
// temporary files of uploads still in progress. A missing directory yields
// no files.
func ListFiles(root, storagePath string) ([]File, error) {
	dir := filepath.Join(root, filepath.FromSlash(storagePath))
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	out := make([]File, 0, len(entries))
	for _, entry := range entries {
		if !entry.Type().IsRegular() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, err
		}
		out = append(out, File{
			RelPath: path.Join(filepath.ToSlash(storagePath), entry.Name()),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}
	return out, nil
}

// FindOrphans returns files not listed in referenced and older than minAge,
// ordered by path.
func FindOrphans(files []File, referenced []string, minAge time.Duration, now time.Time) []File {
	known := make(map[string]struct{}, len(referenced))
	for _, p := range referenced {
		known[path.Clean(filepath.ToSlash(p))] = struct{}{}
	}

	out := make([]File, 0)
	for _, f := range files {
		if _, ok := known[path.Clean(f.RelPath)]; ok {
			continue
		}
		if now.Sub(f.ModTime) < minAge {
			continue
		}
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RelPath < out[j].RelPath })
	return out
}

// Remove deletes an orphan below root.
func Remove(root string, f File) error {
	return os.Remove(filepath.Join(root, filepath.FromSlash(f.RelPath)))
}
