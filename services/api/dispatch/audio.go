package dispatch

import (
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

const audioDirPerm = 0o755

// AudioUpload is the file part of an audio submission as handed over by the
// transport. Err carries a transfer failure reported by the upload reader.
type AudioUpload struct {
	Name string
	Size int64
	Body io.Reader
	Err  error
}

var unsafeNameChars = regexp.MustCompile(`[^A-Za-z0-9-]+`)

func sanitizeNamePart(s string) string {
	s = unsafeNameChars.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-")
	if s == "" {
		return "x"
	}
	return s
}

// newUploadToken returns the uniqueness component of an audio filename.
func newUploadToken() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// AudioFilename builds <timestamp>_<slot>_<radio>_<token>.<ext>. The
// timestamp has second precision; token keeps same-second uploads apart.
func AudioFilename(at time.Time, slot, radioDMRID, token, originalName string) string {
	name := fmt.Sprintf("%s_%s_%s_%s",
		at.Format("2006-01-02_15-04-05"),
		sanitizeNamePart(slot),
		sanitizeNamePart(radioDMRID),
		sanitizeNamePart(token),
	)

	ext := strings.TrimPrefix(filepath.Ext(filepath.Base(originalName)), ".")
	ext = unsafeNameChars.ReplaceAllString(ext, "")
	if ext != "" {
		name += "." + strings.ToLower(ext)
	}
	return name
}

// AudioRelativePath joins the configured storage path and a filename the way
// it is recorded in the database.
func AudioRelativePath(storagePath, filename string) string {
	return path.Join(filepath.ToSlash(storagePath), filename)
}

// writeAudioFile streams body into root/relPath, creating parent directories.
// It writes to a temporary file and renames it into place; at most maxSize
// bytes are accepted. The number of bytes written is returned.
func writeAudioFile(root, relPath string, body io.Reader, maxSize int64) (int64, error) {
	dest := filepath.Join(root, filepath.FromSlash(relPath))
	dir := filepath.Dir(dest)

	if err := os.MkdirAll(dir, audioDirPerm); err != nil {
		return 0, &StorageWriteError{Path: relPath, Err: err}
	}

	tmp, err := os.CreateTemp(dir, ".upload-*")
	if err != nil {
		return 0, &StorageWriteError{Path: relPath, Err: err}
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	src := &readErrTracker{r: body}
	n, err := io.Copy(tmp, io.LimitReader(src, maxSize+1))
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	switch {
	case src.err != nil:
		return 0, &UploadError{Err: src.err}
	case err != nil:
		return 0, &StorageWriteError{Path: relPath, Err: err}
	}
	if n > maxSize {
		return 0, fmt.Errorf("%w: more than %d bytes", ErrPayloadTooLarge, maxSize)
	}

	if err := os.Chmod(tmpName, 0o644); err != nil {
		return 0, &StorageWriteError{Path: relPath, Err: err}
	}
	if err := os.Rename(tmpName, dest); err != nil {
		return 0, &StorageWriteError{Path: relPath, Err: err}
	}
	committed = true
	return n, nil
}

// readErrTracker remembers read failures so they can be told apart from
// write failures on the destination.
type readErrTracker struct {
	r   io.Reader
	err error
}

func (t *readErrTracker) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	if err != nil && err != io.EOF {
		t.err = err
	}
	return n, err
}
