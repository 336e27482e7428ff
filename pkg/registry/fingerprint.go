package registry

import (
	"io/fs"
	"path/filepath"
	"time"
)

type fileStamp struct {
	modTime time.Time
	size    int64
}

// Fingerprint captures (path, mtime, size) for every file under the watched
// directories. Equality between successive polls is what drives reloads.
type Fingerprint map[string]fileStamp

// Equal reports whether two fingerprints cover the same files with the same
// stamps.
func (f Fingerprint) Equal(other Fingerprint) bool {
	if len(f) != len(other) {
		return false
	}
	for path, stamp := range f {
		o, ok := other[path]
		if !ok || o != stamp {
			return false
		}
	}
	return true
}

// fingerprintDirs walks dirs and stamps every regular file. Unreadable
// entries are skipped: a transiently missing file simply looks like a
// change on the next poll.
func fingerprintDirs(dirs []string) Fingerprint {
	fp := make(Fingerprint)
	for _, dir := range dirs {
		_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, walkErr error) error {
			if walkErr != nil || d.IsDir() {
				return nil
			}
			info, err := d.Info()
			if err != nil {
				return nil
			}
			fp[path] = fileStamp{modTime: info.ModTime(), size: info.Size()}
			return nil
		})
	}
	return fp
}
