package registry

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFingerprintDetectsChanges(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.unit.yaml")
	require.NoError(t, os.WriteFile(path, []byte("name: a"), 0o600))

	base := fingerprintDirs([]string{dir})
	require.True(t, base.Equal(fingerprintDirs([]string{dir})))

	// Size change.
	require.NoError(t, os.WriteFile(path, []byte("name: a-longer"), 0o600))
	require.False(t, base.Equal(fingerprintDirs([]string{dir})))

	// New file.
	after := fingerprintDirs([]string{dir})
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.unit.yaml"), []byte("name: b"), 0o600))
	require.False(t, after.Equal(fingerprintDirs([]string{dir})))

	// Same size, different mtime.
	withB := fingerprintDirs([]string{dir})
	future := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(path, future, future))
	require.False(t, withB.Equal(fingerprintDirs([]string{dir})))
}

func TestFingerprintMissingDirIsEmpty(t *testing.T) {
	fp := fingerprintDirs([]string{filepath.Join(t.TempDir(), "nope")})
	require.Empty(t, fp)
	require.True(t, fp.Equal(Fingerprint{}))
}
