package store

import (
	"archive/tar"
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// tarWithName builds a one-entry archive with an arbitrary entry name.
func tarWithName(t *testing.T, name string) []byte {
	t.Helper()
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	require.NoError(t, tw.WriteHeader(&tar.Header{
		Name: name, Mode: 0o644, Size: 1, Typeflag: tar.TypeReg,
	}))
	_, err := tw.Write([]byte("x"))
	require.NoError(t, err)
	require.NoError(t, tw.Close())
	return buf.Bytes()
}

func openMemStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(Config{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCacheRoundTrip(t *testing.T) {
	t.Parallel()
	s := openMemStore(t)

	_, ok := s.FetchCache("deps-main")
	assert.False(t, ok, "fresh store must miss")

	s.StoreCache("deps-main", []byte("payload"))
	data, ok := s.FetchCache("deps-main")
	require.True(t, ok)
	assert.Equal(t, []byte("payload"), data)

	// Last writer wins.
	s.StoreCache("deps-main", []byte("newer"))
	data, ok = s.FetchCache("deps-main")
	require.True(t, ok)
	assert.Equal(t, []byte("newer"), data)
}

func TestArtifactRoundTrip(t *testing.T) {
	t.Parallel()
	s := openMemStore(t)

	_, err := s.FetchArtifact("p1", "build")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.PublishArtifact("p1", "build", []byte("bin"), 0))
	data, err := s.FetchArtifact("p1", "build")
	require.NoError(t, err)
	assert.Equal(t, []byte("bin"), data)

	// Same job name under another pipeline is a distinct key.
	_, err = s.FetchArtifact("p2", "build")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestCacheAndArtifactKeysDoNotCollide(t *testing.T) {
	t.Parallel()
	s := openMemStore(t)

	s.StoreCache("x/y", []byte("cache"))
	require.NoError(t, s.PublishArtifact("x", "y", []byte("artifact"), 0))

	data, ok := s.FetchCache("x/y")
	require.True(t, ok)
	assert.Equal(t, []byte("cache"), data)

	data, err := s.FetchArtifact("x", "y")
	require.NoError(t, err)
	assert.Equal(t, []byte("artifact"), data)
}

func TestExpandKey(t *testing.T) {
	t.Parallel()

	vars := map[string]string{"branch": "main", "job": "compile"}
	testCases := []struct {
		template string
		want     string
	}{
		{"deps-$branch", "deps-main"},
		{"${job}-${branch}", "compile-main"},
		{"static", "static"},
		{"missing-$nope", "missing-"},
		{"price-$$9", "price-$9"},
		{"trailing-$", "trailing-$"},
		{"unclosed-${brace", "unclosed-${brace"},
	}
	for _, tc := range testCases {
		t.Run(tc.template, func(t *testing.T) {
			assert.Equal(t, tc.want, ExpandKey(tc.template, vars))
		})
	}
}

func TestParseDotenv(t *testing.T) {
	t.Parallel()

	t.Run("valid", func(t *testing.T) {
		t.Parallel()
		vars, err := ParseDotenv([]byte("# release metadata\nVERSION=2.1.7\n\nNAME=\"quoted value\"\nEMPTY=\n"))
		require.NoError(t, err)
		assert.Equal(t, map[string]string{
			"VERSION": "2.1.7",
			"NAME":    "quoted value",
			"EMPTY":   "",
		}, vars)
	})

	t.Run("malformed line", func(t *testing.T) {
		t.Parallel()
		_, err := ParseDotenv([]byte("VERSION=1\nnot a pair\n"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "line 2")
	})
}

func TestCaptureAndRestore(t *testing.T) {
	t.Parallel()

	src := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(src, "dist", "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "dist", "app.bin"), []byte("binary"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "dist", "sub", "lib.so"), []byte("lib"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "notes.txt"), []byte("skip me"), 0o644))

	blob, err := CapturePaths(src, []string{"dist/"})
	require.NoError(t, err)

	dst := t.TempDir()
	require.NoError(t, RestoreTo(dst, blob))

	data, err := os.ReadFile(filepath.Join(dst, "dist", "app.bin"))
	require.NoError(t, err)
	assert.Equal(t, []byte("binary"), data)

	data, err = os.ReadFile(filepath.Join(dst, "dist", "sub", "lib.so"))
	require.NoError(t, err)
	assert.Equal(t, []byte("lib"), data)

	_, err = os.Stat(filepath.Join(dst, "notes.txt"))
	assert.True(t, os.IsNotExist(err), "unmatched files stay out of the archive")
}

func TestCapturePaths_NoMatches(t *testing.T) {
	t.Parallel()

	blob, err := CapturePaths(t.TempDir(), []string{"dist/**"})
	require.NoError(t, err)
	require.NoError(t, RestoreTo(t.TempDir(), blob), "an empty archive restores cleanly")
}

func TestRestoreTo_RejectsEscape(t *testing.T) {
	t.Parallel()

	src := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(src, "f.txt"), []byte("x"), 0o644))
	blob, err := CapturePaths(src, []string{"f.txt"})
	require.NoError(t, err)

	// Hand-corrupt is overkill; the escape check is exercised through the
	// public API by restoring a crafted name.
	evil := tarWithName(t, "../evil.txt")
	err = RestoreTo(t.TempDir(), evil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "escapes workdir")

	require.NoError(t, RestoreTo(t.TempDir(), blob))
}

func TestPublishArtifact_TTLExpires(t *testing.T) {
	t.Parallel()
	s := openMemStore(t)

	require.NoError(t, s.PublishArtifact("p1", "short", []byte("gone soon"), time.Second))
	data, err := s.FetchArtifact("p1", "short")
	require.NoError(t, err)
	assert.Equal(t, []byte("gone soon"), data)
}
