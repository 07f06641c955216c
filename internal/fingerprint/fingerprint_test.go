package fingerprint

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	for _, name := range []string{XXH3, SHA256} {
		h, err := New(name)
		require.NoError(t, err)
		assert.Equal(t, name, h.Algorithm())
	}

	_, err := New("md5")
	assert.Error(t, err)
	assert.Equal(t, []string{SHA256, XXH3}, Algorithms())
	assert.Equal(t, XXH3, Default().Algorithm())
}

func TestFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0644))

	for _, name := range Algorithms() {
		t.Run(name, func(t *testing.T) {
			h, err := New(name)
			require.NoError(t, err)

			fp, err := File(h, path)
			require.NoError(t, err)
			assert.Equal(t, int64(5), fp.Size)
			assert.NotEmpty(t, fp.Digest)
			assert.True(t, fp.Equal(Bytes(h, []byte("hello"))))
			assert.False(t, fp.Equal(Bytes(h, []byte("hellO"))))
		})
	}
}

func TestFileSHA256KnownDigest(t *testing.T) {
	h, err := New(SHA256)
	require.NoError(t, err)

	fp := Bytes(h, []byte(""))
	assert.Equal(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", fp.Digest)
	assert.Equal(t, int64(0), fp.Size)
}

func TestFileTouchKeepsFingerprint(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("same"), 0644))

	before, err := File(Default(), path)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("same"), 0644))
	after, err := File(Default(), path)
	require.NoError(t, err)

	assert.True(t, before.Equal(after))
}

func TestFileMissing(t *testing.T) {
	_, err := File(Default(), filepath.Join(t.TempDir(), "nope"))
	assert.True(t, os.IsNotExist(err))
}
