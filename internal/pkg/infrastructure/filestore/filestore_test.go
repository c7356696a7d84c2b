package filestore

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveComputesSizeAndChecksum(t *testing.T) {
	fs := afero.NewMemMapFs()
	s, err := New(fs, "/fw")
	require.NoError(t, err)

	payload := bytes.Repeat([]byte{0xde, 0xad, 0xbe, 0xef}, 1024)
	stored, err := s.Save("firmware_v1.0.0.bin", bytes.NewReader(payload))
	require.NoError(t, err)

	sum := sha256.Sum256(payload)
	assert.Equal(t, int64(len(payload)), stored.Size)
	assert.Equal(t, hex.EncodeToString(sum[:]), stored.Checksum)

	f, size, err := s.Open("firmware_v1.0.0.bin")
	require.NoError(t, err)
	defer f.Close()

	content, err := io.ReadAll(f)
	require.NoError(t, err)
	assert.Equal(t, int64(len(payload)), size)
	assert.Equal(t, payload, content)
}

func TestRemoveIsIdempotent(t *testing.T) {
	s, err := New(afero.NewMemMapFs(), "/fw")
	require.NoError(t, err)

	_, err = s.Save("a.bin", bytes.NewReader([]byte("x")))
	require.NoError(t, err)

	assert.NoError(t, s.Remove("a.bin"))
	assert.ErrorIs(t, s.Remove("a.bin"), ErrFileNotFound)

	_, _, err = s.Open("a.bin")
	assert.ErrorIs(t, err, ErrFileNotFound)
}

func TestNamesMayNotEscapeTheDirectory(t *testing.T) {
	s, err := New(afero.NewMemMapFs(), "/fw")
	require.NoError(t, err)

	_, err = s.Save("../etc/passwd", bytes.NewReader([]byte("x")))
	assert.Error(t, err)
}

func TestRenameMovesTheFile(t *testing.T) {
	s, err := New(afero.NewMemMapFs(), "/fw")
	require.NoError(t, err)

	_, err = s.Save("a.bin.part", bytes.NewReader([]byte("xyz")))
	require.NoError(t, err)

	require.NoError(t, s.Rename("a.bin.part", "a.bin"))

	_, _, err = s.Open("a.bin.part")
	assert.ErrorIs(t, err, ErrFileNotFound)

	f, size, err := s.Open("a.bin")
	require.NoError(t, err)
	f.Close()
	assert.Equal(t, int64(3), size)

	assert.ErrorIs(t, s.Rename("missing.bin", "b.bin"), ErrFileNotFound)
	assert.Error(t, s.Rename("a.bin", "../b.bin"))
}
