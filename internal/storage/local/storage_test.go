package local

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStorage_Save(t *testing.T) {
	dir := t.TempDir()

	s, err := NewStorage(filepath.Join(dir, "out"))
	require.NoError(t, err)

	path, err := s.Save(context.Background(), "42", "shot.jpg", strings.NewReader("data"), 4, "image/jpeg")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "out", "42", "shot.jpg"), path)

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "data", string(got))
}

func TestStorage_SaveStaysInDir(t *testing.T) {
	dir := t.TempDir()

	s, err := NewStorage(dir)
	require.NoError(t, err)

	path, err := s.Save(context.Background(), "../../etc", "../passwd", strings.NewReader("x"), 1, "")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(path, dir))
}
