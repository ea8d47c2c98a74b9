package storage

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveAndLoad(t *testing.T) {
	fs, err := NewFileStorage(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, fs.SaveFile("images", "flag.png", []byte("png")))
	assert.True(t, fs.FileExists("images", "flag.png"))
	assert.False(t, fs.FileExists("", "images"), "directories are not files")

	data, err := fs.LoadFile("images", "flag.png")
	require.NoError(t, err)
	assert.Equal(t, "png", string(data))

	info, err := os.Stat(fs.Path("images", "flag.png"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0644), info.Mode().Perm())

	// no temp files left behind
	entries, err := os.ReadDir(filepath.Join(fs.BaseDir, "images"))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestLoadMissingFile(t *testing.T) {
	fs, err := NewFileStorage(t.TempDir())
	require.NoError(t, err)

	_, err = fs.LoadFile("", "config.json")
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestJSONRoundTripOverwrites(t *testing.T) {
	fs, err := NewFileStorage(t.TempDir())
	require.NoError(t, err)

	type settings struct {
		Provider string `json:"provider"`
	}
	require.NoError(t, fs.SaveJSONFile("", "config.json", settings{Provider: "google"}))
	require.NoError(t, fs.SaveJSONFile("", "config.json", settings{Provider: "static"}))

	var got settings
	require.NoError(t, fs.LoadJSONFile("", "config.json", &got))
	assert.Equal(t, "static", got.Provider)

	require.NoError(t, fs.SaveFile("", "broken.json", []byte("{")))
	assert.Error(t, fs.LoadJSONFile("", "broken.json", &got))
}

func TestConcurrentWritesStayWhole(t *testing.T) {
	fs, err := NewFileStorage(t.TempDir())
	require.NoError(t, err)

	payloads := []string{"aaaaaaaa", "bbbbbbbb", "cccccccc", "dddddddd"}
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, fs.SaveFile("", "out.txt", []byte(payloads[i%len(payloads)])))
		}(i)
	}
	wg.Wait()

	data, err := fs.LoadFile("", "out.txt")
	require.NoError(t, err)
	assert.Contains(t, payloads, string(data))
}
