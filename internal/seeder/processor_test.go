package seeder

import (
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTestPNG(t *testing.T, path string) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 16, 16))
	for y := 0; y < 16; y++ {
		for x := 0; x < 16; x++ {
			img.SetRGBA(x, y, color.RGBA{R: uint8(x * 16), G: uint8(y * 16), A: 255})
		}
	}
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
}

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return log
}

func TestProcessDataset(t *testing.T) {
	dir := t.TempDir()
	writeTestPNG(t, filepath.Join(dir, "cats", "b.png"))
	writeTestPNG(t, filepath.Join(dir, "cats", "a.png"))
	writeTestPNG(t, filepath.Join(dir, "dogs", "c.png"))
	// Not an image, must be skipped silently.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "cats", "notes.txt"), []byte("x"), 0o644))
	// Corrupt file with an image extension, skipped with a warning.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "dogs", "broken.png"), []byte("nope"), 0o644))

	p := NewProcessor(3, quietLogger())
	descs, err := p.ProcessDataset(context.Background(), dir)
	require.NoError(t, err)

	require.Len(t, descs, 3)
	assert.Equal(t, "cats", descs[0].Category)
	assert.Equal(t, "a.png", descs[0].ImageName)
	assert.Equal(t, "b.png", descs[1].ImageName)
	assert.Equal(t, "dogs", descs[2].Category)
	assert.Len(t, descs[0].Histogram, 768)
}

func TestProcessDatasetMissingDir(t *testing.T) {
	p := NewProcessor(1, quietLogger())
	_, err := p.ProcessDataset(context.Background(), filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}

func TestProcessDatasetCancelled(t *testing.T) {
	dir := t.TempDir()
	writeTestPNG(t, filepath.Join(dir, "cats", "a.png"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := NewProcessor(1, quietLogger())
	_, err := p.ProcessDataset(ctx, dir)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNormalizeImageName(t *testing.T) {
	assert.Equal(t, "my_cat.jpg", NormalizeImageName("my cat.jpg"))
	assert.Equal(t, "catjpg.png", NormalizeImageName("../cat👀jpg.png"))
	assert.Equal(t, "plain.jpeg", NormalizeImageName("plain.jpeg"))
}

func TestIsSupportedImage(t *testing.T) {
	assert.True(t, IsSupportedImage("a.JPG"))
	assert.True(t, IsSupportedImage("a.png"))
	assert.False(t, IsSupportedImage("a.webp"))
	assert.False(t, IsSupportedImage("a"))
}
