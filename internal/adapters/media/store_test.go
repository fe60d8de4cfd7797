package media

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lccanvas/canvasd/internal/core/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, nil))
}

func testPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: 64, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestStore_SaveGeneratedAndList(t *testing.T) {
	store := NewStore(testLogger(), t.TempDir())

	seed := int64(1234)
	req := domain.GenerateRequest{
		UserPrompt:  "a small castle",
		AspectRatio: "landscape",
		WorkflowID:  "BasicWorkFlow_PixelArt",
		Seed:        &seed,
	}

	// 1. Save
	saved, err := store.SaveGenerated("anon-abc", testPNG(t, 64, 48), req, "result_job1.png")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(saved.URL, "/outputs/users/anon-abc/"))
	assert.True(t, strings.HasSuffix(saved.ThumbURL, ".jpg"))
	assert.FileExists(t, saved.Path)
	assert.FileExists(t, saved.MetaPath)

	// 2. List newest first
	items, err := store.List("anon-abc", domain.MediaKindGenerated, false)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, saved.ID, items[0].ID)
	assert.Equal(t, domain.MediaStatusActive, items[0].Status)
	require.NotNil(t, items[0].Meta)
	assert.Equal(t, "a small castle", items[0].Meta.Prompt)
	assert.Equal(t, "BasicWorkFlow_PixelArt", items[0].Meta.WorkflowID)
	require.NotNil(t, items[0].Meta.Seed)
	assert.Equal(t, int64(1234), *items[0].Meta.Seed)

	// 3. Locate by id
	pngPath, ok := store.LocatePNG("anon-abc", domain.MediaKindGenerated, saved.ID)
	require.True(t, ok)
	assert.Equal(t, saved.Path, pngPath)

	// 4. Unknown owner sees nothing
	items, err = store.List("anon-other", domain.MediaKindGenerated, false)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestStore_SoftDeleteHidesFromListing(t *testing.T) {
	store := NewStore(testLogger(), t.TempDir())

	first, err := store.SaveGenerated("anon-abc", testPNG(t, 8, 8), domain.GenerateRequest{}, "a.png")
	require.NoError(t, err)
	_, err = store.SaveGenerated("anon-abc", testPNG(t, 8, 8), domain.GenerateRequest{}, "b.png")
	require.NoError(t, err)

	// 1. Trash the first one
	require.NoError(t, store.UpdateStatus("anon-abc", domain.MediaKindGenerated, first.ID, domain.MediaStatusTrash))

	items, err := store.List("anon-abc", domain.MediaKindGenerated, false)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.NotEqual(t, first.ID, items[0].ID)

	// 2. Trash is visible with includeTrash
	items, err = store.List("anon-abc", domain.MediaKindGenerated, true)
	require.NoError(t, err)
	assert.Len(t, items, 2)

	// 3. Restore brings it back
	require.NoError(t, store.UpdateStatus("anon-abc", domain.MediaKindGenerated, first.ID, domain.MediaStatusActive))
	items, err = store.List("anon-abc", domain.MediaKindGenerated, false)
	require.NoError(t, err)
	assert.Len(t, items, 2)

	// 4. Unknown id
	err = store.UpdateStatus("anon-abc", domain.MediaKindGenerated, "no-such-id", domain.MediaStatusTrash)
	assert.ErrorIs(t, err, domain.ErrMediaNotFound)
}

func TestStore_UploadKindsAreSeparated(t *testing.T) {
	store := NewStore(testLogger(), t.TempDir())

	ctl, err := store.SaveUpload("anon-abc", domain.MediaKindControl, testPNG(t, 16, 16), "pose.png")
	require.NoError(t, err)
	in, err := store.SaveUpload("anon-abc", domain.MediaKindInput, testPNG(t, 16, 16), "photo.jpg")
	require.NoError(t, err)

	// 1. Uploads never leak into the generated listing
	items, err := store.List("anon-abc", domain.MediaKindGenerated, false)
	require.NoError(t, err)
	assert.Empty(t, items)

	// 2. Each kind lists its own subtree
	controls, err := store.List("anon-abc", domain.MediaKindControl, false)
	require.NoError(t, err)
	require.Len(t, controls, 1)
	require.NotNil(t, controls[0].Meta)
	assert.Equal(t, "control", controls[0].Meta.Kind)

	inputs, err := store.List("anon-abc", domain.MediaKindInput, false)
	require.NoError(t, err)
	require.Len(t, inputs, 1)
	assert.Equal(t, "input", inputs[0].Meta.Kind)

	// 3. Locate respects the kind subtree
	_, ok := store.LocatePNG("anon-abc", domain.MediaKindControl, in.ID)
	assert.False(t, ok)
	path, ok := store.LocatePNG("anon-abc", domain.MediaKindControl, ctl.ID)
	require.True(t, ok)
	assert.Contains(t, filepath.ToSlash(path), "/controls/")
}

func TestStore_GeneratedListingSkipsForeignSidecars(t *testing.T) {
	store := NewStore(testLogger(), t.TempDir())

	saved, err := store.SaveGenerated("anon-abc", testPNG(t, 8, 8), domain.GenerateRequest{}, "x.png")
	require.NoError(t, err)

	// Stray upload artifacts inside the generated date tree: the sidecar
	// kind keeps them out of the listing regardless of placement.
	dir := filepath.Dir(saved.Path)
	for _, kind := range []string{"control", "input"} {
		id := "stray-" + kind
		require.NoError(t, os.WriteFile(filepath.Join(dir, id+".png"), testPNG(t, 4, 4), 0o644))
		sidecar := fmt.Sprintf(`{"kind":%q,"status":"active"}`, kind)
		require.NoError(t, os.WriteFile(filepath.Join(dir, id+".json"), []byte(sidecar), 0o644))
	}

	items, err := store.List("anon-abc", domain.MediaKindGenerated, false)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, saved.ID, items[0].ID)
}

func TestStore_PurgeTrashed(t *testing.T) {
	store := NewStore(testLogger(), t.TempDir())

	keep, err := store.SaveUpload("anon-abc", domain.MediaKindControl, testPNG(t, 8, 8), "keep.png")
	require.NoError(t, err)
	gone, err := store.SaveUpload("anon-abc", domain.MediaKindControl, testPNG(t, 8, 8), "gone.png")
	require.NoError(t, err)

	require.NoError(t, store.UpdateStatus("anon-abc", domain.MediaKindControl, gone.ID, domain.MediaStatusTrash))

	// 1. Purge removes only trashed files
	deleted := store.PurgeTrashedControls("anon-abc")
	assert.Equal(t, 1, deleted)
	assert.NoFileExists(t, gone.Path)
	assert.NoFileExists(t, gone.MetaPath)
	assert.FileExists(t, keep.Path)

	// 2. Second purge is a no-op
	assert.Equal(t, 0, store.PurgeTrashedControls("anon-abc"))
}

func TestStore_WebPathRoundTrip(t *testing.T) {
	root := t.TempDir()
	store := NewStore(testLogger(), root)

	fsPath := filepath.Join(root, "users", "anon-x", "2025", "01", "02", "abc.png")
	url := store.WebPath(fsPath)
	assert.Equal(t, "/outputs/users/anon-x/2025/01/02/abc.png", url)

	back, ok := store.FSPathFromWeb(url)
	require.True(t, ok)
	assert.Equal(t, fsPath, back)

	_, ok = store.FSPathFromWeb("/static/app.js")
	assert.False(t, ok)

	// Artifact availability follows the file on disk.
	assert.False(t, store.ArtifactExists(url))
	require.NoError(t, os.MkdirAll(filepath.Dir(fsPath), 0o755))
	require.NoError(t, os.WriteFile(fsPath, []byte("x"), 0o644))
	assert.True(t, store.ArtifactExists(url))
}

func TestStore_Users(t *testing.T) {
	store := NewStore(testLogger(), t.TempDir())
	assert.Empty(t, store.Users())

	_, err := store.SaveGenerated("anon-b", testPNG(t, 8, 8), domain.GenerateRequest{}, "x.png")
	require.NoError(t, err)
	_, err = store.SaveGenerated("anon-a", testPNG(t, 8, 8), domain.GenerateRequest{}, "y.png")
	require.NoError(t, err)

	assert.Equal(t, []string{"anon-a", "anon-b"}, store.Users())
}

func TestStore_ListSurvivesMissingSidecar(t *testing.T) {
	store := NewStore(testLogger(), t.TempDir())

	saved, err := store.SaveGenerated("anon-abc", testPNG(t, 8, 8), domain.GenerateRequest{}, "x.png")
	require.NoError(t, err)

	// 1. Remove the sidecar; the image must still be listed
	require.NoError(t, os.Remove(saved.MetaPath))
	items, err := store.List("anon-abc", domain.MediaKindGenerated, false)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Nil(t, items[0].Meta)
	assert.Equal(t, domain.MediaStatusActive, items[0].Status)

	// 2. Without a sidecar the implied thumb path is used
	assert.True(t, strings.HasSuffix(items[0].ThumbURL, "/thumb/"+saved.ID+".jpg"))
}
