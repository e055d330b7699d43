package catalog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const payload = "widget.onMount(function (state) { widget.log('up'); });"

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestLoaderDiscoversAllFormats(t *testing.T) {
	dir := t.TempDir()

	writeFile(t, filepath.Join(dir, "clock", "widget.yaml"), `
id: clock
version: "1.2.0"
name: Clock
inputPorts:
  - name: timezone
    default: UTC
outputPorts:
  - name: tick
permissions: [notifications]
sizeConstraints:
  min_width: 2
  max_width: 6
`)
	writeFile(t, filepath.Join(dir, "clock", "widget.js"), payload)

	writeFile(t, filepath.Join(dir, "group", "counter", "widget.json"),
		`{"id":"counter","version":"0.1.0","entry":"main.js","inputPorts":[{"name":"increment"}],"outputPorts":[{"name":"count"}],"permissions":[]}`)
	writeFile(t, filepath.Join(dir, "group", "counter", "main.js"), payload)

	writeFile(t, filepath.Join(dir, "stats", "widget.toml"), `
id = "stats"
version = "2.0.0"
permissions = ["compute"]

[[inputPorts]]
name = "series"

[[outputPorts]]
name = "summary"
`)
	writeFile(t, filepath.Join(dir, "stats", "widget.js"), payload)

	// ignored: not a manifest name
	writeFile(t, filepath.Join(dir, "notes", "readme.yaml"), "id: nope")

	c := New(nil)
	loaded, failed, err := NewLoader(c, dir, nil).Load()
	require.NoError(t, err)
	assert.Equal(t, 3, loaded)
	assert.Zero(t, failed)

	clock, err := c.Get("clock")
	require.NoError(t, err)
	assert.Equal(t, []string{"timezone"}, clock.Manifest.InputNames())
	assert.Equal(t, "UTC", clock.Manifest.InputDefaults()["timezone"])
	assert.Equal(t, 6, clock.Manifest.SizeConstraints.MaxWidth)
	assert.Equal(t, payload, clock.Payload)

	counter, err := c.Get("counter")
	require.NoError(t, err)
	assert.Equal(t, []string{"count"}, counter.Manifest.OutputNames())

	stats, err := c.Get("stats")
	require.NoError(t, err)
	assert.True(t, stats.Manifest.HasPermission("compute"))
	assert.Equal(t, []string{"series"}, stats.Manifest.InputNames())
}

func TestLoaderCountsBrokenWidgets(t *testing.T) {
	dir := t.TempDir()

	writeFile(t, filepath.Join(dir, "nopayload", "widget.yaml"), "id: nopayload\nversion: '1'\n")
	writeFile(t, filepath.Join(dir, "escape", "widget.yaml"), "id: escape\nversion: '1'\nentry: ../../etc/passwd\n")
	writeFile(t, filepath.Join(dir, "garbled", "widget.json"), "{not json")
	writeFile(t, filepath.Join(dir, "dupports", "widget.yaml"), "id: dupports\nversion: '1'\ninputPorts: [{name: a}, {name: a}]\n")
	writeFile(t, filepath.Join(dir, "dupports", "widget.js"), payload)
	writeFile(t, filepath.Join(dir, "good", "widget.yml"), "id: good\nversion: '1'\n")
	writeFile(t, filepath.Join(dir, "good", "widget.js"), payload)

	c := New(nil)
	loaded, failed, err := NewLoader(c, dir, nil).Load()
	require.NoError(t, err)
	assert.Equal(t, 1, loaded)
	assert.Equal(t, 4, failed)
	assert.Equal(t, 1, c.Len())
}

func TestLoaderRescanOnlyAddsNewWidgets(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "one", "widget.yaml"), "id: one\nversion: '1'\n")
	writeFile(t, filepath.Join(dir, "one", "widget.js"), payload)

	c := New(nil)
	l := NewLoader(c, dir, nil)
	loaded, failed, err := l.Load()
	require.NoError(t, err)
	assert.Equal(t, 1, loaded)
	assert.Zero(t, failed)

	writeFile(t, filepath.Join(dir, "two", "widget.yaml"), "id: two\nversion: '1'\n")
	writeFile(t, filepath.Join(dir, "two", "widget.js"), payload)

	loaded, failed, err = l.Load()
	require.NoError(t, err)
	assert.Equal(t, 1, loaded)
	assert.Zero(t, failed)
	assert.Equal(t, 2, c.Len())
}

func TestLoaderMissingDirectory(t *testing.T) {
	loaded, failed, err := NewLoader(New(nil), filepath.Join(t.TempDir(), "absent"), nil).Load()
	require.NoError(t, err)
	assert.Zero(t, loaded)
	assert.Zero(t, failed)
}

func TestParseManifestRejectsUnknownFormat(t *testing.T) {
	_, err := ParseManifest([]byte("id: x"), ".ini")
	assert.Error(t, err)

	_, err = ParseManifest([]byte("{"), ".json")
	assert.ErrorIs(t, err, ErrInvalidManifest)
}
