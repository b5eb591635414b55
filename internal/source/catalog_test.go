package source

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeCatalog(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sources.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadCatalog_Missing(t *testing.T) {
	c, err := LoadCatalog(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.True(t, c.Enabled("amazon"))
	assert.Equal(t, 7*24*time.Hour, c.Window("amazon", 7*24*time.Hour))
}

func TestLoadCatalog_Overrides(t *testing.T) {
	path := writeCatalog(t, `
sources:
  - name: amazon
    window_days: 3
  - name: otto
    enabled: false
`)
	c, err := LoadCatalog(path)
	require.NoError(t, err)

	assert.True(t, c.Enabled("amazon"))
	assert.False(t, c.Enabled("otto"))
	assert.True(t, c.Enabled("unknown"))

	assert.Equal(t, 3*24*time.Hour, c.Window("amazon", 7*24*time.Hour))
	assert.Equal(t, 7*24*time.Hour, c.Window("otto", 7*24*time.Hour))
}

func TestLoadCatalog_Invalid(t *testing.T) {
	path := writeCatalog(t, "sources: [")
	_, err := LoadCatalog(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse catalog")
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()

	all := r.All()
	require.Len(t, all, 2)
	assert.Equal(t, "amazon", all[0].Name())
	assert.Equal(t, "otto", all[1].Name())

	s, err := r.Get("otto")
	require.NoError(t, err)
	assert.Equal(t, "otto", s.Name())

	_, err = r.Get("ebay")
	require.Error(t, err)

	selected, err := r.Select([]string{"otto"})
	require.NoError(t, err)
	require.Len(t, selected, 1)
	assert.Equal(t, "otto", selected[0].Name())

	_, err = r.Select([]string{"otto", "ebay"})
	require.Error(t, err)
}
