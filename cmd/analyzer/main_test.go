package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dpolishuk/apidocs/internal/models"
)

func TestRun_PrintsDescriptors(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "urls.py"), []byte(`urlpatterns = [path("ping/", views.ping)]
`), 0o644))

	var out bytes.Buffer
	require.NoError(t, run(context.Background(), root, &out))

	var descs []models.EndpointDescriptor
	require.NoError(t, json.Unmarshal(out.Bytes(), &descs))
	assert.Equal(t, []models.EndpointDescriptor{{Path: "/ping/", Methods: []string{"GET"}, View: "ping"}}, descs)
}

func TestRun_EmptyProjectPrintsEmptyArray(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, run(context.Background(), t.TempDir(), &out))
	assert.Equal(t, "[]\n", out.String())
}

func TestRun_MissingRoot(t *testing.T) {
	var out bytes.Buffer
	assert.Error(t, run(context.Background(), filepath.Join(t.TempDir(), "nope"), &out))
	assert.Empty(t, out.String())
}

func TestNewLogger(t *testing.T) {
	_, err := newLogger("debug")
	assert.NoError(t, err)
	_, err = newLogger("loud")
	assert.Error(t, err)
}
