//go:build unix

package fstree

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/servedir/internal/mimetype"
)

func TestReadSpecialFile(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, syscall.Mkfifo(filepath.Join(root, "pipe"), 0o644))

	tree := newTestTree(t, root, nil)
	node, err := tree.Traverse("pipe")
	require.NoError(t, err)
	assert.IsType(t, &File{}, node)

	src := node.Read(context.Background())
	assert.Equal(t, mimetype.JSON, src.Type())

	data := string(src.Bytes())
	assert.True(t, strings.HasSuffix(data, "\n"))
	assert.Contains(t, data, "\n\t\"name\": \"pipe\"")

	var record map[string]interface{}
	require.NoError(t, json.Unmarshal(src.Bytes(), &record))
	assert.Equal(t, "pipe", record["name"])
	assert.True(t, strings.HasPrefix(record["mode"].(string), "p"))
}
