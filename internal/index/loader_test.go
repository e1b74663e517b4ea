package index

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	amanerrors "github.com/Aman-CERP/amanrag/internal/errors"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// =============================================================================
// ReadChunkFile
// =============================================================================

func TestReadChunkFile_ParsesChunks(t *testing.T) {
	// Given: a chunk file with scalar and list metadata and a blank line
	dir := t.TempDir()
	path := writeFile(t, dir, "reach.jsonl",
		`{"id":"reach-art33-01","text":"Article 33 duty to communicate.","source_id":"reach","position":0,"metadata":{"article_number":"33","cas_numbers":["50-00-0","71-43-2"]}}`+"\n"+
			"\n"+
			`{"id":"reach-art31-01","text":"Article 31 safety data sheets.","metadata":{"article_number":31}}`+"\n")

	// When: reading it
	chunks, err := ReadChunkFile(path)
	require.NoError(t, err)

	// Then: both chunks load with normalized metadata
	require.Len(t, chunks, 2)
	assert.Equal(t, "reach-art33-01", chunks[0].ID)
	assert.Equal(t, []string{"33"}, chunks[0].Metadata["article_number"])
	assert.Equal(t, []string{"50-00-0", "71-43-2"}, chunks[0].Metadata["cas_numbers"])
	assert.Equal(t, path, chunks[0].Metadata.Get(SourceFileKey))

	assert.Equal(t, "reach", chunks[1].SourceID, "source defaults to file name")
	assert.Equal(t, "31", chunks[1].Metadata.Get("article_number"))
}

func TestReadChunkFile_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		code    string
		line    string
	}{
		{"malformed json", `{"id":`, amanerrors.ErrCodeInvalidInput, "1"},
		{"missing id", `{"text":"x"}`, amanerrors.ErrCodeInvalidInput, "1"},
		{"missing text", `{"id":"a","text":"  "}`, amanerrors.ErrCodeInvalidInput, "1"},
		{"duplicate id", "{\"id\":\"a\",\"text\":\"x\"}\n{\"id\":\"a\",\"text\":\"y\"}", amanerrors.ErrCodeInvalidInput, "2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, t.TempDir(), "bad.jsonl", tt.content)

			_, err := ReadChunkFile(path)

			var ae *amanerrors.AmanError
			require.ErrorAs(t, err, &ae)
			assert.Equal(t, tt.code, ae.Code)
			assert.Equal(t, tt.line, ae.Details["line"])
		})
	}
}

func TestReadChunkFile_Missing(t *testing.T) {
	_, err := ReadChunkFile(filepath.Join(t.TempDir(), "none.jsonl"))
	assert.Equal(t, amanerrors.ErrCodeFileNotFound, amanerrors.GetCode(err))
}

// =============================================================================
// ResolvePaths
// =============================================================================

func TestResolvePaths_ExpandsDirectories(t *testing.T) {
	dir := t.TempDir()
	b := writeFile(t, dir, "b.jsonl", "")
	a := writeFile(t, dir, "a.jsonl", "")
	writeFile(t, dir, "readme.md", "")
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested.jsonl"), 0o755))

	files, err := ResolvePaths([]string{dir, a})
	require.NoError(t, err)

	assert.Equal(t, []string{a, b}, files)
}

func TestResolvePaths_MissingPath(t *testing.T) {
	_, err := ResolvePaths([]string{filepath.Join(t.TempDir(), "gone")})
	assert.Equal(t, amanerrors.ErrCodeFileNotFound, amanerrors.GetCode(err))
}
