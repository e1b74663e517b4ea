// Package index loads chunk files into the chunk store and both search
// indexes, and keeps them in step with the files while serving.
package index

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	amanerrors "github.com/Aman-CERP/amanrag/internal/errors"
	"github.com/Aman-CERP/amanrag/internal/store"
)

// SourceFileKey is the metadata field recording which chunk file a chunk
// was loaded from.
const SourceFileKey = "source_file"

// ChunkFileExt is the extension of chunk files inside directories.
const ChunkFileExt = ".jsonl"

const maxLineBytes = 16 * 1024 * 1024

// ReadChunkFile parses a JSONL chunk file, one chunk object per line.
// Blank lines are skipped. A chunk without source_id takes the file's base
// name.
func ReadChunkFile(path string) ([]*store.Chunk, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", path, err)
	}
	f, err := os.Open(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, amanerrors.New(amanerrors.ErrCodeFileNotFound, "chunk file not found", err).
				WithDetail("path", abs)
		}
		return nil, fmt.Errorf("open chunk file: %w", err)
	}
	defer func() { _ = f.Close() }()

	defaultSource := strings.TrimSuffix(filepath.Base(abs), filepath.Ext(abs))
	seen := make(map[string]int)
	var chunks []*store.Chunk

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), maxLineBytes)
	line := 0
	for sc.Scan() {
		line++
		raw := strings.TrimSpace(sc.Text())
		if raw == "" {
			continue
		}

		var c store.Chunk
		if err := json.Unmarshal([]byte(raw), &c); err != nil {
			return nil, invalidLine(abs, line, err.Error())
		}
		c.ID = strings.TrimSpace(c.ID)
		switch {
		case c.ID == "":
			return nil, invalidLine(abs, line, "chunk has no id")
		case strings.TrimSpace(c.Text) == "":
			return nil, invalidLine(abs, line, fmt.Sprintf("chunk %q has no text", c.ID))
		}
		if prev, dup := seen[c.ID]; dup {
			return nil, invalidLine(abs, line, fmt.Sprintf("duplicate chunk id %q (first on line %d)", c.ID, prev))
		}
		seen[c.ID] = line

		if c.SourceID == "" {
			c.SourceID = defaultSource
		}
		if c.Metadata == nil {
			c.Metadata = store.Metadata{}
		}
		c.Metadata[SourceFileKey] = []string{abs}
		chunks = append(chunks, &c)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", abs, err)
	}
	return chunks, nil
}

func invalidLine(path string, line int, msg string) error {
	return amanerrors.ValidationError(msg, nil).
		WithDetail("path", path).
		WithDetail("line", fmt.Sprint(line))
}

// ResolvePaths expands directories to the chunk files they contain and
// returns absolute, sorted, de-duplicated file paths.
func ResolvePaths(paths []string) ([]string, error) {
	set := make(map[string]bool)
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return nil, fmt.Errorf("resolve %s: %w", p, err)
		}
		info, err := os.Stat(abs)
		if err != nil {
			return nil, amanerrors.New(amanerrors.ErrCodeFileNotFound, "chunk path not found", err).
				WithDetail("path", abs)
		}
		if !info.IsDir() {
			set[abs] = true
			continue
		}
		entries, err := os.ReadDir(abs)
		if err != nil {
			return nil, fmt.Errorf("read dir %s: %w", abs, err)
		}
		for _, e := range entries {
			if !e.IsDir() && filepath.Ext(e.Name()) == ChunkFileExt {
				set[filepath.Join(abs, e.Name())] = true
			}
		}
	}

	files := make([]string, 0, len(set))
	for f := range set {
		files = append(files, f)
	}
	sort.Strings(files)
	return files, nil
}
