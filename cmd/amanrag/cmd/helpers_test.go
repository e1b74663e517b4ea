package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

const fakeAnswer = "Article 33 requires suppliers to share SVHC information with recipients."

const testChunks = `{"id":"reach-art33-01","text":"Article 33 requires suppliers of articles containing a substance of very high concern above 0.1% to provide sufficient information to recipients.","source_id":"reach-regulation","metadata":{"article_number":"33","regulation":"REACH"}}
{"id":"reach-art31-01","text":"Article 31 sets out the requirements for safety data sheets supplied to downstream users.","source_id":"reach-regulation","metadata":{"article_number":"31","regulation":"REACH"}}
{"id":"clp-art17-01","text":"Article 17 of CLP lists the label elements for hazardous substances and mixtures.","source_id":"clp-regulation","metadata":{"article_number":"17","regulation":"CLP"}}
`

// fakeOllama answers classification prompts with "simple" and everything
// else with fakeAnswer.
type fakeOllama struct {
	*httptest.Server
	generateCalls atomic.Int64
}

func newFakeOllama(t *testing.T) *fakeOllama {
	t.Helper()
	f := &fakeOllama{}
	f.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/tags":
			_, _ = w.Write([]byte(`{"models":[{"name":"llama3.2:1b"},{"name":"llama3.1:8b"}]}`))
		case "/api/generate":
			f.generateCalls.Add(1)
			var req struct {
				Prompt string `json:"prompt"`
			}
			_ = json.NewDecoder(r.Body).Decode(&req)
			answer := fakeAnswer
			if strings.Contains(req.Prompt, "Classify this query") {
				answer = "simple"
			}
			_ = json.NewEncoder(w).Encode(map[string]any{"response": answer})
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(f.Close)
	return f
}

// testEnv is an isolated data dir, chunk file and config file.
type testEnv struct {
	dir        string
	dataDir    string
	chunkFile  string
	configFile string
	ollama     *fakeOllama
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	dir := t.TempDir()
	env := &testEnv{
		dir:        dir,
		dataDir:    filepath.Join(dir, "data"),
		chunkFile:  filepath.Join(dir, "reach.jsonl"),
		configFile: filepath.Join(dir, "amanrag.yaml"),
		ollama:     newFakeOllama(t),
	}
	require.NoError(t, os.WriteFile(env.chunkFile, []byte(testChunks), 0o644))
	env.writeConfig(t, "")
	return env
}

// writeConfig writes a config using static embeddings, no expansion and
// lexical reranking, so only routing and generation reach the fake server.
// extra is appended verbatim.
func (e *testEnv) writeConfig(t *testing.T, extra string) {
	t.Helper()
	cfg := fmt.Sprintf(`expansion:
  enabled: false
rerank:
  provider: lexical
generation:
  host: %s
  breaker:
    enabled: false
embeddings:
  provider: static
  dimensions: 32
storage:
  data_dir: %s
  chunk_files:
    - %s
logging:
  level: debug
  file_path: %s
%s`, e.ollama.URL, e.dataDir, e.chunkFile, filepath.Join(e.dir, "amanrag.log"), extra)
	require.NoError(t, os.WriteFile(e.configFile, []byte(cfg), 0o644))
}

// run executes the root command with --config set.
func (e *testEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	return execute(t, append([]string{"--config", e.configFile}, args...)...)
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}
