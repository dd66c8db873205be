package test_test

import (
	"archive/zip"
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
)

const testToken = "test-token"

// fakeRepository is one repository served by the fake GitHub API
type fakeRepository struct {
	name   string
	commit string
	files  map[string]string
}

// fakeGitHub serves code search, commit listing and zipball endpoints for
// an organization named "acme"
type fakeGitHub struct {
	*httptest.Server
	repos    []fakeRepository
	hits     []string // search hits in order, duplicates allowed
	archives atomic.Int32
}

func defaultRepositories() []fakeRepository {
	return []fakeRepository{
		{
			name:   "portal",
			commit: "2024-03-01T10:00:00Z",
			files: map[string]string{
				"package.json": `{"dependencies": {"hds-react": "2.1.0", "react": "18.2.0"}, "devDependencies": {"vite": "5.0.0"}}`,
				"src/App.jsx": strings.Join([]string{
					"import { Button, Card as Tile, Navigation } from 'hds-react';",
					"export const App = () => (",
					"  <Navigation>",
					"    <Navigation.Item />",
					"    <Button>Go</Button>",
					"    <Button>Back</Button>",
					"    <Tile />",
					"  </Navigation>",
					");",
				}, "\n"),
				"src/layout.html": `<div class="hds-button hds-button--primary">`,
			},
		},
		{
			name:   "booking",
			commit: "2024-02-11T08:30:00Z",
			files: map[string]string{
				"package.json": `{"dependencies": {"hds-react": "2.0.0"}}`,
				"src/Form.tsx": "import { Button } from 'hds-react';\nexport const Form = () => <Button />;\n",
			},
		},
		{
			name:   "legacy",
			commit: "2023-11-20T12:00:00Z",
			files: map[string]string{
				"package.json": `{"dependencies": {"hds-react": "1.0.0"}}`,
				"index.js":     "console.log('nothing here')",
			},
		},
		{
			name:   "design-system",
			commit: "2024-03-02T09:00:00Z",
			files: map[string]string{
				"package.json": `{"name": "hds-react"}`,
			},
		},
	}
}

func newFakeGitHub(t *testing.T) *fakeGitHub {
	t.Helper()

	f := &fakeGitHub{
		repos: defaultRepositories(),
		hits:  []string{"acme/portal", "acme/booking", "acme/portal", "acme/hds-demo", "acme/legacy", "acme/design-system"},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/search/code", f.handleSearch)
	mux.HandleFunc("/repos/", f.handleRepository)

	f.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "token "+testToken {
			http.Error(w, `{"message": "Bad credentials"}`, http.StatusUnauthorized)
			return
		}
		mux.ServeHTTP(w, r)
	}))
	t.Cleanup(f.Close)
	return f
}

func (f *fakeGitHub) handleSearch(w http.ResponseWriter, r *http.Request) {
	type item struct {
		Repository struct {
			FullName string `json:"full_name"`
		} `json:"repository"`
	}

	// two hits per page to exercise pagination
	page := 1
	_, _ = fmt.Sscanf(r.URL.Query().Get("page"), "%d", &page)
	start := (page - 1) * 2
	var items []item
	for i := start; i < start+2 && i < len(f.hits); i++ {
		var it item
		it.Repository.FullName = f.hits[i]
		items = append(items, it)
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"total_count": len(f.hits), "items": items})
}

func (f *fakeGitHub) handleRepository(w http.ResponseWriter, r *http.Request) {
	// /repos/acme/<name>/<action>
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) != 4 {
		http.NotFound(w, r)
		return
	}
	repo := f.find(parts[2])
	if repo == nil {
		http.NotFound(w, r)
		return
	}

	switch parts[3] {
	case "commits":
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprintf(w, `[{"commit": {"committer": {"date": %q}}}]`, repo.commit)
	case "zipball":
		f.archives.Add(1)
		stem := "acme-" + repo.name + "-0a1b2c3"
		w.Header().Set("Content-Type", "application/zip")
		w.Header().Set("Content-Disposition", "attachment; filename="+stem+".zip")
		_, _ = w.Write(zipTree(stem, repo.files))
	default:
		http.NotFound(w, r)
	}
}

func (f *fakeGitHub) find(name string) *fakeRepository {
	for i := range f.repos {
		if f.repos[i].name == name {
			return &f.repos[i]
		}
	}
	return nil
}

func zipTree(prefix string, files map[string]string) []byte {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range files {
		w, err := zw.Create(prefix + "/" + name)
		if err != nil {
			panic(err)
		}
		if _, err := w.Write([]byte(content)); err != nil {
			panic(err)
		}
	}
	if err := zw.Close(); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

// writeSurveyFile writes a survey file pointing at apiURL and returns its path
func writeSurveyFile(t *testing.T, dir, apiURL, extra string) string {
	t.Helper()

	content := fmt.Sprintf(`owner: acme
api_base_url: %s
library:
  repository: design-system
  package: hds-react
  components: [Button, Card, Navigation, Koros]
search:
  query: "hds-react in:file filename:package.json org:{owner}"
  per_page: 2
  exclude_name_contains: ["hds-"]
packages: [hds-react, react, vite]
queues:
  api: {max_concurrent: 3, max_per_window: 50, window: 100ms}
  download: {max_concurrent: 2, max_per_window: 50, window: 100ms}
  extract: {max_concurrent: 2, max_per_window: 50, window: 100ms}
  scan: {max_concurrent: 2, max_per_window: 50, window: 100ms}
output:
  results_dir: %s
  work_dir: %s
%s`, apiURL, filepath.Join(dir, "results"), filepath.Join(dir, "work"), extra)

	path := filepath.Join(dir, "tally.yml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

// readJSON decodes the file at path into out
func readJSON(t *testing.T, path string, out any) {
	t.Helper()
	data, err := os.ReadFile(path) //nolint:gosec // G304: test file path
	if err != nil {
		t.Fatalf("ReadFile(%s) error = %v", path, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		t.Fatalf("Unmarshal(%s) error = %v", path, err)
	}
}

// reportFile returns the single results file ending in suffix
func reportFile(t *testing.T, dir, suffix string) string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(dir, "results", "*"+suffix))
	if err != nil || len(matches) != 1 {
		t.Fatalf("expected one *%s, got %v (%v)", suffix, matches, err)
	}
	return matches[0]
}
