package serve

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/igolaizola/sunoprompt/pkg/analysis"
	"github.com/igolaizola/sunoprompt/pkg/client"
	"github.com/igolaizola/sunoprompt/pkg/cmd/generate"
	"github.com/igolaizola/sunoprompt/pkg/music"
	"github.com/igolaizola/sunoprompt/pkg/storage"
	"github.com/igolaizola/sunoprompt/pkg/suno"
)

type fakeAnalyzer struct {
	err error
}

func (a *fakeAnalyzer) Metadata(ctx context.Context, path string) (music.Metadata, error) {
	return music.Metadata{"Channels": 2, "Energy": "High"}, nil
}

func (a *fakeAnalyzer) Analyze(ctx context.Context, path string, opts *analysis.Options, fn analysis.Progress) (*music.AnalysisResult, error) {
	fn("Analyzing audio features...", 10)
	fn("Detecting tempo...", 60)
	if a.err != nil {
		return nil, a.err
	}
	genre := opts.SelectedGenre
	if genre == "" && len(opts.Genres) > 0 {
		genre = opts.Genres[0].Genre
	}
	return &music.AnalysisResult{
		Success:  true,
		Analysis: music.Analysis{Tempo: 120, Genre: genre, Energy: music.Energy{Label: "high"}},
		Prompts:  []music.PromptVariation{{Name: "Basic", Prompt: music.Prompt{Text: "song"}}},
	}, nil
}

type fakeGenerator struct {
	lck  sync.Mutex
	key  string
	reqs []*music.GenerationRequest
}

func (g *fakeGenerator) Generate(ctx context.Context, req *music.GenerationRequest) ([]music.GenerationID, error) {
	g.lck.Lock()
	defer g.lck.Unlock()
	g.reqs = append(g.reqs, req)
	return []music.GenerationID{{ID: "a"}, {ID: "b"}}, nil
}

func (g *fakeGenerator) Status(ctx context.Context, ids []string) (*music.GenerationStatus, error) {
	return &music.GenerationStatus{
		Status:  music.Completed,
		Results: []music.Track{{ID: ids[0], AudioURL: "http://x/" + ids[0] + ".mp3"}},
	}, nil
}

func (g *fakeGenerator) Credits(ctx context.Context) (float64, error) {
	if g.key == "bad" {
		return 0, suno.ErrUnauthorized
	}
	return 42, nil
}

func (g *fakeGenerator) Download(ctx context.Context, u string, w io.Writer) error {
	_, err := io.WriteString(w, "ID3 audio")
	return err
}

type testServer struct {
	*httptest.Server
	store *storage.Store
	gen   *fakeGenerator
}

func newTestServer(t *testing.T, a analysis.Analyzer) *testServer {
	t.Helper()
	dir := t.TempDir()
	ctx := context.Background()
	store, err := storage.New("sqlite", filepath.Join(dir, "test.db"), false)
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Start(ctx); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Stop() })
	if err := store.Migrate(ctx); err != nil {
		t.Fatal(err)
	}
	genres, err := LoadGenres("")
	if err != nil {
		t.Fatal(err)
	}
	if err := store.SeedGenres(ctx, genres); err != nil {
		t.Fatal(err)
	}
	gen := &fakeGenerator{}
	srv := NewServer(&Options{
		Store:    store,
		Analyzer: a,
		Generator: func(apiKey string) (music.Generator, error) {
			gen.lck.Lock()
			defer gen.lck.Unlock()
			gen.key = apiKey
			return gen, nil
		},
		UploadDir: filepath.Join(dir, "uploads"),
	})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &testServer{Server: ts, store: store, gen: gen}
}

func (ts *testServer) client(t *testing.T, apiKey string) *client.Client {
	t.Helper()
	return client.New(&client.Config{BaseURL: ts.URL, APIKey: apiKey, Wait: 1})
}

func writeAudio(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte("ID3 fake"), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, &fakeAnalyzer{})
	if err := ts.client(t, "").Health(context.Background()); err != nil {
		t.Fatalf("Health() err = %v; want nil", err)
	}
}

func TestAnalyzeStream(t *testing.T) {
	ts := newTestServer(t, &fakeAnalyzer{})
	c := ts.client(t, "")
	var progress []float64
	result, err := c.Analyze(context.Background(), writeAudio(t, "song.mp3"), nil, func(ev music.ProgressEvent) {
		progress = append(progress, ev.Progress)
	})
	if err != nil {
		t.Fatalf("Analyze() err = %v; want nil", err)
	}
	if len(progress) != 2 || progress[0] != 10 || progress[1] != 60 {
		t.Fatalf("progress = %v; want [10 60]", progress)
	}
	if result.Analysis.Tempo != 120 {
		t.Fatalf("tempo = %v; want 120", result.Analysis.Tempo)
	}
	if result.Analysis.Genre != "Hip Hop" {
		t.Fatalf("genre = %q; want the first seeded genre", result.Analysis.Genre)
	}
}

func TestAnalyzeErrors(t *testing.T) {
	ts := newTestServer(t, &fakeAnalyzer{err: errors.New("boom")})
	c := ts.client(t, "")
	_, err := c.Analyze(context.Background(), writeAudio(t, "song.txt"), nil, nil)
	var apiErr *client.APIError
	if !errors.As(err, &apiErr) || apiErr.Message != "Invalid file" {
		t.Fatalf("Analyze(txt) err = %v; want Invalid file", err)
	}
	_, err = c.Analyze(context.Background(), writeAudio(t, "song.wav"), nil, nil)
	if !errors.As(err, &apiErr) || !strings.Contains(apiErr.Message, "boom") {
		t.Fatalf("Analyze(wav) err = %v; want analysis failure", err)
	}
}

func TestPreprocess(t *testing.T) {
	ts := newTestServer(t, &fakeAnalyzer{})
	got, err := ts.client(t, "").Preprocess(context.Background(), writeAudio(t, "my song.mp3"))
	if err != nil {
		t.Fatalf("Preprocess() err = %v; want nil", err)
	}
	if !got.Success || got.Metadata["Energy"] != "High" {
		t.Fatalf("Preprocess() = %+v", got)
	}
	if !strings.HasSuffix(got.Filepath, "-my_song.mp3") {
		t.Fatalf("filepath = %q; want sanitized name", got.Filepath)
	}
}

func TestPreprocessMissingFile(t *testing.T) {
	ts := newTestServer(t, &fakeAnalyzer{})
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	_ = mw.WriteField("other", "x")
	_ = mw.Close()
	resp, err := http.Post(ts.URL+"/api/preprocess", mw.FormDataContentType(), &body)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d; want 400", resp.StatusCode)
	}
}

func TestExport(t *testing.T) {
	ts := newTestServer(t, &fakeAnalyzer{})
	body := `{"analysis": {"tempo": 120.5, "key": "C major"}, "prompts": []}`
	resp, err := http.Post(ts.URL+"/api/export", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	if string(b) != body {
		t.Fatalf("export = %s; want %s", b, body)
	}
	if got := resp.Header.Get("Content-Disposition"); got != "attachment; filename=analysis.json" {
		t.Fatalf("Content-Disposition = %q", got)
	}

	for _, in := range []string{"", "{}", "not json"} {
		resp, err := http.Post(ts.URL+"/api/export", "application/json", strings.NewReader(in))
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("export(%q) status = %d; want 400", in, resp.StatusCode)
		}
	}
}

func TestGenerateMusic(t *testing.T) {
	ts := newTestServer(t, &fakeAnalyzer{})
	ctx := context.Background()

	// Missing prompt
	resp, err := http.Post(ts.URL+"/api/generate-music", "application/json", strings.NewReader(`{"title":"x"}`))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d; want 400", resp.StatusCode)
	}

	// No bearer token and no account
	resp, err = http.Post(ts.URL+"/api/generate-music", "application/json", strings.NewReader(`{"prompt":"rock"}`))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d; want 401", resp.StatusCode)
	}

	// Default account key
	if err := ts.store.AddAccount(ctx, "main", "stored-key"); err != nil {
		t.Fatal(err)
	}
	ids, err := ts.client(t, "client-key").Generate(ctx, &music.GenerationRequest{Prompt: music.Prompt{Text: "rock"}})
	if err != nil {
		t.Fatalf("Generate() err = %v; want nil", err)
	}
	if strings.Join(ids, ",") != "a,b" {
		t.Fatalf("ids = %v; want [a b]", ids)
	}
	ts.gen.lck.Lock()
	key := ts.gen.key
	ts.gen.lck.Unlock()
	if key != "client-key" {
		t.Fatalf("key = %q; want client-key", key)
	}

	// The caller records the history once the generation ends.
	entries, err := ts.client(t, "").GenerationHistory(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Fatalf("generation history = %d entries; want 0", len(entries))
	}
}

func TestGenerateCommandHistory(t *testing.T) {
	ts := newTestServer(t, &fakeAnalyzer{})
	ctx := context.Background()
	err := generate.Run(ctx, &generate.Config{
		Server:       ts.URL,
		APIKey:       "key",
		Session:      filepath.Join(t.TempDir(), "session.json"),
		PollInterval: 10 * time.Millisecond,
		Prompt:       "rock",
	})
	if err != nil {
		t.Fatalf("Run() err = %v; want nil", err)
	}
	entries, err := ts.client(t, "").GenerationHistory(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("generation history = %d entries; want 1", len(entries))
	}
	var got struct {
		IDs    []string `json:"ids"`
		Status string   `json:"status"`
	}
	if err := json.Unmarshal(entries[0].Payload, &got); err != nil {
		t.Fatal(err)
	}
	if strings.Join(got.IDs, ",") != "a,b" || got.Status != music.Completed {
		t.Fatalf("generation entry = %+v", got)
	}
}

func TestGenerationStatus(t *testing.T) {
	ts := newTestServer(t, &fakeAnalyzer{})
	c := ts.client(t, "key")
	status, err := c.Status(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("Status() err = %v; want nil", err)
	}
	if status.Status != music.Completed || len(status.Results) != 1 || status.Results[0].ID != "a" {
		t.Fatalf("Status() = %+v", status)
	}
}

func TestCredits(t *testing.T) {
	ts := newTestServer(t, &fakeAnalyzer{})
	got, err := ts.client(t, "key").Credits(context.Background())
	if err != nil || got != 42 {
		t.Fatalf("Credits() = %v, %v; want 42", got, err)
	}
	_, err = ts.client(t, "bad").Credits(context.Background())
	if !errors.Is(err, client.ErrUnauthorized) {
		t.Fatalf("Credits() err = %v; want %v", err, client.ErrUnauthorized)
	}
}

func TestDownloadAudio(t *testing.T) {
	ts := newTestServer(t, &fakeAnalyzer{})
	resp, err := http.Get(ts.URL + "/api/download-audio?url=ftp://x/a.mp3")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d; want 400", resp.StatusCode)
	}

	var buf bytes.Buffer
	if err := ts.client(t, "key").Download(context.Background(), "http://x/a.mp3", "My Song", &buf); err != nil {
		t.Fatalf("Download() err = %v; want nil", err)
	}
	if buf.String() != "ID3 audio" {
		t.Fatalf("Download() = %q", buf.String())
	}
}

func TestAccounts(t *testing.T) {
	ts := newTestServer(t, &fakeAnalyzer{})
	ctx := context.Background()
	c := ts.client(t, "")
	for _, name := range []string{"first", "second"} {
		if err := c.AddAccount(ctx, name, name+"-key"); err != nil {
			t.Fatalf("AddAccount(%s) err = %v; want nil", name, err)
		}
	}
	var apiErr *client.APIError
	if err := c.AddAccount(ctx, "first", "x"); !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusConflict {
		t.Fatalf("AddAccount(duplicate) err = %v; want 409", err)
	}
	accounts, err := c.Accounts(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !accounts["first"].Default || accounts["second"].Default {
		t.Fatalf("accounts = %v; want first as default", accounts)
	}
	if err := c.RemoveAccount(ctx, "first"); err != nil {
		t.Fatalf("RemoveAccount() err = %v; want nil", err)
	}
	accounts, err = c.Accounts(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(accounts) != 1 || !accounts["second"].Default {
		t.Fatalf("accounts = %v; want second promoted", accounts)
	}
	if err := c.SetDefaultAccount(ctx, "missing"); !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusNotFound {
		t.Fatalf("SetDefaultAccount(missing) err = %v; want 404", err)
	}
}

func TestGenres(t *testing.T) {
	ts := newTestServer(t, &fakeAnalyzer{})
	ctx := context.Background()
	c := ts.client(t, "")
	msg, err := c.AddGenre(ctx, "Synthwave", 80, 118)
	if err != nil {
		t.Fatalf("AddGenre() err = %v; want nil", err)
	}
	if msg != "Genre 'Synthwave' added successfully." {
		t.Fatalf("message = %q", msg)
	}
	genres, err := c.Genres(ctx)
	if err != nil {
		t.Fatal(err)
	}
	last := genres[len(genres)-1]
	if last.Genre != "Synthwave" || last.Rules.Tempo.Min != 80 || last.Rules.Tempo.Max != 118 {
		t.Fatalf("last genre = %+v", last)
	}

	resp, err := http.Post(ts.URL+"/api/add_genre", "application/json", strings.NewReader(`{"genre_name":"X","min_bpm":"90"}`))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d; want 400", resp.StatusCode)
	}
}

func TestHistory(t *testing.T) {
	ts := newTestServer(t, &fakeAnalyzer{})
	ctx := context.Background()
	c := ts.client(t, "")
	for _, name := range []string{"old", "new"} {
		if err := c.SaveHistory(ctx, map[string]string{"name": name}); err != nil {
			t.Fatalf("SaveHistory(%s) err = %v; want nil", name, err)
		}
	}
	entries, err := c.History(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("history = %d entries; want 2", len(entries))
	}
	var first struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(entries[0].Payload, &first); err != nil {
		t.Fatal(err)
	}
	if first.Name != "new" || entries[0].ID == "" || entries[0].Timestamp == "" {
		t.Fatalf("first entry = %+v; want newest with id and timestamp", entries[0])
	}

	if err := c.SaveHistory(ctx, map[string]string{}); err == nil {
		t.Fatal("SaveHistory({}) err = nil; want error")
	}
}

func TestLoadGenres(t *testing.T) {
	path := filepath.Join(t.TempDir(), "genres.yaml")
	if err := os.WriteFile(path, []byte("- genre: Lo-fi\n  rules:\n    tempo: {min: 70, max: 90}\n"), 0644); err != nil {
		t.Fatal(err)
	}
	got, err := LoadGenres(path)
	if err != nil {
		t.Fatalf("LoadGenres() err = %v; want nil", err)
	}
	if len(got) != 1 || got[0].Genre != "Lo-fi" || got[0].Rules.Tempo.Max != 90 {
		t.Fatalf("LoadGenres() = %+v", got)
	}
	if err := os.WriteFile(path, []byte("- genre: Bad\n  rules:\n    tempo: {min: 100, max: 90}\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadGenres(path); err == nil {
		t.Fatal("LoadGenres(invalid range) err = nil; want error")
	}
}

func TestRemoveGenre(t *testing.T) {
	ts := newTestServer(t, &fakeAnalyzer{})
	ctx := context.Background()
	c := ts.client(t, "")
	msg, err := c.RemoveGenre(ctx, "Hip Hop")
	if err != nil {
		t.Fatalf("RemoveGenre() err = %v; want nil", err)
	}
	if msg != "Genre 'Hip Hop' removed successfully." {
		t.Fatalf("message = %q", msg)
	}
	genres, err := c.Genres(ctx)
	if err != nil {
		t.Fatal(err)
	}
	for _, g := range genres {
		if g.Genre == "Hip Hop" {
			t.Fatalf("genres = %v; want Hip Hop removed", genres)
		}
	}
	var apiErr *client.APIError
	if _, err := c.RemoveGenre(ctx, "Hip Hop"); !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusNotFound {
		t.Fatalf("RemoveGenre(missing) err = %v; want 404", err)
	}
}

func TestDeleteHistory(t *testing.T) {
	ts := newTestServer(t, &fakeAnalyzer{})
	ctx := context.Background()
	c := ts.client(t, "")
	if err := c.SaveHistory(ctx, map[string]string{"name": "song"}); err != nil {
		t.Fatal(err)
	}
	entries, err := c.History(ctx)
	if err != nil || len(entries) != 1 {
		t.Fatalf("History() = %v, %v; want 1 entry", entries, err)
	}
	id := entries[0].ID

	// Kinds don't mix
	var apiErr *client.APIError
	if err := c.DeleteGenerationHistory(ctx, id); !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusNotFound {
		t.Fatalf("DeleteGenerationHistory() err = %v; want 404", err)
	}
	if err := c.DeleteHistory(ctx, id); err != nil {
		t.Fatalf("DeleteHistory() err = %v; want nil", err)
	}
	entries, err = c.History(ctx)
	if err != nil || len(entries) != 0 {
		t.Fatalf("History() = %v, %v; want empty", entries, err)
	}
	if err := c.DeleteHistory(ctx, id); !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusNotFound {
		t.Fatalf("DeleteHistory(missing) err = %v; want 404", err)
	}
}
