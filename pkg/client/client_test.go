package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/igolaizola/sunoprompt/pkg/music"
	"github.com/igolaizola/sunoprompt/pkg/poll"
)

func newTestClient(t *testing.T, h http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(&Config{
		BaseURL:      srv.URL,
		APIKey:       "key",
		PollInterval: 20 * time.Millisecond,
	})
}

const analysisStream = `data: {"status":"Extracting","progress":10}` + "\n\n" +
	`data: {"status":"Analyzing","progress":60}` + "\n\n" +
	`data: {"result":{"analysis":{"tempo":120,"key":"C","energy":0.8,"genre":"Pop","mood":"Happy","has_vocals":true},"prompts":[{"name":"Basic","prompt":"..."}]}}` + "\n\n"

func TestAnalyzeStream(t *testing.T) {
	var gotGenre, gotFile string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/analyze" {
			http.NotFound(w, r)
			return
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		gotGenre = r.FormValue("selected_genre")
		_, header, err := r.FormFile("audio")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		gotFile = header.Filename
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		// Split records in the middle to exercise buffering.
		for _, chunk := range []string{analysisStream[:30], analysisStream[30:70], analysisStream[70:]} {
			_, _ = io.WriteString(w, chunk)
			flusher.Flush()
		}
	}))

	file := filepath.Join(t.TempDir(), "song.mp3")
	if err := os.WriteFile(file, []byte("ID3"), 0644); err != nil {
		t.Fatal(err)
	}

	var progress []float64
	var statuses []string
	result, err := c.Analyze(context.Background(), file, &AnalyzeOptions{SelectedGenre: "Pop"}, func(ev music.ProgressEvent) {
		progress = append(progress, ev.Progress)
		statuses = append(statuses, ev.Status)
	})
	if err != nil {
		t.Fatalf("Analyze() err = %v; want nil", err)
	}
	if gotGenre != "Pop" || gotFile != "song.mp3" {
		t.Fatalf("form = %q %q; want Pop song.mp3", gotGenre, gotFile)
	}
	if fmt.Sprint(progress) != "[10 60]" {
		t.Fatalf("progress = %v; want [10 60]", progress)
	}
	if fmt.Sprint(statuses) != "[Extracting Analyzing]" {
		t.Fatalf("statuses = %v; want [Extracting Analyzing]", statuses)
	}
	if result.Analysis.Tempo != 120 {
		t.Fatalf("tempo = %v; want 120", result.Analysis.Tempo)
	}
	if p, ok := result.Prompt("Basic"); !ok || p.Prompt.Text != "..." {
		t.Fatalf("Prompt(Basic) = %+v, %v", p, ok)
	}
}

func TestReadAnalysis(t *testing.T) {
	tests := []struct {
		name     string
		in       string
		progress string
		wantErr  error
		errMsg   string
	}{
		{
			name:    "error event",
			in:      `data: {"status":"Analyzing","progress":10}` + "\n\n" + `data: {"error":"Invalid file"}` + "\n\n",
			errMsg:  "Invalid file",
			wantErr: nil,
		},
		{
			name:    "no terminal event",
			in:      `data: {"status":"Analyzing","progress":10}` + "\n\n",
			wantErr: ErrNoResult,
		},
		{
			name:     "decreasing progress is clamped",
			in:       `data: {"status":"a","progress":40}` + "\n\n" + `data: {"status":"b","progress":20}` + "\n\n" + `data: {"status":"Complete!","progress":100,"result":{"analysis":{"tempo":90},"prompts":[]}}` + "\n\n",
			progress: "[40 40]",
		},
		{
			name:     "events after the terminal one are ignored",
			in:       `data: {"result":{"analysis":{"tempo":90},"prompts":[]}}` + "\n\n" + `data: {"error":"late"}` + "\n\n",
			progress: "[]",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			progress := []float64{}
			res, err := ReadAnalysis(strings.NewReader(tt.in), func(ev music.ProgressEvent) {
				progress = append(progress, ev.Progress)
			})
			switch {
			case tt.errMsg != "":
				var apiErr *APIError
				if !errors.As(err, &apiErr) || apiErr.Message != tt.errMsg {
					t.Fatalf("ReadAnalysis() err = %v; want %q", err, tt.errMsg)
				}
			case tt.wantErr != nil:
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("ReadAnalysis() err = %v; want %v", err, tt.wantErr)
				}
			default:
				if err != nil {
					t.Fatalf("ReadAnalysis() err = %v; want nil", err)
				}
				if res.Analysis.Tempo != 90 {
					t.Fatalf("tempo = %v; want 90", res.Analysis.Tempo)
				}
				if got := fmt.Sprint(progress); got != tt.progress {
					t.Fatalf("progress = %s; want %s", got, tt.progress)
				}
			}
		})
	}
}

type statusServer struct {
	lck      sync.Mutex
	seq      []string
	times    []time.Time
	auth     []string
	lastPath string
}

func (s *statusServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.lck.Lock()
	defer s.lck.Unlock()
	s.times = append(s.times, time.Now())
	s.auth = append(s.auth, r.Header.Get("Authorization"))
	s.lastPath = r.URL.EscapedPath()
	i := len(s.times) - 1
	if i >= len(s.seq) {
		i = len(s.seq) - 1
	}
	_, _ = io.WriteString(w, s.seq[i])
}

func TestWaitCompleted(t *testing.T) {
	srv := &statusServer{seq: []string{
		`{"status":"queued"}`,
		`{"status":"processing","results":[]}`,
		`{"status":"processing","results":[{"id":"a","audio_url":"http://x/a.mp3","title":"A"}]}`,
		`{"status":"completed","results":[{"id":"a","audio_url":"http://x/a.mp3","title":"A"},{"id":"b","audio_url":"http://x/b.mp3","title":"B"}]}`,
	}}
	c := newTestClient(t, srv)

	var seen []string
	status, err := c.Wait(context.Background(), []string{"a", "b"}, func(s *music.GenerationStatus) {
		seen = append(seen, s.Status)
	})
	if err != nil {
		t.Fatalf("Wait() err = %v; want nil", err)
	}
	if len(status.Results) != 2 || status.Results[1].AudioURL != "http://x/b.mp3" {
		t.Fatalf("results = %+v", status.Results)
	}

	srv.lck.Lock()
	defer srv.lck.Unlock()
	if len(srv.times) != 4 {
		t.Fatalf("requests = %d; want 4", len(srv.times))
	}
	for i := 1; i < len(srv.times); i++ {
		if gap := srv.times[i].Sub(srv.times[i-1]); gap < 20*time.Millisecond {
			t.Fatalf("gap %d = %s; want >= 20ms", i, gap)
		}
	}
	if srv.lastPath != "/api/generation-status/a,b" {
		t.Fatalf("path = %s; want /api/generation-status/a,b", srv.lastPath)
	}
	if srv.auth[0] != "Bearer key" {
		t.Fatalf("authorization = %q; want %q", srv.auth[0], "Bearer key")
	}
	if fmt.Sprint(seen) != "[queued processing processing completed]" {
		t.Fatalf("seen = %v", seen)
	}
}

func TestWaitFailed(t *testing.T) {
	srv := &statusServer{seq: []string{
		`{"status":"processing"}`,
		`{"status":"failed","message":"content policy"}`,
		`{"status":"completed"}`,
	}}
	c := newTestClient(t, srv)

	_, err := c.Wait(context.Background(), []string{"a"}, nil)
	if !errors.Is(err, ErrGenerationFailed) {
		t.Fatalf("Wait() err = %v; want %v", err, ErrGenerationFailed)
	}
	if !strings.Contains(err.Error(), "content policy") {
		t.Fatalf("Wait() err = %v; want message", err)
	}
	time.Sleep(50 * time.Millisecond)
	srv.lck.Lock()
	defer srv.lck.Unlock()
	if len(srv.times) != 2 {
		t.Fatalf("requests = %d; want 2", len(srv.times))
	}
}

func TestWaitErrored(t *testing.T) {
	var calls int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			_, _ = io.WriteString(w, `{"status":"processing"}`)
			return
		}
		_, _ = io.WriteString(w, `{not json`)
	}))
	w := c.Watch(context.Background(), []string{"a"}, nil)
	status, err := w.Wait()
	if err == nil {
		t.Fatal("Wait() err = nil; want error")
	}
	if w.State() != poll.Errored {
		t.Fatalf("State() = %s; want %s", w.State(), poll.Errored)
	}
	if status == nil || status.Status != "processing" {
		t.Fatalf("last status = %+v; want processing", status)
	}
	if n := atomic.LoadInt32(&calls); n != 2 {
		t.Fatalf("calls = %d; want 2", n)
	}
}

func TestWatchStop(t *testing.T) {
	srv := &statusServer{seq: []string{`{"status":"processing"}`}}
	c := newTestClient(t, srv)
	c.poll.Interval = time.Hour

	first := make(chan struct{})
	var once sync.Once
	w := c.Watch(context.Background(), []string{"a"}, func(*music.GenerationStatus) {
		once.Do(func() { close(first) })
	})
	<-first
	w.Stop()
	if _, err := w.Wait(); !errors.Is(err, poll.ErrStopped) {
		t.Fatalf("Wait() err = %v; want %v", err, poll.ErrStopped)
	}
}

func TestExportRoundTrip(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Disposition", "attachment; filename=analysis.json")
		_, _ = io.Copy(w, r.Body)
	}))
	result := &music.AnalysisResult{
		Success: true,
		Analysis: music.Analysis{
			Tempo:  120,
			Key:    "C",
			Energy: music.Energy{Value: 0.8},
			Genre:  "Pop",
			Mood:   "Happy",
		},
		Prompts: []music.PromptVariation{
			{Name: "Basic", Prompt: music.Prompt{Text: "pop"}},
			{Name: "Advanced Mode", Prompt: music.Prompt{Style: "[Pop]", Lyrics: "[VERSE 1]"}},
		},
	}
	want, err := json.Marshal(result)
	if err != nil {
		t.Fatal(err)
	}
	got, err := c.Export(context.Background(), result)
	if err != nil {
		t.Fatalf("Export() err = %v; want nil", err)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("Export() = %s; want %s", got, want)
	}
}

func TestGenerate(t *testing.T) {
	var got music.GenerationRequest
	var auth string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		_, _ = io.WriteString(w, `[{"id":"a"},{"id":"b"}]`)
	}))
	ids, err := c.Generate(context.Background(), &music.GenerationRequest{
		PromptName: "Advanced Mode",
		IsCustom:   true,
		Prompt:     music.Prompt{Style: "[Pop]", Lyrics: "la la"},
		Title:      "Song",
	})
	if err != nil {
		t.Fatalf("Generate() err = %v; want nil", err)
	}
	if strings.Join(ids, ",") != "a,b" {
		t.Fatalf("Generate() = %v; want [a b]", ids)
	}
	if auth != "Bearer key" {
		t.Fatalf("authorization = %q", auth)
	}
	if !got.IsCustom || got.Prompt.Style != "[Pop]" || got.Prompt.Lyrics != "la la" {
		t.Fatalf("request = %+v", got)
	}

	// Without a key the server falls back to its default account
	c.SetAPIKey("")
	if _, err := c.Generate(context.Background(), &music.GenerationRequest{Prompt: music.Prompt{Text: "x"}}); err != nil {
		t.Fatalf("Generate() err = %v; want nil", err)
	}
	if auth != "" {
		t.Fatalf("authorization = %q; want empty", auth)
	}
}

func TestServerErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   string
	}{
		{"error field", http.StatusOK, `{"error":"Prompt is required."}`, "Prompt is required."},
		{"nested detail", http.StatusInternalServerError, `{"error":"{\"detail\":\"Insufficient credits\"}"}`, "Insufficient credits"},
		{"detail", http.StatusBadRequest, `{"detail":"bad request"}`, "bad request"},
		{"plain text", http.StatusBadRequest, "nope", "nope"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			}))
			_, err := c.Generate(context.Background(), &music.GenerationRequest{Prompt: music.Prompt{Text: "x"}})
			var apiErr *APIError
			if !errors.As(err, &apiErr) {
				t.Fatalf("Generate() err = %v; want APIError", err)
			}
			if apiErr.Message != tt.want || apiErr.StatusCode != tt.status {
				t.Fatalf("APIError = %d %q; want %d %q", apiErr.StatusCode, apiErr.Message, tt.status, tt.want)
			}
		})
	}
}

func TestUnauthorized(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"error":"invalid api key"}`)
	}))
	if _, err := c.Credits(context.Background()); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("Credits() err = %v; want %v", err, ErrUnauthorized)
	}
}

func TestRetry(t *testing.T) {
	old := backoff
	backoff = []time.Duration{time.Millisecond}
	defer func() { backoff = old }()

	var calls int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = io.WriteString(w, `{"credits":42}`)
	}))
	credits, err := c.Credits(context.Background())
	if err != nil {
		t.Fatalf("Credits() err = %v; want nil", err)
	}
	if n := atomic.LoadInt32(&calls); credits != 42 || n != 3 {
		t.Fatalf("Credits() = %v after %d calls; want 42 after 3", credits, n)
	}
}

func TestDownload(t *testing.T) {
	var gotURL, gotTitle string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotURL = r.URL.Query().Get("url")
		gotTitle = r.URL.Query().Get("title")
		_, _ = io.WriteString(w, "mp3data")
	}))
	var buf bytes.Buffer
	if err := c.Download(context.Background(), "http://cdn/a.mp3?x=1&y=2", "My Song", &buf); err != nil {
		t.Fatalf("Download() err = %v; want nil", err)
	}
	if gotURL != "http://cdn/a.mp3?x=1&y=2" || gotTitle != "My Song" {
		t.Fatalf("query = %q %q", gotURL, gotTitle)
	}
	if buf.String() != "mp3data" {
		t.Fatalf("body = %q; want mp3data", buf.String())
	}
}

func TestAccounts(t *testing.T) {
	var lastMethod, lastBody string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		lastMethod, lastBody = r.Method, string(b)
		switch {
		case r.Method == http.MethodGet:
			_, _ = io.WriteString(w, `{"main":{"default":true},"alt":{"default":false}}`)
		case r.URL.Path == "/api/accounts/default" && strings.Contains(lastBody, "missing"):
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `{"success":false,"error":"Account not found."}`)
		default:
			_, _ = io.WriteString(w, `{"success":true}`)
		}
	}))
	ctx := context.Background()
	accounts, err := c.Accounts(ctx)
	if err != nil {
		t.Fatalf("Accounts() err = %v; want nil", err)
	}
	if !accounts["main"].Default || accounts["alt"].Default {
		t.Fatalf("Accounts() = %v", accounts)
	}
	if err := c.AddAccount(ctx, "new", "secret"); err != nil {
		t.Fatalf("AddAccount() err = %v; want nil", err)
	}
	if lastMethod != http.MethodPost || lastBody != `{"name":"new","api_key":"secret"}` {
		t.Fatalf("request = %s %s", lastMethod, lastBody)
	}
	if err := c.RemoveAccount(ctx, "alt"); err != nil {
		t.Fatalf("RemoveAccount() err = %v; want nil", err)
	}
	if lastMethod != http.MethodDelete {
		t.Fatalf("method = %s; want DELETE", lastMethod)
	}
	err = c.SetDefaultAccount(ctx, "missing")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Message != "Account not found." {
		t.Fatalf("SetDefaultAccount() err = %v", err)
	}
}
