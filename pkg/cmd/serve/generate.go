package serve

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/igolaizola/sunoprompt/pkg/music"
	"github.com/igolaizola/sunoprompt/pkg/storage"
	"github.com/oklog/ulid/v2"
)

func (s *Server) generateMusic(w http.ResponseWriter, r *http.Request) {
	var req music.GenerationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body.")
		return
	}
	if req.Prompt.Text == "" && !req.Prompt.Custom() {
		writeError(w, http.StatusBadRequest, "Prompt is required.")
		return
	}
	gen, err := s.generatorFor(r)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	ids, err := gen.Generate(r.Context(), &req)
	if err != nil {
		s.logger.Error("couldn't generate music", "err", err)
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, ids)
}

func (s *Server) generationStatus(w http.ResponseWriter, r *http.Request) {
	param, err := url.PathUnescape(chi.URLParam(r, "ids"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid generation ids.")
		return
	}
	var ids []string
	for _, id := range strings.Split(param, ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		writeError(w, http.StatusBadRequest, "Invalid generation ids.")
		return
	}
	gen, err := s.generatorFor(r)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	status, err := gen.Status(r.Context(), ids)
	if err != nil {
		s.logger.Error("couldn't check generation status", "ids", ids, "err", err)
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) credits(w http.ResponseWriter, r *http.Request) {
	gen, err := s.generatorFor(r)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	credits, err := gen.Credits(r.Context())
	if err != nil {
		s.logger.Error("couldn't get credits", "err", err)
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]float64{"credits": credits})
}

// downloadAudio proxies a generated track. Tracks are archived in the file
// store and served from it on later requests.
func (s *Server) downloadAudio(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	audioURL := r.URL.Query().Get("url")
	u, err := url.Parse(audioURL)
	if audioURL == "" || err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		writeError(w, http.StatusBadRequest, "Invalid audio url.")
		return
	}
	title := strings.TrimSpace(r.URL.Query().Get("title"))
	if title == "" {
		title = "track"
	}

	tmp, err := os.CreateTemp("", "sunoprompt-*.mp3")
	if err != nil {
		s.logger.Error("couldn't create temp file", "err", err)
		writeError(w, http.StatusInternalServerError, "An internal error occurred.")
		return
	}
	_ = tmp.Close()
	defer func() { _ = os.Remove(tmp.Name()) }()

	if !s.cachedTrack(ctx, audioURL, tmp.Name()) {
		if err := s.fetchTrack(r, audioURL, tmp.Name()); err != nil {
			s.logger.Error("couldn't download audio", "url", audioURL, "err", err)
			writeError(w, http.StatusBadGateway, "Couldn't download audio.")
			return
		}
		s.archiveTrack(ctx, audioURL, tmp.Name())
	}

	f, err := os.Open(tmp.Name())
	if err != nil {
		s.logger.Error("couldn't open track", "err", err)
		writeError(w, http.StatusInternalServerError, "An internal error occurred.")
		return
	}
	defer f.Close()
	w.Header().Set("Content-Type", "audio/mpeg")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", attachmentName(title)+".mp3"))
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, f); err != nil {
		s.logger.Warn("couldn't write audio", "err", err)
	}
}

// cachedTrack copies an archived track to path.
func (s *Server) cachedTrack(ctx context.Context, audioURL, path string) bool {
	if s.files == nil {
		return false
	}
	ref, err := s.store.GetFileRef(ctx, audioURL)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			s.logger.Warn("couldn't get file ref", "err", err)
		}
		return false
	}
	if err := s.files.Get(ctx, path, ref); err != nil {
		s.logger.Warn("couldn't get archived track", "ref", ref, "err", err)
		return false
	}
	return true
}

func (s *Server) archiveTrack(ctx context.Context, audioURL, path string) {
	if s.files == nil {
		return
	}
	name, err := s.files.SetTrack(ctx, path, ulid.Make().String())
	if err != nil {
		s.logger.Warn("couldn't archive track", "err", err)
		return
	}
	if err := s.store.SetFileRef(ctx, audioURL, name); err != nil {
		s.logger.Warn("couldn't save file ref", "err", err)
	}
}

// fetchTrack downloads the audio through the generation service when an api
// key is available, otherwise with a plain request.
func (s *Server) fetchTrack(r *http.Request, audioURL, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	gen, err := s.generatorFor(r)
	if err == nil {
		return gen.Download(r.Context(), audioURL, f)
	}
	if !errors.Is(err, errNoAPIKey) {
		return err
	}
	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, audioURL, nil)
	if err != nil {
		return err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("serve: unexpected status code %d", resp.StatusCode)
	}
	_, err = io.Copy(f, resp.Body)
	return err
}

// attachmentName removes characters that can't be used in a file name.
func attachmentName(title string) string {
	name := strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|', '\r', '\n':
			return '_'
		}
		return r
	}, title)
	return strings.TrimSpace(name)
}
