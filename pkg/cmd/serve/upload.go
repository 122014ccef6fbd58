package serve

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/igolaizola/sunoprompt/pkg/analysis"
	"github.com/igolaizola/sunoprompt/pkg/music"
	"github.com/oklog/ulid/v2"
)

var (
	errNoAudio     = errors.New("serve: no audio file provided")
	errInvalidFile = errors.New("serve: invalid file")
	errTooLarge    = errors.New("serve: file too large")
)

type upload struct {
	id   string
	path string
	ext  string
}

// saveUpload stores the multipart "audio" file in the upload directory.
func (s *Server) saveUpload(w http.ResponseWriter, r *http.Request) (*upload, error) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	file, header, err := r.FormFile("audio")
	if err != nil {
		var mbe *http.MaxBytesError
		switch {
		case errors.As(err, &mbe):
			return nil, errTooLarge
		case errors.Is(err, http.ErrMissingFile), errors.Is(err, http.ErrNotMultipart):
			return nil, errNoAudio
		default:
			return nil, fmt.Errorf("serve: couldn't read upload: %w", err)
		}
	}
	defer file.Close()

	name := sanitize(filepath.Base(header.Filename))
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(name)), ".")
	if _, ok := s.extensions[ext]; !ok || name == "" {
		return nil, errInvalidFile
	}
	if err := os.MkdirAll(s.uploadDir, 0755); err != nil {
		return nil, fmt.Errorf("serve: couldn't create upload dir: %w", err)
	}
	id := ulid.Make().String()
	path := filepath.Join(s.uploadDir, id+"-"+name)
	out, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("serve: couldn't create %s: %w", path, err)
	}
	if _, err := io.Copy(out, file); err != nil {
		_ = out.Close()
		_ = os.Remove(path)
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			return nil, errTooLarge
		}
		return nil, fmt.Errorf("serve: couldn't save %s: %w", path, err)
	}
	if err := out.Close(); err != nil {
		return nil, fmt.Errorf("serve: couldn't close %s: %w", path, err)
	}
	return &upload{id: id, path: path, ext: ext}, nil
}

// uploadStatus returns the status code and message for an upload error.
func uploadStatus(err error) (int, string) {
	switch {
	case errors.Is(err, errNoAudio):
		return http.StatusBadRequest, "No audio file provided"
	case errors.Is(err, errInvalidFile):
		return http.StatusBadRequest, "Invalid file"
	case errors.Is(err, errTooLarge):
		return http.StatusRequestEntityTooLarge, "File too large"
	default:
		return http.StatusInternalServerError, "An internal error occurred."
	}
}

// sanitize keeps letters, digits, dots, dashes and underscores.
func sanitize(name string) string {
	name = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		case r == ' ':
			return '_'
		default:
			return -1
		}
	}, name)
	return strings.TrimLeft(name, ".")
}

func (s *Server) preprocess(w http.ResponseWriter, r *http.Request) {
	up, err := s.saveUpload(w, r)
	if err != nil {
		status, msg := uploadStatus(err)
		if status == http.StatusInternalServerError {
			s.logger.Error("couldn't save upload", "err", err)
		}
		writeError(w, status, msg)
		return
	}
	md, err := s.analyzer.Metadata(r.Context(), up.path)
	if err != nil {
		s.logger.Error("couldn't extract metadata", "file", up.path, "err", err)
		writeError(w, http.StatusInternalServerError, "An internal error occurred.")
		return
	}
	if s.files != nil {
		name, err := s.files.SetUpload(r.Context(), up.path, up.id, up.ext)
		if err != nil {
			s.logger.Warn("couldn't archive upload", "file", up.path, "err", err)
		} else {
			s.logger.Debug("upload archived", "name", name)
		}
	}
	writeJSON(w, http.StatusOK, &music.Preprocessed{
		Success:  true,
		Metadata: md,
		Filepath: up.path,
	})
}

// analyze streams the analysis progress as server-sent events. Errors are
// sent as events too, the response status is always 200.
func (s *Server) analyze(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	flusher, _ := w.(http.Flusher)
	send := func(v any) {
		b, err := json.Marshal(v)
		if err != nil {
			s.logger.Error("couldn't marshal event", "err", err)
			return
		}
		_, _ = fmt.Fprintf(w, "data: %s\n\n", b)
		if flusher != nil {
			flusher.Flush()
		}
	}

	up, err := s.saveUpload(w, r)
	if err != nil {
		status, msg := uploadStatus(err)
		if status == http.StatusInternalServerError {
			s.logger.Error("couldn't save upload", "err", err)
		}
		send(&music.ProgressEvent{Error: msg})
		return
	}
	s.logger.Debug("analyzing", "file", up.path)

	genres, err := s.store.ListGenres(r.Context())
	if err != nil {
		s.logger.Error("couldn't list genres", "err", err)
		send(&music.ProgressEvent{Error: "An internal error occurred."})
		return
	}
	opts := &analysis.Options{
		SelectedGenre: r.FormValue("selected_genre"),
		ModelQuality:  r.FormValue("model_quality"),
		DemucsModel:   r.FormValue("demucs_model"),
	}
	opts.SaveVocals, _ = strconv.ParseBool(r.FormValue("save_vocals"))
	for _, g := range genres {
		opts.Genres = append(opts.Genres, g.Music())
	}

	result, err := s.analyzer.Analyze(r.Context(), up.path, opts, func(status string, progress float64) {
		send(&music.ProgressEvent{Status: status, Progress: progress})
	})
	if err != nil {
		s.logger.Error("analysis failed", "file", up.path, "err", err)
		send(&music.ProgressEvent{Error: fmt.Sprintf("Analysis failed: %v", err)})
		return
	}
	send(&music.ProgressEvent{Status: "Complete!", Progress: 100, Result: result})
}

// export echoes the posted JSON document as a downloadable file.
func (s *Server) export(w http.ResponseWriter, r *http.Request) {
	b, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxUpload))
	if err != nil {
		writeError(w, http.StatusBadRequest, "No data provided")
		return
	}
	if isEmpty(b) {
		writeError(w, http.StatusBadRequest, "No data provided")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", "attachment; filename=analysis.json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(b)
}

// isEmpty reports whether b is not valid JSON or holds an empty value.
func isEmpty(b []byte) bool {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || !json.Valid(b) {
		return true
	}
	switch string(b) {
	case "null", "{}", "[]", `""`, "false", "0":
		return true
	}
	return false
}
