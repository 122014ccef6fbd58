package serve

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	"github.com/igolaizola/sunoprompt/pkg/music"
	"github.com/igolaizola/sunoprompt/pkg/storage"
)

type accountRequest struct {
	Name   string `json:"name"`
	APIKey string `json:"api_key"`
}

func decodeAccount(w http.ResponseWriter, r *http.Request) (*accountRequest, bool) {
	var req accountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		writeFailure(w, http.StatusBadRequest, "Missing account name")
		return nil, false
	}
	return &req, true
}

func (s *Server) listAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := s.store.ListAccounts(r.Context())
	if err != nil {
		s.logger.Error("couldn't list accounts", "err", err)
		writeError(w, http.StatusInternalServerError, "An internal error occurred.")
		return
	}
	resp := map[string]music.Account{}
	for _, a := range accounts {
		resp[a.ID] = music.Account{Default: a.Default}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) addAccount(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeAccount(w, r)
	if !ok {
		return
	}
	if req.APIKey == "" {
		writeFailure(w, http.StatusBadRequest, "Missing api_key")
		return
	}
	if err := s.store.AddAccount(r.Context(), req.Name, req.APIKey); err != nil {
		s.accountError(w, req.Name, err)
		return
	}
	writeJSON(w, http.StatusOK, &successResponse{
		Success: true,
		Message: fmt.Sprintf("Account '%s' added successfully.", req.Name),
	})
}

func (s *Server) deleteAccount(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeAccount(w, r)
	if !ok {
		return
	}
	if err := s.store.DeleteAccount(r.Context(), req.Name); err != nil {
		s.accountError(w, req.Name, err)
		return
	}
	writeJSON(w, http.StatusOK, &successResponse{
		Success: true,
		Message: fmt.Sprintf("Account '%s' removed.", req.Name),
	})
}

func (s *Server) setDefaultAccount(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeAccount(w, r)
	if !ok {
		return
	}
	if err := s.store.SetDefaultAccount(r.Context(), req.Name); err != nil {
		s.accountError(w, req.Name, err)
		return
	}
	writeJSON(w, http.StatusOK, &successResponse{
		Success: true,
		Message: fmt.Sprintf("Account '%s' is now the default.", req.Name),
	})
}

func (s *Server) accountError(w http.ResponseWriter, name string, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeFailure(w, http.StatusNotFound, fmt.Sprintf("Account '%s' not found", name))
	case errors.Is(err, storage.ErrExists):
		writeFailure(w, http.StatusConflict, fmt.Sprintf("Account '%s' already exists", name))
	default:
		s.logger.Error("account operation failed", "account", name, "err", err)
		writeFailure(w, http.StatusInternalServerError, "An internal error occurred.")
	}
}

func (s *Server) genres(r *http.Request) ([]music.Genre, error) {
	vs, err := s.store.ListGenres(r.Context())
	if err != nil {
		return nil, err
	}
	genres := []music.Genre{}
	for _, v := range vs {
		genres = append(genres, v.Music())
	}
	return genres, nil
}

func (s *Server) listGenres(w http.ResponseWriter, r *http.Request) {
	genres, err := s.genres(r)
	if err != nil {
		s.logger.Error("couldn't list genres", "err", err)
		writeError(w, http.StatusInternalServerError, "An internal error occurred.")
		return
	}
	writeJSON(w, http.StatusOK, genres)
}

type addGenreRequest struct {
	Name   string      `json:"genre_name"`
	MinBPM json.Number `json:"min_bpm"`
	MaxBPM json.Number `json:"max_bpm"`
}

func (s *Server) addGenre(w http.ResponseWriter, r *http.Request) {
	var req addGenreRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	minBPM, minErr := req.MinBPM.Float64()
	maxBPM, maxErr := req.MaxBPM.Float64()
	if req.Name == "" || minErr != nil || maxErr != nil || minBPM == 0 || maxBPM == 0 {
		writeFailure(w, http.StatusBadRequest, "Missing genre_name, min_bpm, or max_bpm")
		return
	}
	if minBPM > maxBPM {
		writeFailure(w, http.StatusBadRequest, "min_bpm can't be greater than max_bpm")
		return
	}
	if err := s.store.SetGenre(r.Context(), req.Name, minBPM, maxBPM); err != nil {
		s.logger.Error("couldn't add genre", "genre", req.Name, "err", err)
		writeFailure(w, http.StatusInternalServerError, "An internal error occurred.")
		return
	}
	genres, err := s.genres(r)
	if err != nil {
		s.logger.Error("couldn't list genres", "err", err)
		writeFailure(w, http.StatusInternalServerError, "An internal error occurred.")
		return
	}
	writeJSON(w, http.StatusOK, &struct {
		Success bool          `json:"success"`
		Message string        `json:"message"`
		Genres  []music.Genre `json:"genres"`
	}{
		Success: true,
		Message: fmt.Sprintf("Genre '%s' added successfully.", req.Name),
		Genres:  genres,
	})
}

func (s *Server) deleteGenre(w http.ResponseWriter, r *http.Request) {
	name, err := url.PathUnescape(chi.URLParam(r, "name"))
	if err != nil || name == "" {
		writeFailure(w, http.StatusBadRequest, "Missing genre name")
		return
	}
	if _, err := s.store.GetGenre(r.Context(), name); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeFailure(w, http.StatusNotFound, fmt.Sprintf("Genre '%s' not found.", name))
			return
		}
		s.logger.Error("couldn't get genre", "genre", name, "err", err)
		writeFailure(w, http.StatusInternalServerError, "An internal error occurred.")
		return
	}
	if err := s.store.DeleteGenre(r.Context(), name); err != nil {
		s.logger.Error("couldn't delete genre", "genre", name, "err", err)
		writeFailure(w, http.StatusInternalServerError, "An internal error occurred.")
		return
	}
	genres, err := s.genres(r)
	if err != nil {
		s.logger.Error("couldn't list genres", "err", err)
		writeFailure(w, http.StatusInternalServerError, "An internal error occurred.")
		return
	}
	writeJSON(w, http.StatusOK, &struct {
		Success bool          `json:"success"`
		Message string        `json:"message"`
		Genres  []music.Genre `json:"genres"`
	}{
		Success: true,
		Message: fmt.Sprintf("Genre '%s' removed successfully.", name),
		Genres:  genres,
	})
}

func (s *Server) listHistory(kind string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		vs, err := s.store.ListHistory(r.Context(), kind, 0, 0)
		if err != nil {
			s.logger.Error("couldn't list history", "kind", kind, "err", err)
			writeError(w, http.StatusInternalServerError, "An internal error occurred.")
			return
		}
		entries := []music.Entry{}
		for _, v := range vs {
			entries = append(entries, v.Entry())
		}
		writeJSON(w, http.StatusOK, entries)
	}
}

func (s *Server) saveHistory(kind, msg string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxUpload))
		if err != nil || isEmpty(b) {
			writeError(w, http.StatusBadRequest, "No data provided")
			return
		}
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(b, &obj); err != nil {
			writeError(w, http.StatusBadRequest, "History entries must be JSON objects")
			return
		}
		v, err := s.store.AddHistory(r.Context(), kind, b)
		if err != nil {
			s.logger.Error("couldn't save history", "kind", kind, "err", err)
			writeError(w, http.StatusInternalServerError, "An internal error occurred.")
			return
		}
		writeJSON(w, http.StatusOK, &successResponse{Success: true, Message: msg, ID: v.ID})
	}
}

// deleteHistory removes an entry only if it belongs to the given kind.
func (s *Server) deleteHistory(kind string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		v, err := s.store.GetHistory(r.Context(), id)
		switch {
		case errors.Is(err, storage.ErrNotFound) || (err == nil && v.Kind != kind):
			writeFailure(w, http.StatusNotFound, "History entry not found.")
			return
		case err != nil:
			s.logger.Error("couldn't get history", "id", id, "err", err)
			writeFailure(w, http.StatusInternalServerError, "An internal error occurred.")
			return
		}
		if err := s.store.DeleteHistory(r.Context(), id); err != nil {
			s.logger.Error("couldn't delete history", "id", id, "err", err)
			writeFailure(w, http.StatusInternalServerError, "An internal error occurred.")
			return
		}
		writeJSON(w, http.StatusOK, &successResponse{Success: true, Message: "History entry deleted.", ID: id})
	}
}
