package serve

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/igolaizola/sunoprompt/pkg/analysis"
	"github.com/igolaizola/sunoprompt/pkg/filestore"
	"github.com/igolaizola/sunoprompt/pkg/music"
	"github.com/igolaizola/sunoprompt/pkg/storage"
	"github.com/igolaizola/sunoprompt/pkg/suno"
)

// MaxUploadSize is the largest accepted audio upload.
const MaxUploadSize = 256 << 20

var defaultExtensions = []string{"wav", "mp3", "flac", "ogg"}

var errNoAPIKey = errors.New("serve: no api key, add an account or send a bearer token")

// GeneratorFunc returns the generation service for an api key.
type GeneratorFunc func(apiKey string) (music.Generator, error)

type Options struct {
	Store       *storage.Store
	Files       *filestore.Store
	Analyzer    analysis.Analyzer
	Generator   GeneratorFunc
	Client      *http.Client
	UploadDir   string
	Extensions  []string
	MaxUpload   int64
	Credentials map[string]string
	Debug       bool
	Logger      *log.Logger
}

// Server holds the backend handlers. Files is optional, when set uploads and
// downloaded tracks are archived.
type Server struct {
	store       *storage.Store
	files       *filestore.Store
	analyzer    analysis.Analyzer
	generator   GeneratorFunc
	client      *http.Client
	uploadDir   string
	extensions  map[string]struct{}
	maxUpload   int64
	credentials map[string]string
	debug       bool
	logger      *log.Logger
}

func NewServer(opts *Options) *Server {
	exts := opts.Extensions
	if len(exts) == 0 {
		exts = defaultExtensions
	}
	allowed := map[string]struct{}{}
	for _, e := range exts {
		e = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(e)), ".")
		if e != "" {
			allowed[e] = struct{}{}
		}
	}
	uploadDir := opts.UploadDir
	if uploadDir == "" {
		uploadDir = "uploads"
	}
	maxUpload := opts.MaxUpload
	if maxUpload <= 0 {
		maxUpload = MaxUploadSize
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Minute}
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.NewWithOptions(os.Stderr, log.Options{Prefix: "serve"})
	}
	return &Server{
		store:       opts.Store,
		files:       opts.Files,
		analyzer:    opts.Analyzer,
		generator:   opts.Generator,
		client:      client,
		uploadDir:   uploadDir,
		extensions:  allowed,
		maxUpload:   maxUpload,
		credentials: opts.Credentials,
		debug:       opts.Debug,
		logger:      logger,
	}
}

// Handler returns the router with every api endpoint.
func (s *Server) Handler() http.Handler {
	mux := chi.NewRouter()

	// Add middleware
	mux.Use(middleware.RealIP)
	mux.Use(middleware.Recoverer)
	if s.debug {
		mux.Use(middleware.Logger)
	}

	// Add BasicAuth middleware
	if len(s.credentials) > 0 {
		mux.Use(middleware.BasicAuth("private", s.credentials))
	}

	mux.Route("/api", func(r chi.Router) {
		// Streaming and proxy endpoints can take longer than the timeout
		r.Post("/analyze", s.analyze)
		r.Get("/download-audio", s.downloadAudio)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(60 * time.Second))

			r.Get("/health", s.health)
			r.Post("/preprocess", s.preprocess)
			r.Post("/export", s.export)

			r.Get("/genres", s.listGenres)
			r.Post("/add_genre", s.addGenre)
			r.Delete("/genres/{name}", s.deleteGenre)

			r.Post("/generate-music", s.generateMusic)
			r.Get("/generation-status/{ids}", s.generationStatus)
			r.Get("/credits", s.credits)

			r.Get("/accounts", s.listAccounts)
			r.Post("/accounts", s.addAccount)
			r.Delete("/accounts", s.deleteAccount)
			r.Post("/accounts/default", s.setDefaultAccount)

			r.Get("/history", s.listHistory(storage.AnalysisHistory))
			r.Post("/history", s.saveHistory(storage.AnalysisHistory, "Analysis saved to history."))
			r.Delete("/history/{id}", s.deleteHistory(storage.AnalysisHistory))
			r.Get("/generation-history", s.listHistory(storage.GenerationHistory))
			r.Post("/generation-history", s.saveHistory(storage.GenerationHistory, "Generation saved to history."))
			r.Delete("/generation-history/{id}", s.deleteHistory(storage.GenerationHistory))
		})
	})
	return mux
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// generatorFor returns the generator for the bearer token of the request or
// for the default account.
func (s *Server) generatorFor(r *http.Request) (music.Generator, error) {
	key := bearer(r)
	if key == "" {
		acc, err := s.store.DefaultAccount(r.Context())
		if errors.Is(err, storage.ErrNotFound) {
			return nil, errNoAPIKey
		}
		if err != nil {
			return nil, err
		}
		key = acc.APIKey
	}
	return s.generator(key)
}

func bearer(r *http.Request) string {
	v := r.Header.Get("Authorization")
	if len(v) < 7 || !strings.EqualFold(v[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(v[7:])
}

// statusFor maps an upstream error to a response status code.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errNoAPIKey), errors.Is(err, suno.ErrUnauthorized), errors.Is(err, suno.ErrMissingKey):
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

type errorResponse struct {
	Success *bool  `json:"success,omitempty"`
	Error   string `json:"error"`
}

type successResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	ID      string `json:"id,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, &errorResponse{Error: msg})
}

// writeFailure answers with an unsuccessful {success, error} response.
func writeFailure(w http.ResponseWriter, status int, msg string) {
	f := false
	writeJSON(w, status, &errorResponse{Success: &f, Error: msg})
}
