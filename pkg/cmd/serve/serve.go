package serve

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/igolaizola/sunoprompt/pkg/analysis"
	"github.com/igolaizola/sunoprompt/pkg/filestore"
	"github.com/igolaizola/sunoprompt/pkg/music"
	"github.com/igolaizola/sunoprompt/pkg/storage"
	"github.com/igolaizola/sunoprompt/pkg/suno"
	"github.com/igolaizola/sunoprompt/pkg/tunnel"
)

type Config struct {
	Debug  bool
	DBType string
	DBConn string
	FSType string
	FSConn string

	Addr        string
	Credentials map[string]string
	UploadDir   string
	Extensions  string
	GenresFile  string

	AubioBin  string
	FFmpegBin string

	SunoBaseURL string
	SunoModel   string
	SunoWait    time.Duration

	Ngrok    bool
	NgrokBin string
}

// Serve starts the backend server and blocks until the context is done.
func Serve(ctx context.Context, cfg *Config) error {
	logger := log.NewWithOptions(os.Stderr, log.Options{Prefix: "serve"})
	if cfg.Debug {
		logger.SetLevel(log.DebugLevel)
	}
	logger.Info("server started")
	defer logger.Info("server ended")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	store, err := storage.New(cfg.DBType, cfg.DBConn, cfg.Debug)
	if err != nil {
		return fmt.Errorf("serve: couldn't create orm store: %w", err)
	}
	if err := store.Start(ctx); err != nil {
		return fmt.Errorf("serve: couldn't start orm store: %w", err)
	}
	defer func() { _ = store.Stop() }()
	if err := store.Migrate(ctx); err != nil {
		return fmt.Errorf("serve: couldn't migrate orm store: %w", err)
	}

	genres, err := LoadGenres(cfg.GenresFile)
	if err != nil {
		return err
	}
	if err := store.SeedGenres(ctx, genres); err != nil {
		return fmt.Errorf("serve: couldn't seed genres: %w", err)
	}

	var files *filestore.Store
	if cfg.FSType != "" {
		files, err = filestore.New(cfg.FSType, cfg.FSConn, cfg.Debug)
		if err != nil {
			return fmt.Errorf("serve: couldn't create file storage: %w", err)
		}
	}

	var exts []string
	if cfg.Extensions != "" {
		exts = strings.Split(cfg.Extensions, ",")
	}
	analyzer := analysis.New(&analysis.Config{
		AubioBin:  cfg.AubioBin,
		FFmpegBin: cfg.FFmpegBin,
		Debug:     cfg.Debug,
	})
	if v, err := analyzer.Check(ctx); err != nil {
		logger.Warn("tempo detection unavailable, analysis requests will fail", "err", err)
	} else {
		logger.Debug("aubio found", "version", v)
	}
	srv := NewServer(&Options{
		Store:       store,
		Files:       files,
		Analyzer:    analyzer,
		Generator:   sunoGenerator(cfg),
		UploadDir:   cfg.UploadDir,
		Extensions:  exts,
		Credentials: cfg.Credentials,
		Debug:       cfg.Debug,
		Logger:      logger,
	})

	// Create server
	split := strings.Split(cfg.Addr, ":")
	if len(split) != 2 {
		return fmt.Errorf("serve: invalid address: %s", cfg.Addr)
	}
	host := split[0]
	port, err := strconv.Atoi(split[1])
	if err != nil {
		return fmt.Errorf("serve: invalid port: %s", split[1])
	}
	server := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", host, port),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		note := fmt.Sprintf("http://%s:%d", host, port)
		if host == "" {
			note = fmt.Sprintf("all interfaces http://localhost:%d", port)
		}
		logger.Info("starting server", "addr", note)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("failed to start server", "err", err)
			cancel()
		}
	}()

	if cfg.Ngrok {
		t, err := tunnel.Open(ctx, &tunnel.Config{Bin: cfg.NgrokBin}, strconv.Itoa(port))
		if err != nil {
			logger.Error("couldn't open tunnel", "err", err)
		} else {
			defer t.Close()
			logger.Info("public tunnel ready", "url", t.URL)
		}
	}

	<-ctx.Done()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("serve: couldn't shutdown server: %w", err)
	}
	return nil
}

// sunoGenerator returns a generator factory that reuses one client per api
// key so the rate limit is shared between requests.
func sunoGenerator(cfg *Config) GeneratorFunc {
	var lck sync.Mutex
	clients := map[string]*suno.Client{}
	return func(apiKey string) (music.Generator, error) {
		lck.Lock()
		defer lck.Unlock()
		if c, ok := clients[apiKey]; ok {
			return c, nil
		}
		c, err := suno.New(&suno.Config{
			BaseURL: cfg.SunoBaseURL,
			APIKey:  apiKey,
			Model:   cfg.SunoModel,
			Wait:    cfg.SunoWait,
			Debug:   cfg.Debug,
		})
		if err != nil {
			return nil, err
		}
		clients[apiKey] = c
		return c, nil
	}
}
