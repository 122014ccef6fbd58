package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/igolaizola/sunoprompt"
	"github.com/igolaizola/sunoprompt/pkg/client"
	"github.com/igolaizola/sunoprompt/pkg/cmd/account"
	"github.com/igolaizola/sunoprompt/pkg/cmd/analyze"
	"github.com/igolaizola/sunoprompt/pkg/cmd/generate"
	"github.com/igolaizola/sunoprompt/pkg/cmd/genre"
	"github.com/igolaizola/sunoprompt/pkg/cmd/history"
	"github.com/igolaizola/sunoprompt/pkg/cmd/migrate"
	"github.com/igolaizola/sunoprompt/pkg/cmd/serve"
	"github.com/igolaizola/sunoprompt/pkg/music"
	"github.com/igolaizola/sunoprompt/pkg/suno"
	"github.com/peterbourgon/ff/ffyaml"
	"github.com/peterbourgon/ff/v3"
	"github.com/peterbourgon/ff/v3/ffcli"
)

const envPrefix = "SUNOPROMPT"

func New(version, commit, date string) *ffcli.Command {
	fs := flag.NewFlagSet("sunoprompt", flag.ExitOnError)

	return &ffcli.Command{
		ShortUsage: "sunoprompt [flags] <subcommand>",
		FlagSet:    fs,
		Exec: func(context.Context, []string) error {
			return flag.ErrHelp
		},
		Subcommands: []*ffcli.Command{
			newVersionCommand(version, commit, date),
			newServeCommand(),
			newMigrateCommand(),
			newAnalyzeCommand(),
			newShowCommand(),
			newGenerateCommand(),
			newSongCommand(),
			newAccountCommand(),
			newCreditsCommand(),
			newHistoryCommand(),
			newGenreCommand(),
		},
	}
}

func options() []ff.Option {
	return []ff.Option{
		ff.WithConfigFileFlag("config"),
		ff.WithConfigFileParser(ffyaml.Parser),
		ff.WithEnvVarPrefix(envPrefix),
	}
}

func newVersionCommand(version, commit, date string) *ffcli.Command {
	return &ffcli.Command{
		Name:       "version",
		ShortUsage: "sunoprompt version",
		ShortHelp:  "print version",
		Exec: func(ctx context.Context, args []string) error {
			v := version
			if v == "" {
				if buildInfo, ok := debug.ReadBuildInfo(); ok {
					v = buildInfo.Main.Version
				}
			}
			if v == "" {
				v = "dev"
			}
			versionFields := []string{v}
			if commit != "" {
				versionFields = append(versionFields, commit)
			}
			if date != "" {
				versionFields = append(versionFields, date)
			}
			fmt.Println(strings.Join(versionFields, " "))
			return nil
		},
	}
}

func newServeCommand() *ffcli.Command {
	cmd := "serve"
	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	_ = fs.String("config", "", "config file (optional)")

	cfg := &serve.Config{}

	fs.BoolVar(&cfg.Debug, "debug", false, "debug mode")
	fs.StringVar(&cfg.DBType, "db-type", "sqlite", "db type (sqlite, mysql, postgres)")
	fs.StringVar(&cfg.DBConn, "db-conn", "sunoprompt.db", "path for sqlite, dsn for mysql or postgres")
	fs.StringVar(&cfg.FSType, "fs-type", "", "fs type to archive audio files (local, s3), empty to disable")
	fs.StringVar(&cfg.FSConn, "fs-conn", "", "path for local, key:secret@bucket.region[@endpoint] for s3")

	fs.StringVar(&cfg.Addr, "addr", ":5001", "address to listen on")
	fsMapVar(fs, &cfg.Credentials, "creds", nil, "basic auth credentials (semicolon separated) Example: user1:pass1;user2:pass2")
	fs.StringVar(&cfg.UploadDir, "upload-dir", "uploads", "folder for uploaded files")
	fs.StringVar(&cfg.Extensions, "extensions", "wav,mp3,flac,ogg", "allowed upload extensions (comma separated)")
	fs.StringVar(&cfg.GenresFile, "genres", "", "yaml file with genre tempo rules (optional)")

	fs.StringVar(&cfg.AubioBin, "aubio", "aubio", "aubio binary")
	fs.StringVar(&cfg.FFmpegBin, "ffmpeg", "ffmpeg", "ffmpeg binary")

	fs.StringVar(&cfg.SunoBaseURL, "suno-url", suno.DefaultBaseURL, "music generation api url")
	fs.StringVar(&cfg.SunoModel, "suno-model", suno.DefaultModel, "music generation model")
	fs.DurationVar(&cfg.SunoWait, "suno-wait", 1*time.Second, "minimum wait between generation api requests")

	fs.BoolVar(&cfg.Ngrok, "ngrok", false, "expose the server through an ngrok tunnel")
	fs.StringVar(&cfg.NgrokBin, "ngrok-bin", "ngrok", "ngrok binary")

	return &ffcli.Command{
		Name:       cmd,
		ShortUsage: fmt.Sprintf("sunoprompt %s [flags]", cmd),
		Options:    options(),
		ShortHelp:  "start the backend server",
		FlagSet:    fs,
		Exec: func(ctx context.Context, args []string) error {
			return serve.Serve(ctx, cfg)
		},
	}
}

func newMigrateCommand() *ffcli.Command {
	cmd := "migrate"
	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	_ = fs.String("config", "", "config file (optional)")

	cfg := &migrate.Config{}

	fs.BoolVar(&cfg.Debug, "debug", false, "debug mode")
	fs.StringVar(&cfg.DBType, "db-type", "sqlite", "db type (sqlite, mysql, postgres)")
	fs.StringVar(&cfg.DBConn, "db-conn", "sunoprompt.db", "path for sqlite, dsn for mysql or postgres")
	fs.StringVar(&cfg.GenresFile, "genres", "", "yaml file with genre tempo rules (optional)")

	return &ffcli.Command{
		Name:       cmd,
		ShortUsage: fmt.Sprintf("sunoprompt %s [flags]", cmd),
		Options:    options(),
		ShortHelp:  "create or update the database",
		FlagSet:    fs,
		Exec: func(ctx context.Context, args []string) error {
			return migrate.Run(ctx, cfg)
		},
	}
}

func serverFlags(fs *flag.FlagSet, debug *bool, server *string) {
	fs.BoolVar(debug, "debug", false, "debug mode")
	fs.StringVar(server, "server", client.DefaultBaseURL, "backend server url")
}

func newAnalyzeCommand() *ffcli.Command {
	cmd := "analyze"
	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	_ = fs.String("config", "", "config file (optional)")

	cfg := &analyze.Config{}
	serverFlags(fs, &cfg.Debug, &cfg.Server)
	fs.StringVar(&cfg.Session, "session", "", "session file (default user cache dir)")
	fs.StringVar(&cfg.Input, "input", "", "audio file to analyze")
	fs.StringVar(&cfg.Genre, "genre", "", "genre to use instead of detecting it")
	fs.StringVar(&cfg.ModelQuality, "model-quality", "", "analysis model quality")
	fs.StringVar(&cfg.DemucsModel, "demucs-model", "", "stem separation model")
	fs.BoolVar(&cfg.SaveVocals, "save-vocals", false, "keep the separated vocals")
	fs.StringVar(&cfg.Wave, "wave", "", "save a waveform preview image (png or jpg)")
	fs.StringVar(&cfg.Export, "export", "", "export the analysis to a json file")
	fs.BoolVar(&cfg.SaveHistory, "save-history", false, "save the analysis to the history")

	return &ffcli.Command{
		Name:       cmd,
		ShortUsage: fmt.Sprintf("sunoprompt %s [flags] [input]", cmd),
		Options:    options(),
		ShortHelp:  "analyze an audio file and suggest prompts",
		FlagSet:    fs,
		Exec: func(ctx context.Context, args []string) error {
			if cfg.Input == "" && len(args) > 0 {
				cfg.Input = args[0]
			}
			return analyze.Run(ctx, cfg)
		},
	}
}

func newShowCommand() *ffcli.Command {
	cmd := "show"
	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	_ = fs.String("config", "", "config file (optional)")

	var sessionPath string
	var asJSON bool
	fs.StringVar(&sessionPath, "session", "", "session file (default user cache dir)")
	fs.BoolVar(&asJSON, "json", false, "print as json")

	return &ffcli.Command{
		Name:       cmd,
		ShortUsage: fmt.Sprintf("sunoprompt %s [flags]", cmd),
		Options:    options(),
		ShortHelp:  "show the last analysis",
		FlagSet:    fs,
		Exec: func(ctx context.Context, args []string) error {
			return analyze.Print(sessionPath, asJSON)
		},
	}
}

func newGenerateCommand() *ffcli.Command {
	cmd := "generate"
	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	_ = fs.String("config", "", "config file (optional)")

	cfg := &generate.Config{}
	serverFlags(fs, &cfg.Debug, &cfg.Server)
	fs.StringVar(&cfg.APIKey, "api-key", "", "generation api key (default account if empty)")
	fs.StringVar(&cfg.Session, "session", "", "session file (default user cache dir)")
	fs.DurationVar(&cfg.Timeout, "timeout", 0, "timeout for the process (0 means no timeout)")
	fs.DurationVar(&cfg.PollInterval, "poll-interval", 5*time.Second, "interval between status checks")
	fs.IntVar(&cfg.PollAttempts, "poll-attempts", 0, "maximum status checks (0 means no limit)")
	fs.DurationVar(&cfg.PollTimeout, "poll-timeout", 10*time.Minute, "maximum time waiting for a generation")

	fs.StringVar(&cfg.Input, "input", "", "csv or json with prompts (fields: prompt,style,lyrics,title,tags,instrumental)")
	fs.StringVar(&cfg.PromptName, "name", "", "prompt variation from the last analysis (default first)")
	fs.StringVar(&cfg.Prompt, "prompt", "", "prompt to use")
	fs.StringVar(&cfg.Style, "style", "", "style to use in custom mode")
	fs.StringVar(&cfg.Lyrics, "lyrics", "", "lyrics to use in custom mode")
	fs.StringVar(&cfg.Title, "title", "", "song title")
	fs.StringVar(&cfg.Tags, "tags", "", "song tags")
	fs.BoolVar(&cfg.Instrumental, "instrumental", false, "instrumental song")

	fs.StringVar(&cfg.Output, "output", "", "output folder for the tracks")
	fs.BoolVar(&cfg.SkipHistory, "skip-history", false, "don't save the generation to the history")

	return &ffcli.Command{
		Name:       cmd,
		ShortUsage: fmt.Sprintf("sunoprompt %s [flags]", cmd),
		Options:    options(),
		ShortHelp:  "generate songs through the backend server",
		FlagSet:    fs,
		Exec: func(ctx context.Context, args []string) error {
			return generate.Run(ctx, cfg)
		},
	}
}

func newSongCommand() *ffcli.Command {
	cmd := "song"
	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	_ = fs.String("config", "", "config file (optional)")

	cfg := &sunoprompt.Config{}
	fs.BoolVar(&cfg.Debug, "debug", false, "debug mode")
	fs.StringVar(&cfg.APIKey, "api-key", "", "generation api key")
	fs.StringVar(&cfg.BaseURL, "suno-url", suno.DefaultBaseURL, "music generation api url")
	fs.StringVar(&cfg.Model, "suno-model", suno.DefaultModel, "music generation model")
	fs.DurationVar(&cfg.Wait, "wait", 1*time.Second, "minimum wait between requests")
	fs.DurationVar(&cfg.PollInterval, "poll-interval", 5*time.Second, "interval between status checks")
	fs.DurationVar(&cfg.PollTimeout, "poll-timeout", 10*time.Minute, "maximum time waiting for the song")

	req := &music.GenerationRequest{}
	var prompt, style, lyrics string
	fs.StringVar(&prompt, "prompt", "", "prompt to autogenerate the song")
	fs.StringVar(&style, "style", "", "style of the song in custom mode")
	fs.StringVar(&lyrics, "lyrics", "", "lyrics of the song in custom mode")
	fs.StringVar(&req.Title, "title", "", "title for the song")
	fs.StringVar(&req.Tags, "tags", "", "tags for the song")
	fs.BoolVar(&req.Instrumental, "instrumental", false, "instrumental song")
	var output string
	fs.StringVar(&output, "output", "", "output folder")

	return &ffcli.Command{
		Name:       cmd,
		ShortUsage: fmt.Sprintf("sunoprompt %s [flags]", cmd),
		Options:    options(),
		ShortHelp:  "generate a song calling the generation api directly",
		FlagSet:    fs,
		Exec: func(ctx context.Context, args []string) error {
			switch {
			case prompt != "":
				req.Prompt = music.Prompt{Text: prompt}
			case style != "" || lyrics != "":
				req.Prompt = music.Prompt{Style: style, Lyrics: lyrics}
				req.IsCustom = true
			default:
				return errors.New("song: prompt or style is required")
			}
			_, err := sunoprompt.GenerateSong(ctx, cfg, req, output)
			return err
		},
	}
}

func newAccountCommand() *ffcli.Command {
	cmd := "account"
	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	_ = fs.String("config", "", "config file (optional)")

	cfg := &account.Config{}
	serverFlags(fs, &cfg.Debug, &cfg.Server)
	fs.StringVar(&cfg.Name, "name", "", "account name")
	fs.StringVar(&cfg.Key, "key", "", "account api key")

	return &ffcli.Command{
		Name:       cmd,
		ShortUsage: fmt.Sprintf("sunoprompt %s [flags] <list|add|remove|default>", cmd),
		Options:    options(),
		ShortHelp:  "manage generation api accounts",
		FlagSet:    fs,
		Exec: func(ctx context.Context, args []string) error {
			action := "list"
			if len(args) > 0 {
				action = args[0]
			}
			if cfg.Name == "" && len(args) > 1 {
				cfg.Name = args[1]
			}
			switch action {
			case "list":
				return account.List(ctx, cfg)
			case "add":
				return account.Add(ctx, cfg)
			case "remove":
				return account.Remove(ctx, cfg)
			case "default":
				return account.SetDefault(ctx, cfg)
			default:
				return fmt.Errorf("account: unknown action %q", action)
			}
		},
	}
}

func newCreditsCommand() *ffcli.Command {
	cmd := "credits"
	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	_ = fs.String("config", "", "config file (optional)")

	cfg := &account.Config{}
	serverFlags(fs, &cfg.Debug, &cfg.Server)
	fs.StringVar(&cfg.APIKey, "api-key", "", "generation api key (default account if empty)")

	return &ffcli.Command{
		Name:       cmd,
		ShortUsage: fmt.Sprintf("sunoprompt %s [flags]", cmd),
		Options:    options(),
		ShortHelp:  "print the remaining credits",
		FlagSet:    fs,
		Exec: func(ctx context.Context, args []string) error {
			return account.Credits(ctx, cfg)
		},
	}
}

func newHistoryCommand() *ffcli.Command {
	cmd := "history"
	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	_ = fs.String("config", "", "config file (optional)")

	cfg := &history.Config{}
	serverFlags(fs, &cfg.Debug, &cfg.Server)
	fs.StringVar(&cfg.Kind, "kind", history.Analysis, "history kind (analysis, generation)")
	fs.StringVar(&cfg.Format, "format", "json", "output format (json, csv)")
	fs.StringVar(&cfg.Output, "output", "", "output file (default stdout)")
	fs.IntVar(&cfg.Limit, "limit", 0, "maximum entries (0 means no limit)")

	return &ffcli.Command{
		Name:       cmd,
		ShortUsage: fmt.Sprintf("sunoprompt %s [flags] [list|delete <id>]", cmd),
		Options:    options(),
		ShortHelp:  "print or delete the saved history",
		FlagSet:    fs,
		Exec: func(ctx context.Context, args []string) error {
			action := "list"
			if len(args) > 0 {
				action = args[0]
			}
			switch action {
			case "list":
				return history.Run(ctx, cfg)
			case "delete":
				if len(args) < 2 {
					return errors.New("history: entry id is required")
				}
				cfg.ID = args[1]
				return history.Delete(ctx, cfg)
			default:
				return fmt.Errorf("history: unknown action %q", action)
			}
		},
	}
}

func newGenreCommand() *ffcli.Command {
	cmd := "genre"
	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	_ = fs.String("config", "", "config file (optional)")

	cfg := &genre.Config{}
	serverFlags(fs, &cfg.Debug, &cfg.Server)
	fs.StringVar(&cfg.Name, "name", "", "genre name")
	fs.Float64Var(&cfg.MinBPM, "min-bpm", 0, "minimum tempo")
	fs.Float64Var(&cfg.MaxBPM, "max-bpm", 0, "maximum tempo")

	return &ffcli.Command{
		Name:       cmd,
		ShortUsage: fmt.Sprintf("sunoprompt %s [flags] <list|add|remove>", cmd),
		Options:    options(),
		ShortHelp:  "list, add or remove genre tempo rules",
		FlagSet:    fs,
		Exec: func(ctx context.Context, args []string) error {
			action := "list"
			if len(args) > 0 {
				action = args[0]
			}
			if cfg.Name == "" && len(args) > 1 {
				cfg.Name = args[1]
			}
			switch action {
			case "list":
				return genre.List(ctx, cfg)
			case "add":
				return genre.Add(ctx, cfg)
			case "remove":
				return genre.Remove(ctx, cfg)
			default:
				return fmt.Errorf("genre: unknown action %q", action)
			}
		},
	}
}

type mapValue struct {
	v *map[string]string
}

func (m *mapValue) String() string {
	if m.v == nil {
		return ""
	}
	return fmt.Sprintf("%v", map[string]string(*m.v))
}

func (m *mapValue) Set(value string) error {
	if m.v == nil {
		return errors.New("nil map reference")
	}
	pairs := strings.Split(value, ";")
	for _, pair := range pairs {
		parts := strings.SplitN(pair, ":", 2)
		if len(parts) != 2 {
			return fmt.Errorf("invalid map entry: %s", pair)
		}
		(*m.v)[parts[0]] = parts[1]
	}
	return nil
}

func fsMapVar(fs *flag.FlagSet, p *map[string]string, name string, value map[string]string, usage string) {
	if value == nil {
		value = make(map[string]string)
	}
	*p = value
	fs.Var(&mapValue{p}, name, usage)
}
