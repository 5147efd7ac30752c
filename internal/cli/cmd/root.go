package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"tubegrab/internal/config"
	"tubegrab/internal/dirs"
	"tubegrab/internal/encoder"
	"tubegrab/internal/model"
	"tubegrab/internal/pipeline"
	"tubegrab/internal/provider"
)

const (
	ExitOK             = 0
	ExitCLIError       = 1
	ExitMissingDep     = 2
	ExitDownloadError  = 3
	ExitTranscodeError = 4
)

// ExitError wraps an error with a process exit code.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return ""
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error { return e.Err }

// app carries what PersistentPreRunE resolved to the subcommands.
type app struct {
	cfg      *config.Config
	settings config.Settings
	logger   *slog.Logger
	logFile  io.Closer
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "tubegrab [ids...]",
		Short: "Download YouTube videos and device-ready audio",
		Long: "tubegrab fetches YouTube videos by id or URL, picks the best stream for the request and, " +
			"for audio-only downloads, rewrites the result into an AAC/M4A file that portable players accept.",
		SilenceUsage:      true,
		SilenceErrors:     true,
		Args:              cobra.MinimumNArgs(1),
		PersistentPreRunE: a.setup,
		PersistentPostRun: func(*cobra.Command, []string) { a.teardown() },
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runExecute(cmd, args, runMode{})
		},
	}

	pf := root.PersistentFlags()
	pf.StringP("out-dir", "o", "", "Download directory (default ~/Videos/YouTubeDownloads)")
	pf.IntP("jobs", "j", pipeline.DefaultMaxActive, "Max concurrent downloads")
	pf.String("ffmpeg", "ffmpeg", "Path to the ffmpeg binary")
	pf.Bool("no-normalize", false, "Keep downloaded audio as is instead of rewriting it to AAC/M4A")
	pf.BoolP("verbose", "v", false, "Debug logging")
	pf.String("log-level", "info", "Log level: debug, info, warn, error")
	pf.String("config", "", "Config file (default <config dir>/config.yaml)")

	bindRunFlags(root.Flags())

	root.AddCommand(newRunCmd(a))
	root.AddCommand(newPreviewCmd(a))
	root.AddCommand(newServeCmd(a))
	root.AddCommand(newTuiCmd(a))
	root.AddCommand(newDoctorCmd(a))
	root.AddCommand(newCompletionCmd())

	return root
}

func bindRunFlags(fs *pflag.FlagSet) {
	fs.BoolP("audio-only", "a", false, "Download audio only")
	fs.Bool("no-ui", false, "Disable TUI; use plain textual output")
}

// Execute runs the CLI with the provided context.
func Execute(ctx context.Context) error {
	root := newRootCmd()
	return root.ExecuteContext(ctx)
}

// setup resolves settings and the default stderr logger. Commands that
// draw on the terminal replace the logger with a file one.
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Init(cmd.Root().PersistentFlags())
	if err != nil {
		return &ExitError{Code: ExitCLIError, Err: err}
	}
	if err := cfg.BindFlags(cmd.Flags()); err != nil {
		return &ExitError{Code: ExitCLIError, Err: err}
	}
	if path := getPersistentString(cmd, "config", ""); path != "" {
		if err := cfg.SetConfigFile(path); err != nil {
			return &ExitError{Code: ExitCLIError, Err: err}
		}
	}
	s, err := cfg.Load()
	if err != nil {
		return &ExitError{Code: ExitCLIError, Err: err}
	}
	a.cfg, a.settings = cfg, s
	a.logger = newLogger(os.Stderr, s.LogLevel)
	return nil
}

func (a *app) teardown() {
	if a.logFile != nil {
		_ = a.logFile.Close()
		a.logFile = nil
	}
}

// logToFile sends logs to <cache dir>/tubegrab.log.
func (a *app) logToFile() error {
	path, err := dirs.LogFile()
	if err != nil {
		return err
	}
	if err := dirs.Ensure(filepath.Dir(path)); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	a.logFile = f
	a.logger = newLogger(f, a.settings.LogLevel)
	return nil
}

// options merges settings with the run flags of cmd.
func (a *app) options(cmd *cobra.Command) model.CLIOptions {
	audioOnly, _ := cmd.Flags().GetBool("audio-only")
	noUI, _ := cmd.Flags().GetBool("no-ui")
	return model.CLIOptions{
		OutDir:         filepath.Clean(a.settings.DownloadDir),
		AudioOnly:      audioOnly,
		FFmpegPath:     a.settings.FFmpegPath,
		NormalizeAudio: a.settings.NormalizeAudio,
		Verbose:        a.settings.Verbose,
		NoUI:           noUI,
		Jobs:           a.settings.MaxConcurrent,
	}
}

// coordinator builds the engine for opts. ffmpegPath may be empty when no
// normalization will run.
func (a *app) coordinator(opts model.CLIOptions, ffmpegPath string) *pipeline.Coordinator {
	pOpts := []pipeline.Option{
		pipeline.WithMaxActive(opts.Jobs),
		pipeline.WithDownloadRoot(opts.OutDir),
		pipeline.WithGracePeriod(a.settings.GracePeriod),
		pipeline.WithNormalizeAudio(opts.NormalizeAudio),
		pipeline.WithLogger(a.logger),
	}
	if ffmpegPath != "" {
		pOpts = append(pOpts, pipeline.WithPostProcessor(encoder.NewNormalizer(encoder.Options{
			FFmpegPath: ffmpegPath,
			Logger:     a.logger,
		})))
	}
	yt := provider.NewYouTube(provider.YouTubeOptions{Logger: a.logger})
	return pipeline.New(yt, pOpts...)
}

func newLogger(w io.Writer, level string) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: parseLevel(level)}))
}

func parseLevel(s string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.ToUpper(strings.TrimSpace(s)))); err != nil {
		return slog.LevelInfo
	}
	return l
}

// exitForResults maps batch failures to an exit code: transcode failures
// win over download failures.
func exitForResults(results []pipeline.BatchResult) error {
	var failed []string
	code := ExitOK
	for _, r := range results {
		if !r.Failed() {
			continue
		}
		cause := r.Cause()
		if cause == nil {
			cause = errors.New(r.Job.State.String())
		}
		failed = append(failed, fmt.Sprintf("- %s: %v", r.Request.ResourceID, cause))
		switch {
		case errors.Is(cause, model.ErrTranscodeFailed):
			code = ExitTranscodeError
		case code != ExitTranscodeError:
			code = ExitDownloadError
		}
	}
	if code == ExitOK {
		return nil
	}
	return &ExitError{Code: code, Err: fmt.Errorf("%d download(s) failed:\n%s", len(failed), strings.Join(failed, "\n"))}
}

// Helpers
func getPersistentString(cmd *cobra.Command, name, def string) string {
	v, err := cmd.Flags().GetString(name)
	if err != nil || v == "" {
		return def
	}
	return v
}
