package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"tubegrab/internal/server"
	"tubegrab/internal/util"
)

func newServeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "serve",
		Short:         "Serve the download API over HTTP and WebSocket",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts := a.options(cmd)
			if err := util.EnsureDir(opts.OutDir); err != nil {
				return &ExitError{Code: ExitCLIError, Err: fmt.Errorf("failed to create output dir: %v", err)}
			}
			// Any request may be audio-only, so a missing ffmpeg only
			// disables normalization.
			opts.AudioOnly = true
			ffmpegPath, err := resolveFFmpeg(opts)
			if err != nil {
				a.logger.Warn("ffmpeg not found; audio is kept as downloaded", "err", err)
			}

			if mode := os.Getenv("GIN_MODE"); mode != "" {
				gin.SetMode(mode)
			} else {
				gin.SetMode(gin.ReleaseMode)
			}

			coord := a.coordinator(opts, ffmpegPath)
			defer coord.Close()
			router := server.NewRouter(coord, server.Options{
				DownloadRoot: filepath.Clean(opts.OutDir),
				Origins:      a.settings.CORSOrigins,
				Logger:       a.logger,
			})
			if err := server.Serve(cmd.Context(), a.settings.Listen, router, a.logger); err != nil {
				return &ExitError{Code: ExitCLIError, Err: err}
			}
			return nil
		},
	}
	cmd.Flags().String("listen", ":8080", "Address to listen on")
	return cmd
}
