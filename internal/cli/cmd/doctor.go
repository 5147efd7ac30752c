package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"tubegrab/internal/util"
	"tubegrab/internal/util/deps"
)

func newDoctorCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:           "doctor",
		Short:         "Check ffmpeg and the download directory",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			ff, ferr := deps.FindFFmpeg(a.settings.FFmpegPath)
			if ferr != nil {
				return &ExitError{Code: ExitMissingDep, Err: ferr}
			}
			version, verr := deps.FFmpegVersion(cmd.Context(), util.NewDefaultRunner(), ff)
			if verr != nil {
				return &ExitError{Code: ExitMissingDep, Err: fmt.Errorf("run %s: %w", ff, verr)}
			}
			fmt.Fprintf(out, "FFmpeg:    %s\n", ff)
			fmt.Fprintf(out, "Version:   %s\n", version)

			dir := filepath.Clean(a.settings.DownloadDir)
			if err := checkWritable(dir); err != nil {
				return &ExitError{Code: ExitCLIError, Err: fmt.Errorf("download dir %s: %w", dir, err)}
			}
			fmt.Fprintf(out, "Downloads: %s\n", dir)
			fmt.Fprintf(out, "Jobs:      %d\n", a.settings.MaxConcurrent)
			fmt.Fprintf(out, "Normalize: %v\n", a.settings.NormalizeAudio)
			return nil
		},
	}
}

func checkWritable(dir string) error {
	if err := util.EnsureDir(dir); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, ".tubegrab-doctor-*")
	if err != nil {
		return err
	}
	name := f.Name()
	_ = f.Close()
	return os.Remove(name)
}
