package encoder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"tubegrab/internal/model"
	"tubegrab/internal/util"
)

// Options control ffmpeg execution.
type Options struct {
	FFmpegPath string
	Runner     util.CmdRunner // nil = os/exec
	Logger     *slog.Logger
}

// Normalizer rewrites downloaded audio into an AAC/M4A file in place.
type Normalizer struct {
	ffmpeg string
	runner util.CmdRunner
	logger *slog.Logger
}

// NewNormalizer returns a Normalizer using opts.
func NewNormalizer(opts Options) *Normalizer {
	n := &Normalizer{
		ffmpeg: opts.FFmpegPath,
		runner: opts.Runner,
		logger: opts.Logger,
	}
	if n.runner == nil {
		n.runner = util.NewDefaultRunner()
	}
	if n.logger == nil {
		n.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return n
}

// Normalize moves inputPath aside to a hidden temporary sibling, transcodes
// it back to inputPath and deletes the temporary file on success.
//
// On failure the error is a *model.TranscodeError, any partial output at
// inputPath is removed, and the temporary file is left in place so the
// download is not lost.
func (n *Normalizer) Normalize(ctx context.Context, inputPath string) (string, error) {
	if n.ffmpeg == "" {
		return "", &model.TranscodeError{Err: errors.New("ffmpeg path is required")}
	}
	if !util.FileExists(inputPath) {
		return "", &model.TranscodeError{Err: fmt.Errorf("input %s: %w", inputPath, os.ErrNotExist)}
	}

	tmp := util.TempSibling(inputPath, "source")
	if err := os.Rename(inputPath, tmp); err != nil {
		return "", &model.TranscodeError{Err: fmt.Errorf("move download aside: %w", err)}
	}

	start := time.Now()
	var stats Stats
	res, runErr := n.runner.Run(ctx, util.CmdSpec{
		Path: n.ffmpeg,
		Args: BuildNormalizeArgs(tmp, inputPath, true),
		StdoutLine: func(line string) {
			if stats.Feed(line) {
				n.logger.Debug("normalize progress", "path", inputPath, "out_time", stats.OutTime, "speed", stats.Speed)
			}
		},
		Logger: n.logger,
	})
	if runErr == nil && res.Code != 0 {
		runErr = fmt.Errorf("exit status %d", res.Code)
	}
	if runErr == nil {
		runErr = verifyContainer(inputPath)
	}
	if runErr != nil {
		if rmErr := util.RemoveIfExists(inputPath); rmErr != nil {
			n.logger.Warn("remove broken output", "path", inputPath, "err", rmErr)
		}
		return "", &model.TranscodeError{
			Source:   tmp,
			ExitCode: res.Code,
			Stderr:   string(res.Stderr),
			Err:      runErr,
		}
	}

	if err := os.Remove(tmp); err != nil {
		n.logger.Warn("remove normalize source", "path", tmp, "err", err)
	}
	n.logger.Debug("normalized", "path", inputPath, "elapsed", time.Since(start).Round(time.Millisecond))
	return inputPath, nil
}
