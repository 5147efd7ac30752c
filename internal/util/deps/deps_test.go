package deps

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tubegrab/internal/util"
)

type versionRunner struct {
	out  string
	spec util.CmdSpec
}

func (r *versionRunner) Run(_ context.Context, spec util.CmdSpec) (util.CmdResult, error) {
	r.spec = spec
	return util.CmdResult{Stdout: []byte(r.out)}, nil
}

func TestFindFFmpegCustomPath(t *testing.T) {
	dir := t.TempDir()
	bin := filepath.Join(dir, "ffmpeg-custom")
	require.NoError(t, os.WriteFile(bin, []byte("#!/bin/sh\n"), 0o755))

	got, err := FindFFmpeg(bin)
	require.NoError(t, err)
	assert.Equal(t, bin, got)

	_, err = FindFFmpeg(filepath.Join(dir, "missing"))
	assert.Error(t, err)

	_, err = FindFFmpeg(dir)
	assert.Error(t, err, "a directory is not a binary")
}

func TestFFmpegVersion(t *testing.T) {
	r := &versionRunner{out: "ffmpeg version 6.1.1 Copyright (c) 2000-2023\nbuilt with gcc\n"}
	got, err := FFmpegVersion(context.Background(), r, "/usr/bin/ffmpeg")
	require.NoError(t, err)
	assert.Equal(t, "ffmpeg version 6.1.1 Copyright (c) 2000-2023", got)
	assert.Equal(t, "/usr/bin/ffmpeg", r.spec.Path)
}
