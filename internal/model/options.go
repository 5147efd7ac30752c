package model

// CLIOptions holds runtime options for the run and tui commands, resolved
// from flags, environment and config file.
type CLIOptions struct {
	OutDir         string
	AudioOnly      bool
	FFmpegPath     string // empty = look up in PATH
	NormalizeAudio bool
	Verbose        bool

	NoUI bool // Disable TUI when true
	Jobs int  // Max concurrent downloads
}
