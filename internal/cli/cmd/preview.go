package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"tubegrab/internal/downloader"
	"tubegrab/internal/model"
	"tubegrab/internal/pipeline"
	"tubegrab/internal/util"
	"tubegrab/internal/util/bitrate"
	"tubegrab/internal/util/format"
)

// previewResult is the --json shape of the preview command.
type previewResult struct {
	Resource model.ResourceMetadata `json:"resource"`
	Variants []model.StreamVariant  `json:"variants"`
	Selected *model.StreamVariant   `json:"selected,omitempty"`
	Branch   string                 `json:"branch,omitempty"`
	Output   string                 `json:"output,omitempty"`
	Error    string                 `json:"error,omitempty"`
}

func newPreviewCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "preview <id>",
		Short:         "Show metadata, streams and the stream a download would use",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := util.ParseResourceID(args[0])
			if err != nil {
				return &ExitError{Code: ExitCLIError, Err: err}
			}
			opts := a.options(cmd)
			coord := a.coordinator(opts, "")
			defer coord.Close()

			meta, err := coord.PreviewResource(cmd.Context(), id)
			if err != nil {
				return &ExitError{Code: ExitDownloadError, Err: err}
			}
			variants, err := coord.PreviewVariants(cmd.Context(), id)
			if err != nil {
				return &ExitError{Code: ExitDownloadError, Err: err}
			}
			res := buildPreview(meta, variants, opts)

			asJSON, _ := cmd.Flags().GetBool("json")
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(res)
			}
			printPreview(cmd.OutOrStdout(), res)
			return nil
		},
	}
	cmd.Flags().BoolP("audio-only", "a", false, "Preview the audio-only choice")
	cmd.Flags().Bool("json", false, "Print JSON")
	return cmd
}

func buildPreview(meta model.ResourceMetadata, variants []model.StreamVariant, opts model.CLIOptions) previewResult {
	res := previewResult{Resource: meta, Variants: variants}
	sel, err := downloader.Select(variants, opts.AudioOnly)
	if err != nil {
		if errors.Is(err, model.ErrNoCompatibleStream) {
			res.Error = err.Error()
			return res
		}
		res.Error = fmt.Sprintf("select: %v", err)
		return res
	}
	res.Selected = &sel.Variant
	res.Branch = sel.Branch.String()
	res.Output = pipeline.PlanDestination(opts.OutDir, meta.Title, sel)
	return res
}

func printPreview(w io.Writer, res previewResult) {
	title := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7D56F4"))
	faint := lipgloss.NewStyle().Faint(true)

	fmt.Fprintln(w, title.Render(res.Resource.Title))
	fmt.Fprintln(w, faint.Render(fmt.Sprintf("%s • %s • %s", res.Resource.Author, format.Duration(res.Resource.Duration), res.Resource.ID)))
	fmt.Fprintln(w)

	selected := lipgloss.NewStyle().Foreground(lipgloss.Color("#22C55E")).Bold(true)
	selRow := -1
	rows := make([][]string, 0, len(res.Variants))
	for i, v := range res.Variants {
		mark := ""
		if res.Selected != nil && v.Label == res.Selected.Label && v.Bitrate == res.Selected.Bitrate && v.Kind == res.Selected.Kind {
			mark, selRow = "*", i
		}
		rows = append(rows, []string{mark, string(v.Kind), string(v.Container), bitrate.Format(v.Bitrate), format.HumanizeBytes(sizeOrUnknown(v.Size)), v.Label})
	}
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("", "KIND", "CONTAINER", "BITRATE", "SIZE", "FORMAT").
		Rows(rows...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if selRow >= 0 && row == selRow+1 {
				return selected
			}
			return lipgloss.NewStyle()
		})
	fmt.Fprintln(w, t.String())

	if res.Error != "" {
		fmt.Fprintln(w, lipgloss.NewStyle().Foreground(lipgloss.Color("#EF4444")).Render(res.Error))
		return
	}
	fmt.Fprintf(w, "Selected: %s (%s)\nOutput:   %s\n", res.Selected.Label, res.Branch, res.Output)
}

func sizeOrUnknown(n int64) int64 {
	if n <= 0 {
		return -1
	}
	return n
}
