package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ni2-vsv11/DocTrack/internal/compare"
	"github.com/ni2-vsv11/DocTrack/internal/diff"
)

var (
	flagFromLabel string
	flagToLabel   string
	flagFormat    string
)

var compareCmd = &cobra.Command{
	Use:   "compare <old-file> <new-file>",
	Short: "Compare two text files",
	Long:  "Compare runs the version-comparison pipeline over two local files. Exit code 1 signals differences, 0 signals identical content.",
	Args:  cobra.ExactArgs(2),
	RunE:  runCompare,
}

func init() {
	compareCmd.Flags().StringVar(&flagFromLabel, "from-label", "", "Label for the old side (default: file name)")
	compareCmd.Flags().StringVar(&flagToLabel, "to-label", "", "Label for the new side (default: file name)")
	compareCmd.Flags().StringVar(&flagFormat, "format", "unified", "Output format (unified, tagged, html, stats, json)")
}

func runCompare(cmd *cobra.Command, args []string) error {
	oldPath, newPath := args[0], args[1]

	oldText, err := readFileText(oldPath)
	if err != nil {
		exitCode = ExitRuntimeError
		return err
	}
	newText, err := readFileText(newPath)
	if err != nil {
		exitCode = ExitRuntimeError
		return err
	}

	fromLabel := flagFromLabel
	if fromLabel == "" {
		fromLabel = oldPath
	}
	toLabel := flagToLabel
	if toLabel == "" {
		toLabel = newPath
	}

	result := compare.Compare(&oldText, &newText, fromLabel, toLabel)

	switch flagFormat {
	case "unified":
		fmt.Fprint(os.Stdout, result.Unified)
	case "tagged":
		for _, line := range result.TaggedDiff {
			prefix := " "
			switch line.Type {
			case diff.LineAdded:
				prefix = "+"
			case diff.LineRemoved:
				prefix = "-"
			}
			fmt.Fprintf(os.Stdout, "%s %s\n", prefix, line.Content)
		}
	case "html":
		fmt.Fprintln(os.Stdout, result.HTMLTable)
	case "stats":
		fmt.Fprintf(os.Stdout, "added: %d\nremoved: %d\nchanged: %d\nsimilarity: %.1f%%\n",
			result.Stats.LinesAdded, result.Stats.LinesRemoved, result.Stats.LinesChanged, result.Stats.SimilarityPercent)
	case "json":
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(result); err != nil {
			exitCode = ExitRuntimeError
			return err
		}
	default:
		exitCode = ExitUsageError
		return fmt.Errorf("unknown format %q", flagFormat)
	}

	if result.Stats != nil && result.Stats.SimilarityPercent < 100.0 {
		exitCode = ExitDifferences
	}
	return nil
}

func readFileText(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return string(data), nil
}
