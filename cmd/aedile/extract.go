package main

import (
	"github.com/spf13/cobra"

	"github.com/tsawler/aedile/entity"
)

var extractCmd = &cobra.Command{
	Use:   "extract [file...]",
	Short: "Extract entities from documents without merging",
	Long: `Extract runs each file through the extractor for its format and
prints the raw extraction results as JSON. Nothing is merged; use
"aedile process" to build a project dataset.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runExtract,
}

var flagExtractOut string

func init() {
	extractCmd.Flags().StringVarP(&flagExtractOut, "output", "o", "", "write JSON to file instead of stdout")
	rootCmd.AddCommand(extractCmd)
}

func runExtract(cmd *cobra.Command, args []string) error {
	p, log, err := buildPipeline()
	if err != nil {
		return err
	}
	defer log.Sync()

	results := make([]*entity.Extraction, 0, len(args))
	for _, path := range args {
		ext, err := p.ExtractFile(cmd.Context(), path)
		if err != nil {
			return err
		}
		results = append(results, ext)
	}

	if len(results) == 1 {
		return writeJSON(flagExtractOut, results[0])
	}
	return writeJSON(flagExtractOut, results)
}
