package main

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/tsawler/aedile/format"
)

var processCmd = &cobra.Command{
	Use:   "process [file|dir...]",
	Short: "Process a project batch and merge it into a dataset",
	Long: `Process extracts every file on a bounded worker pool and merges the
results into the canonical project dataset. Directory arguments are
walked for supported file types. A file that cannot be processed is
reported and skipped; the rest of the batch continues.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runProcess,
}

var (
	flagProject    string
	flagProcessOut string
)

func init() {
	processCmd.Flags().StringVarP(&flagProject, "project", "p", "", "project name (required)")
	processCmd.Flags().StringVarP(&flagProcessOut, "output", "o", "", "write dataset JSON to file instead of stdout")
	_ = processCmd.MarkFlagRequired("project")
	rootCmd.AddCommand(processCmd)
}

func runProcess(cmd *cobra.Command, args []string) error {
	files, err := expandArgs(args)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no supported files in %v", args)
	}

	p, log, err := buildPipeline()
	if err != nil {
		return err
	}
	defer log.Sync()

	res, err := p.ProcessFiles(cmd.Context(), flagProject, files...)
	if err != nil {
		return err
	}

	for _, f := range res.Files {
		if f.Err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "%s: %s: %v\n", f.File, f.Status, f.Err)
		}
	}
	return writeJSON(flagProcessOut, res.Dataset)
}

// expandArgs replaces directory arguments with the supported files they
// contain. Unsupported files inside a directory are skipped; files named
// explicitly stay in the batch so their failure is reported.
func expandArgs(args []string) ([]string, error) {
	var out []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil || !info.IsDir() {
			out = append(out, arg)
			continue
		}
		err = filepath.WalkDir(arg, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() || format.Detect(d.Name()) == format.Unknown {
				return nil
			}
			out = append(out, path)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("reading directory %s: %w", arg, err)
		}
	}
	return out, nil
}
