package main

import (
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"medaugment/pkg/dicomio"
	"medaugment/pkg/pipeline"
)

func newDicomCommand(ctx *commandContext) *cobra.Command {
	var outputDir string

	cmd := &cobra.Command{
		Use:   "dicom <input-dir>",
		Short: "Augment every DICOM file in a directory",
		Long: "Augment every DICOM file in a directory. Each file is processed on its own with\n" +
			"an empty segmentation and every variant is written as a derived DICOM file.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if outputDir == "" {
				outputDir = filepath.Join(ctx.config.Output.Dir, "dicom")
			}

			series, loadErr := dicomio.LoadSeries(args[0])
			if loadErr != nil {
				ctx.logger.Warn("some DICOM files could not be read", "error", loadErr)
			}
			if len(series) == 0 {
				return fmt.Errorf("no readable DICOM files in %s", args[0])
			}

			p, err := ctx.newPipeline(1)
			if err != nil {
				return err
			}

			var rows [][]string
			var files int
			err = withDirLock(outputDir, func() error {
				for _, s := range series {
					status := "ok"
					set, err := p.ProcessImage(s.Plane)
					if err != nil {
						ctx.metrics.SliceFailed(pipeline.FailedStage(err))
						ctx.logger.Warn("skipping file", "file", s.Path, "error", err)
						rows = append(rows, []string{s.Name(), strconv.Itoa(s.InstanceNumber), "0", "error: " + err.Error()})
						continue
					}
					ctx.metrics.SliceProcessed()

					written, err := dicomio.WriteAugmented(outputDir, s, set)
					files += len(written)
					ctx.metrics.FilesWritten("dicom", len(written))
					if err != nil {
						ctx.logger.Error("some variants were not written", "file", s.Path, "error", err)
						status = "partial: " + err.Error()
					}
					rows = append(rows, []string{s.Name(), strconv.Itoa(s.InstanceNumber), strconv.Itoa(len(written)), status})
				}
				return nil
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, renderTable(
				[]string{"File", "Instance", "Written", "Status"},
				rows,
				[]columnAlignment{alignLeft, alignRight, alignRight, alignLeft},
			))
			fmt.Fprintf(out, "Wrote %d DICOM files to %s\n", files, outputDir)
			return nil
		},
	}

	cmd.Flags().StringVarP(&outputDir, "output", "o", "", "Output directory (default <output.dir>/dicom)")
	return cmd
}
