package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"medaugment/pkg/dataset"
	"medaugment/pkg/nifti"
	"medaugment/pkg/pipeline"
)

func newAugmentCommand(ctx *commandContext) *cobra.Command {
	var outputDir string
	var labelClass int
	var raw bool
	var workers int

	cmd := &cobra.Command{
		Use:   "augment <input-dir>",
		Short: "Augment every NIfTI volume/label pair in a directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := ctx.config
			if outputDir == "" {
				outputDir = cfg.Output.Dir
			}
			if !cmd.Flags().Changed("label-class") {
				labelClass = cfg.Processing.LabelClass
			}
			preserve := cfg.Processing.PreserveMetadata && !raw

			pairs, err := dataset.DiscoverPairs(args[0], cfg.Input.VolumePrefix, cfg.Input.LabelPrefix)
			if err != nil {
				return err
			}
			if len(pairs) == 0 {
				return fmt.Errorf("no %s*/%s* NIfTI pairs found in %s",
					cfg.Input.VolumePrefix, cfg.Input.LabelPrefix, args[0])
			}

			p, err := ctx.newPipeline(workers)
			if err != nil {
				return err
			}

			var rows [][]string
			var failed int
			err = withDirLock(outputDir, func() error {
				for _, pair := range pairs {
					row, err := augmentPair(ctx, p, pair, outputDir, labelClass, preserve)
					if err != nil {
						failed++
						ctx.logger.Error("volume skipped", "volume", pair.Volume, "error", err)
						row = []string{filepath.Base(pair.Volume), "-", "-", "-", "-", "-", "error: " + err.Error()}
					}
					rows = append(rows, row)
				}
				return nil
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, renderTable(
				[]string{"Volume", "Slices", "Kept", "Failed", "Files", "Size", "Status"},
				rows,
				[]columnAlignment{alignLeft, alignRight, alignRight, alignRight, alignRight, alignRight, alignLeft},
			))
			fmt.Fprintf(out, "Augmented %d of %d volumes into %s\n", len(pairs)-failed, len(pairs), outputDir)
			if failed == len(pairs) {
				return errors.New("no volume could be augmented")
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&outputDir, "output", "o", "", "Output directory (default from config)")
	cmd.Flags().IntVar(&labelClass, "label-class", 0, "Keep only this label class, mapped to 1 (0 keeps all classes)")
	cmd.Flags().BoolVar(&raw, "raw", false, "Write float64 volumes with an identity affine instead of the source metadata")
	cmd.Flags().IntVarP(&workers, "workers", "w", 0, "Slices processed in parallel (default from config)")
	return cmd
}

// augmentPair loads, augments and saves one volume/label pair and returns
// its summary row.
func augmentPair(ctx *commandContext, p *pipeline.Pipeline, pair dataset.Pair, outputDir string, labelClass int, preserve bool) ([]string, error) {
	start := time.Now()
	name := filepath.Base(pair.Volume)
	logger := ctx.logger.With("volume", name)

	volume, err := nifti.Load(pair.Volume)
	if err != nil {
		return nil, err
	}
	label, err := nifti.Load(pair.Label)
	if err != nil {
		return nil, err
	}

	labels := label.Volume
	if labelClass > 0 {
		labels = dataset.IsolateClass(labels, labelClass)
	}

	result, err := p.ProcessVolumePair(volume.Volume, labels)
	if err != nil {
		return nil, err
	}

	var meta *nifti.Metadata
	if preserve {
		meta = volume.Metadata()
	}
	prefix := strings.SplitN(name, ".", 2)[0]
	written, saveErr := nifti.SaveAugmented(outputDir, prefix, result, meta)
	ctx.metrics.FilesWritten("nifti", len(written))

	var size uint64
	for _, path := range written {
		if info, err := os.Stat(path); err == nil {
			size += uint64(info.Size())
		}
	}

	status := "ok"
	if len(result.Failures) > 0 {
		status = fmt.Sprintf("skipped slices %v", result.FailedIndices())
	}
	if saveErr != nil {
		logger.Error("some files were not written", "error", saveErr)
		status = "partial: " + saveErr.Error()
	}
	logger.Info("volume saved",
		"files", len(written),
		"bytes", size,
		"elapsed", time.Since(start))

	return []string{
		name,
		strconv.Itoa(result.Depth),
		strconv.Itoa(len(result.Slices)),
		strconv.Itoa(len(result.Failures)),
		strconv.Itoa(len(written)),
		humanize.Bytes(size),
		status,
	}, nil
}
