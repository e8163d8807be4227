package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"medaugment/internal/models"
	"medaugment/pkg/dicomio"
	"medaugment/pkg/nifti"
	"medaugment/pkg/visualization"
)

func newPreviewCommand(ctx *commandContext) *cobra.Command {
	var labelPath string
	var slice int
	var cell int
	var output string
	var sequence string

	cmd := &cobra.Command{
		Use:   "preview <volume.nii.gz | dicom-dir>",
		Short: "Render the augmentation variants of one slice as a PNG montage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			volume, err := loadPreviewVolume(args[0])
			if err != nil {
				return err
			}

			var labels *models.Volume
			if labelPath != "" {
				label, err := nifti.Load(labelPath)
				if err != nil {
					return err
				}
				labels = label.Volume
			}

			depth := volume.Depth()
			if slice < 0 {
				slice = depth / 2
			}
			if slice >= depth || (labels != nil && slice >= labels.Depth()) {
				return fmt.Errorf("slice %d out of range, volume has %d slices", slice, depth)
			}

			p, err := ctx.newPipeline(1)
			if err != nil {
				return err
			}
			var set *models.AugmentationSet
			if labels != nil {
				set, err = p.ProcessPlanePair(volume.Slice(slice), labels.Slice(slice))
			} else {
				set, err = p.ProcessImage(volume.Slice(slice))
			}
			if err != nil {
				return err
			}

			name := strings.SplitN(filepath.Base(filepath.Clean(args[0])), ".", 2)[0]
			if output == "" {
				output = filepath.Join(ctx.config.Output.PreviewDir, fmt.Sprintf("%s_slice_%03d.png", name, slice))
			}
			montage, err := visualization.RenderMontage(set, cell)
			if err != nil {
				return err
			}
			if err := visualization.SavePNG(montage, output); err != nil {
				return err
			}
			ctx.metrics.FilesWritten("png", 1)
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote montage to %s\n", output)

			if sequence != "" {
				viewer, err := visualization.NewViewer(volume)
				if err != nil {
					return err
				}
				dir := filepath.Join(ctx.config.Output.PreviewDir, name+"_"+strings.ToLower(sequence))
				n, err := viewer.SaveSliceSequence(sequence, dir)
				ctx.metrics.FilesWritten("png", n)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d %s slices to %s\n", n, sequence, dir)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&labelPath, "label", "l", "", "Label volume (default: empty segmentation)")
	cmd.Flags().IntVarP(&slice, "slice", "s", -1, "Slice index (default: middle slice)")
	cmd.Flags().IntVar(&cell, "cell", 256, "Edge length of each montage cell in pixels")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output PNG path")
	cmd.Flags().StringVar(&sequence, "sequence", "", "Also save every slice of the source volume along this axis (x, y or z)")
	return cmd
}

// loadPreviewVolume reads a NIfTI file, or a DICOM series when path is a
// directory.
func loadPreviewVolume(path string) (*models.Volume, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		img, err := nifti.Load(path)
		if err != nil {
			return nil, err
		}
		return img.Volume, nil
	}

	series, err := dicomio.LoadSeries(path)
	if len(series) == 0 {
		if err != nil {
			return nil, fmt.Errorf("no readable DICOM files in %s: %w", path, err)
		}
		return nil, fmt.Errorf("no DICOM files in %s", path)
	}
	return dicomio.Volume(series), nil
}
