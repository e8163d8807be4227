package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"medaugment/pkg/dataset"
)

func newSplitCommand(ctx *commandContext) *cobra.Command {
	var seed uint64
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "split [dir]",
		Short: "Move augmented pairs into train, val and test directories",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := ctx.config
			dir := cfg.Output.Dir
			if len(args) == 1 {
				dir = args[0]
			}
			if !cmd.Flags().Changed("seed") {
				seed = cfg.Split.Seed
			}

			pairs, err := dataset.DiscoverAugmented(dir)
			if err != nil {
				return err
			}
			split, err := dataset.NewSplit(pairs, cfg.SplitRatios(), seed)
			if err != nil {
				return err
			}

			if !dryRun {
				err = withDirLock(dir, func() error {
					return dataset.MoveSplit(dir, split)
				})
				if err != nil {
					return err
				}
			}

			rows := [][]string{
				{"train", strconv.Itoa(len(split.Train))},
				{"val", strconv.Itoa(len(split.Val))},
				{"test", strconv.Itoa(len(split.Test))},
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, renderTable([]string{"Split", "Pairs"}, rows, []columnAlignment{alignLeft, alignRight}))
			ctx.logger.Info("dataset split", "dir", dir, "pairs", len(pairs), "seed", seed, "dry_run", dryRun)
			return nil
		},
	}

	cmd.Flags().Uint64Var(&seed, "seed", 0, "Shuffle seed (default from config)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Print the split without moving files")
	return cmd
}
