package main

import (
	"github.com/spf13/cobra"

	"github.com/gogpu/histeq/internal/imageio"
	"github.com/gogpu/histeq/internal/report"
)

func newStatsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stats BEFORE [AFTER]",
		Short: "Compare contrast statistics before and after equalization",
		Long: "Compare contrast statistics of two images. With a single image the\n" +
			"second column is computed by equalizing it.",
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			before, err := imageio.Load(args[0])
			if err != nil {
				return err
			}
			after := before
			if len(args) == 2 {
				if after, err = imageio.Load(args[1]); err != nil {
					return err
				}
			} else {
				eq, err := a.newEqualizer()
				if err != nil {
					return err
				}
				defer eq.Close()
				if after, err = eq.Equalize(before); err != nil {
					return err
				}
			}
			c, err := report.Compare(before, after)
			if err != nil {
				return err
			}
			return c.Write(cmd.OutOrStdout())
		},
	}
}
