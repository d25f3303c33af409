package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gogpu/histeq/internal/imageio"
	"github.com/gogpu/histeq/internal/report"
)

func newHistogramCmd(a *app) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "histogram IMAGE",
		Short: "Print the histogram and cumulative histogram of an image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			img, err := imageio.Load(args[0])
			if err != nil {
				return err
			}
			eq, err := a.newEqualizer()
			if err != nil {
				return err
			}
			defer eq.Close()

			res, err := eq.EqualizeDetailed(img)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s: %dx%d, %d pixels, cmin %d, device %s\n",
				args[0], img.Width, img.Height, img.Len(), res.CumMin, res.Device)
			return report.WriteHistogram(out, res.Histogram, res.Cumulative, all)
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "include empty bins")
	return cmd
}
