package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/gogpu/histeq"
	"github.com/gogpu/histeq/internal/imageio"
)

func newEqualizeCmd(a *app) *cobra.Command {
	var (
		input   string
		output  string
		maxSide int
		repeat  int
	)
	cmd := &cobra.Command{
		Use:   "equalize -i INPUT -o OUTPUT",
		Short: "Equalize the histogram of an image",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if repeat < 1 {
				return errors.New("--repeat must be at least 1")
			}
			img, err := imageio.Load(input)
			if err != nil {
				return err
			}
			img = imageio.Fit(img, maxSide)

			eq, err := a.newEqualizer()
			if err != nil {
				return err
			}
			defer eq.Close()

			var res *histeq.Result
			for i := 0; i < repeat; i++ {
				if res, err = eq.EqualizeDetailed(img); err != nil {
					return err
				}
			}
			if err := imageio.Save(output, res.Output); err != nil {
				return err
			}
			if a.cfg.Logging.Verbose {
				printDiagnostics(cmd.OutOrStdout(), img, res, a.metrics.Snapshot().Runs)
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVarP(&input, "input", "i", "", "input image (pgm, png, jpeg, gif, tiff, bmp)")
	f.StringVarP(&output, "output", "o", "", "output image; the format follows the extension")
	f.IntVar(&maxSide, "max-size", 0, "downscale the input to fit this many pixels per side")
	f.IntVar(&repeat, "repeat", 1, "run the pipeline this many times, keeping the last result")
	_ = cmd.MarkFlagRequired("input")
	_ = cmd.MarkFlagRequired("output")
	return cmd
}

// printDiagnostics reports the input geometry, the device and the time spent
// in each kernel of the last run.
func printDiagnostics(w io.Writer, img *histeq.Image, res *histeq.Result, runs int64) {
	fmt.Fprintf(w, "image:       %dx%d (%d pixels)\n", img.Width, img.Height, img.Len())
	fmt.Fprintf(w, "bins:        %d (%d bytes)\n", histeq.Bins, histeq.Bins*4)
	fmt.Fprintf(w, "device:      %s\n", res.Device)
	fmt.Fprintf(w, "run:         %s (%d total)\n", res.Run, runs)
	fmt.Fprintf(w, "cmin:        %d\n", res.CumMin)
	fmt.Fprintf(w, "degenerate:  %t\n", res.Degenerate)
	for _, t := range res.Timings {
		fmt.Fprintf(w, "%-13s%s\n", t.Stage.String()+":", t.Duration)
	}
	fmt.Fprintf(w, "elapsed:     %s\n", res.Elapsed())
}
