package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/zarrgl/zarr-go/pyramid"
)

func (a *app) inspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <store>",
		Short: "Print the levels of a pyramid store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.load(); err != nil {
				return err
			}
			store, closeStore, err := openStore(cmd.Context(), args[0], true)
			if err != nil {
				return err
			}
			defer closeStore()

			p, err := pyramid.Open(cmd.Context(), store)
			if err != nil {
				return err
			}
			return a.summarize(p)
		},
	}
}

func (a *app) summarize(p *pyramid.Pyramid) error {
	fmt.Fprintf(a.outW, "convention: %s\nresampling: %s\npixels_per_tile: %d\n\n", p.Convention, p.Resampling, p.PixelsPerTile)

	tw := tabwriter.NewWriter(a.outW, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "LEVEL\tCRS\tSHAPE\tRESOLUTION\tVARIABLES")
	for _, l := range p.Levels {
		ds := l.Dataset
		ny, nx := ds.Shape()
		dx, _, err := ds.Resolution()
		if err != nil {
			return err
		}
		names := make([]string, 0, len(ds.Vars))
		for _, v := range ds.Vars {
			names = append(names, v.Name)
		}
		fmt.Fprintf(tw, "%d\t%s\t%dx%d\t%g\t%s\n", l.Index, ds.CRS, ny, nx, dx, strings.Join(names, ","))
	}
	return tw.Flush()
}
