package main

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/zarrgl/zarr-go/internal/config"
	"github.com/zarrgl/zarr-go/pyramid"
	"github.com/zarrgl/zarr-go/raster"
)

func (a *app) buildCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Build the pyramid of the synthetic global grid and write it to a store",
		Long: `build generates the global quarter degree grid with values |y| + |x| + 1,
tags it with a CRS, reprojects it into a pyramid and writes every level to the
output store. Output is a directory path or a bucket url (file://, mem://,
s3://bucket/prefix, gs://bucket/prefix).`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.load(); err != nil {
				return err
			}
			return a.build(cmd.Context())
		},
	}

	d := config.Default()
	f := cmd.Flags()
	f.StringP(config.KeyOutput, "o", d.Output, "output store path or bucket url")
	f.IntP(config.KeyLevels, "l", d.Levels, "number of pyramid levels")
	f.String(config.KeyResampling, d.Resampling, "resampling method: bilinear or nearest")
	f.String(config.KeyConvention, d.Convention, "level convention: coarsen or web-mercator")
	f.Int(config.KeyPixelsPerTile, d.PixelsPerTile, "tile edge length in cells, also the chunk size")
	f.String(config.KeyCRS, d.CRS, "CRS of the base grid")
	f.Bool(config.KeyConsolidated, d.Consolidated, "write consolidated metadata")
	f.String(config.KeyMode, d.Mode, "write mode: w (overwrite), w- (fail if exists) or a (update)")
	f.String(config.KeyCompressor, d.Compressor, "chunk compressor: zstd, gzip or none")
	f.String(config.KeyVariable, d.Variable, "name of the data variable")
	f.Int(config.KeyWorkers, d.Workers, "reprojection workers, 0 uses every CPU")
	a.bind(f)
	return cmd
}

func (a *app) build(ctx context.Context) error {
	cfg := a.cfg

	ds := raster.NewBaseGrid()
	ds.Vars[0].Name = cfg.Variable
	if err := ds.WriteCRS(cfg.CRS); err != nil {
		return err
	}

	b := &pyramid.Builder{
		Levels:        cfg.Levels,
		Resampling:    raster.Resampling(cfg.Resampling),
		Convention:    pyramid.Convention(cfg.Convention),
		PixelsPerTile: cfg.PixelsPerTile,
		Workers:       cfg.Workers,
		Log:           a.log,
	}
	p, err := b.Build(ctx, ds)
	if err != nil {
		return err
	}

	store, closeStore, err := openStore(ctx, cfg.Output, false)
	if err != nil {
		return err
	}
	defer closeStore()

	mode, err := cfg.PersistenceMode()
	if err != nil {
		return err
	}
	err = pyramid.Write(ctx, store, p, pyramid.WriteOptions{
		Mode:         mode,
		Consolidated: cfg.Consolidated,
		Compressor:   cfg.Compressor,
		Log:          a.log.WithField("output", cfg.Output),
	})
	if err != nil {
		return err
	}

	a.log.WithFields(logrus.Fields{
		"output": cfg.Output,
		"levels": len(p.Levels),
	}).Debug("build complete")
	fmt.Fprintf(a.outW, "wrote %d levels to %s\n", len(p.Levels), cfg.Output)
	return nil
}
