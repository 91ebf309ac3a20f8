package main

import (
	"io"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/zarrgl/zarr-go/internal/config"
)

// app holds state shared by the subcommands of one invocation
type app struct {
	v       *viper.Viper
	cfgFile string
	cfg     *config.Config
	log     *logrus.Logger
	outW    io.Writer
	errW    io.Writer
}

func newRootCmd(outW, errW io.Writer) *cobra.Command {
	a := &app{v: config.New(), outW: outW, errW: errW}
	d := config.Default()

	root := &cobra.Command{
		Use:           "zarr-pyramid",
		Short:         "Build multiscale raster pyramids in zarr stores",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(outW)
	root.SetErr(errW)

	pf := root.PersistentFlags()
	pf.StringVar(&a.cfgFile, "config", "", "config file (yaml, json or toml)")
	pf.String(config.KeyLogLevel, d.LogLevel, "log level: trace, debug, info, warn or error")
	pf.String(config.KeyLogFormat, d.LogFormat, "log format: text or json")
	a.bind(pf)

	root.AddCommand(a.buildCmd(), a.inspectCmd())
	return root
}

func (a *app) bind(fs *pflag.FlagSet) {
	// binding only fails for a nil flag set
	if err := a.v.BindPFlags(fs); err != nil {
		panic(err)
	}
}

// load resolves the configuration and sets up logging. Invalid settings are
// usage errors.
func (a *app) load() error {
	cfg, err := config.Load(a.v, a.cfgFile)
	if err != nil {
		return &ExitError{Code: 2, Err: err}
	}
	log, err := cfg.Logger()
	if err != nil {
		return &ExitError{Code: 2, Err: err}
	}
	log.SetOutput(a.errW)
	a.cfg, a.log = cfg, log
	return nil
}
