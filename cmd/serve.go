package cmd

import (
	"context"
	"github.com/fzft/pollrelay/config"
	"github.com/fzft/pollrelay/log"
	"github.com/fzft/pollrelay/metrics"
	"github.com/fzft/pollrelay/relay"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"time"
)

type serveFlags struct {
	configFile   string
	host         string
	port         int
	bufferSize   string
	strategy     string
	capacity     int
	timeout      time.Duration
	flushTimeout time.Duration
	acceptDrain  bool
	logLevel     string
	metricsAddr  string
}

func (f *serveFlags) register(fs *pflag.FlagSet) {
	def := config.Default()
	fs.StringVarP(&f.configFile, "config", "c", "", "TOML config file")
	fs.StringVar(&f.host, "host", def.Host, "address to bind, empty for every interface")
	fs.IntVarP(&f.port, "port", "p", def.Port, "TCP port to listen on")
	fs.StringVarP(&f.bufferSize, "buffer-size", "b", def.BufferSize.String(), "bytes read per readiness event, e.g. 256 or 4KiB")
	fs.StringVarP(&f.strategy, "strategy", "s", string(def.Strategy), "readiness strategy: dynamic (poll) or bitset (select)")
	fs.IntVar(&f.capacity, "capacity", def.Capacity, "maximum peers for the bitset strategy")
	fs.DurationVar(&f.timeout, "timeout", def.Timeout.Duration, "readiness wait timeout, negative blocks indefinitely")
	fs.DurationVar(&f.flushTimeout, "flush-timeout", def.FlushTimeout.Duration, "how long a recipient may stay unwritable before it is dropped")
	fs.BoolVar(&f.acceptDrain, "accept-drain", def.Drain(), "accept every queued connection per listener event")
	fs.StringVar(&f.logLevel, "log-level", def.LogLevel, "debug, info, warn or error")
	fs.StringVar(&f.metricsAddr, "metrics-addr", def.MetricsAddr, "serve Prometheus metrics on this address")
}

// resolve loads the config file and applies the flags the user actually set.
func (f *serveFlags) resolve(fs *pflag.FlagSet) (config.Config, error) {
	cfg, err := config.Load(f.configFile)
	if err != nil {
		return cfg, err
	}

	if fs.Changed("host") {
		cfg.Host = f.host
	}
	if fs.Changed("port") {
		cfg.Port = f.port
	}
	if fs.Changed("buffer-size") {
		if err := cfg.BufferSize.UnmarshalText([]byte(f.bufferSize)); err != nil {
			return cfg, err
		}
	}
	if fs.Changed("strategy") {
		cfg.Strategy = config.Strategy(f.strategy)
	}
	if fs.Changed("capacity") {
		cfg.Capacity = f.capacity
	}
	if fs.Changed("timeout") {
		cfg.Timeout.Duration = f.timeout
	}
	if fs.Changed("flush-timeout") {
		cfg.FlushTimeout.Duration = f.flushTimeout
	}
	if fs.Changed("accept-drain") {
		drain := f.acceptDrain
		cfg.AcceptDrain = &drain
	}
	if fs.Changed("log-level") {
		cfg.LogLevel = f.logLevel
	}
	if fs.Changed("metrics-addr") {
		cfg.MetricsAddr = f.metricsAddr
	}

	return cfg, cfg.Validate()
}

func newServeCommand() *cobra.Command {
	flags := &serveFlags{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the relay server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.resolve(cmd.Flags())
			if err != nil {
				return err
			}
			if err := log.InitLogger(cfg.LogLevel); err != nil {
				return err
			}
			defer log.Logger.Sync()

			var opts []relay.Option
			if cfg.MetricsAddr != "" {
				m := metrics.New()
				srv, _, err := m.ListenAndServe(cfg.MetricsAddr)
				if err != nil {
					return err
				}
				defer srv.Shutdown(context.Background())
				opts = append(opts, relay.WithObserver(m))
			}

			if err := relay.Run(cfg, opts...); err != nil {
				log.Logger.Error("relay stopped", zap.Error(err))
				return err
			}
			return nil
		},
	}
	flags.register(cmd.Flags())
	return cmd
}
