package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"pipelined.dev/rowpipe"
	"pipelined.dev/rowpipe/config"
	"pipelined.dev/rowpipe/metric"
)

const shutdownTimeout = 5 * time.Second

func newRunCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the pipeline until completion, interrupt stops it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			return run(ctx, v, cmd)
		},
	}
	cmd.Flags().String(metricsAddrFlag, "", "serve prometheus metrics on the address while running")
	_ = v.BindPFlag(metricsAddrFlag, cmd.Flags().Lookup(metricsAddrFlag))
	return cmd
}

func run(ctx context.Context, v *viper.Viper, cmd *cobra.Command) error {
	l, err := logger(v, cmd)
	if err != nil {
		return err
	}
	f, err := load(v)
	if err != nil {
		return err
	}
	g, err := f.Graph(config.Builtin())
	if err != nil {
		return err
	}
	options := append(f.Options(), rowpipe.WithLogger(l))

	if addr := v.GetString(metricsAddrFlag); addr != "" {
		reg := prometheus.NewRegistry()
		m, err := metric.New(reg)
		if err != nil {
			return err
		}
		shutdown, err := serveMetrics(addr, reg, l)
		if err != nil {
			return err
		}
		defer shutdown()
		options = append(options, rowpipe.WithMetrics(m))
	}

	p, err := rowpipe.New(g, options...)
	if err != nil {
		return err
	}
	res := p.Run(ctx)
	fmt.Fprintln(cmd.OutOrStdout(), res)
	return res.Err
}

// serveMetrics starts metrics endpoint and returns function that stops it.
func serveMetrics(addr string, g prometheus.Gatherer, l logrus.FieldLogger) (func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.WithError(err).Error("metrics server")
		}
	}()
	l.WithField("addr", ln.Addr().String()).Info("serving metrics")
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(ctx)
		<-done
	}, nil
}
