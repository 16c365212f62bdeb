package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/notify-relay/relay-go/pkg/service"
	"github.com/notify-relay/relay-go/pkg/wire"
)

const shutdownTimeout = 5 * time.Second

func newRunCmd(g *globalFlags) *cobra.Command {
	var (
		metricsAddr string
		fromStdin   bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the relay until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, g, appOptions{connect: true})
			if err != nil {
				return err
			}
			defer a.Close(context.Background())

			if metricsAddr == "" {
				metricsAddr = a.cfg.Metrics.Listen
			}
			var input io.Reader
			if fromStdin {
				input = os.Stdin
			}
			return a.serve(ctx, metricsAddr, input)
		},
	}

	cmd.Flags().StringVar(&metricsAddr, "metrics", "", "Serve Prometheus metrics on this address (e.g. :9101)")
	cmd.Flags().BoolVar(&fromStdin, "stdin", false, "Relay notifications read from stdin as JSON lines")
	return cmd
}

// startError adds a hint for the states a user has to clear by hand.
func startError(err error) error {
	switch {
	case errors.Is(err, service.ErrStoppedByUser):
		return fmt.Errorf("%w (run 'relayd restart' to clear)", err)
	case errors.Is(err, service.ErrDisabled):
		return fmt.Errorf("%w (run 'relayd open' to re-enable)", err)
	}
	return err
}

// serve starts the relay and blocks until ctx is done.
func (a *app) serve(ctx context.Context, metricsAddr string, notifications io.Reader) error {
	if err := a.svc.Start(ctx); err != nil {
		return startError(err)
	}
	a.logger.Info("relay running", "broker", a.cfg.Broker.URL, "state", a.svc.Health().State().String())

	grp, ctx := errgroup.WithContext(ctx)

	if metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))
		srv := &http.Server{Addr: metricsAddr, Handler: mux, ReadHeaderTimeout: shutdownTimeout}

		grp.Go(func() error {
			a.logger.Info("serving metrics", "addr", metricsAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		grp.Go(func() error {
			<-ctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(sctx)
		})
	}

	if notifications != nil {
		grp.Go(func() error {
			a.relayLines(ctx, notifications)
			return nil
		})
	}

	grp.Go(func() error {
		<-ctx.Done()
		return nil
	})

	err := grp.Wait()
	a.logger.Info("relay shutting down")
	return err
}

// relayLines forwards one JSON notification per input line until EOF or
// ctx is done. Bad lines are logged and skipped.
func (a *app) relayLines(ctx context.Context, r io.Reader) {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if line == "" {
				continue
			}
			n, err := wire.DecodeNotification([]byte(line))
			if err != nil {
				a.logger.Warn("skipping bad notification line", "error", err)
				continue
			}
			if err := a.svc.Relay(ctx, n); err != nil {
				a.logger.Warn("relay failed", "title", n.Title, "error", err)
			}
		}
	}
}
