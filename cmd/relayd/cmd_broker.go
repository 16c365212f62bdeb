package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/spf13/cobra"

	"github.com/notify-relay/relay-go/pkg/discovery"
	"github.com/notify-relay/relay-go/pkg/version"
)

const brokerReadyTimeout = 10 * time.Second

func newBrokerCmd(g *globalFlags) *cobra.Command {
	var (
		host      string
		port      int
		instance  string
		iface     string
		advertise bool
	)

	cmd := &cobra.Command{
		Use:   "broker",
		Short: "Run an embedded NATS broker and announce it over mDNS",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(g)
			if err != nil {
				return err
			}
			logger := newLogger(cfg.Log, os.Stderr)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			srv, err := server.NewServer(&server.Options{
				Host:   host,
				Port:   port,
				NoSigs: true,
				NoLog:  cfg.Log.Level != "debug",
			})
			if err != nil {
				return fmt.Errorf("create broker: %w", err)
			}
			if cfg.Log.Level == "debug" {
				srv.ConfigureLogger()
			}

			go srv.Start()
			if !srv.ReadyForConnections(brokerReadyTimeout) {
				srv.Shutdown()
				return errors.New("embedded broker not ready for connections")
			}
			defer func() {
				srv.Shutdown()
				srv.WaitForShutdown()
			}()
			logger.Info("broker listening", "url", srv.ClientURL())

			if advertise {
				if instance == "" {
					instance = defaultInstanceName()
				}
				adv := discovery.NewAdvertiser(discovery.AdvertiserConfig{Interface: iface})
				err := adv.Advertise(instance, discovery.ServiceTypeNATS, port, discovery.BrokerInfo{
					Version: version.Current,
				})
				if err != nil {
					return err
				}
				defer adv.Stop()
				logger.Info("broker announced", "instance", instance, "service", discovery.ServiceTypeNATS)
			}

			<-ctx.Done()
			logger.Info("broker shutting down")
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&host, "host", "0.0.0.0", "Listen host")
	f.IntVar(&port, "port", discovery.DefaultNATSPort, "Listen port")
	f.StringVar(&instance, "name", "", "mDNS instance name (default relay-broker-<hostname>)")
	f.StringVar(&iface, "interface", "", "Announce on this network interface only")
	f.BoolVar(&advertise, "advertise", true, "Announce the broker over mDNS")
	return cmd
}

func defaultInstanceName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "local"
	}
	host = strings.ReplaceAll(strings.Split(host, ".")[0], " ", "-")
	name := "relay-broker-" + host
	if len(name) > discovery.MaxInstanceNameLen {
		name = name[:discovery.MaxInstanceNameLen]
	}
	return name
}
