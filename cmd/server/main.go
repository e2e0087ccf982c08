package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang/glog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"ice-broker/internal/adapter/httpapi"
	"ice-broker/internal/app"
	"ice-broker/internal/config"
	"ice-broker/internal/infrastructure"
)

func main() {
	_ = flag.Set("logtostderr", "true")

	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := viper.New()
	var configFile string

	cmd := &cobra.Command{
		Use:   "ice-broker",
		Short: "Serve ICE server configurations with cached relay credentials",
		Long: `ice-broker hands out WebRTC ICE configurations in three tiers:

  discovery   STUN servers only, no network call
  full        STUN plus relay servers from the credential service
  relay       relay servers only, forcing relayed candidates

Credential service failures never fail a request; the response degrades
toward discovery-only instead.

Environment variables use the ICE_BROKER_ prefix, e.g. ICE_BROKER_API_KEY.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(v, configFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			return serve(cmd.Context(), cfg)
		},
	}

	cmd.PersistentFlags().AddGoFlagSet(flag.CommandLine)
	cmd.Flags().StringVarP(&configFile, "config", "c", "", "config file (yaml, json or toml)")
	cmd.Flags().String("listen", "", "HTTP listen address")
	_ = v.BindPFlag("listen_addr", cmd.Flags().Lookup("listen"))
	cmd.Flags().String("unix-socket", "", "also serve on this unix socket")
	_ = v.BindPFlag("unix_socket", cmd.Flags().Lookup("unix-socket"))
	cmd.Flags().String("endpoint", "", "relay credential service URL")
	_ = v.BindPFlag("endpoint", cmd.Flags().Lookup("endpoint"))
	cmd.Flags().StringSlice("discovery", nil, "discovery (STUN) server URIs")
	_ = v.BindPFlag("discovery_servers", cmd.Flags().Lookup("discovery"))
	cmd.Flags().StringSlice("allowed-origin", nil, "extra origins allowed to open the WebSocket")
	_ = v.BindPFlag("allowed_origins", cmd.Flags().Lookup("allowed-origin"))
	cmd.Flags().Bool("prewarm", true, "fetch relay credentials at startup")
	_ = v.BindPFlag("prewarm", cmd.Flags().Lookup("prewarm"))

	return cmd
}

func serve(ctx context.Context, cfg config.Config) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := app.New(cfg)
	if cfg.APIKey == "" {
		glog.Warning("no api_key configured; serving discovery-only configurations")
	} else if cfg.Prewarm {
		a.Broker.Prewarm()
	}

	srv := &http.Server{
		Handler:           httpapi.NewHandler(a.Interactor, a.Metrics.Registry, httpapi.WithAllowedOrigins(cfg.AllowedOrigins...)),
		ReadHeaderTimeout: 5 * time.Second,
	}

	var listeners []net.Listener
	tcp, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.ListenAddr, err)
	}
	listeners = append(listeners, tcp)
	glog.Infof("HTTP server listening on %s", tcp.Addr())

	if cfg.UnixSocket != "" {
		uds, err := infrastructure.NewUDSListener(cfg.UnixSocket)
		if err != nil {
			_ = tcp.Close()
			return fmt.Errorf("listen %s: %w", cfg.UnixSocket, err)
		}
		listeners = append(listeners, uds)
		glog.Infof("HTTP server listening on unix:%s", cfg.UnixSocket)
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, l := range listeners {
		g.Go(func() error {
			if err := srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	glog.Flush()
	return err
}
