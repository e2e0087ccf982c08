// Command iceconfig prints one connectivity configuration as JSON, using
// the same settings and credential service as the server.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/golang/glog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"ice-broker/internal/app"
	"ice-broker/internal/config"
	"ice-broker/internal/domain"
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
	var (
		configFile string
		tierName   string
		check      bool
	)

	cmd := &cobra.Command{
		Use:          "iceconfig",
		Short:        "Print an ICE configuration tier as JSON",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(v, configFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			tier, ok := domain.ParseTier(tierName)
			if !ok {
				return fmt.Errorf("unknown tier %q", tierName)
			}

			a := app.New(cfg)
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()
			out := a.Interactor.Build(ctx, tier)

			if check {
				// Make sure pion accepts what we produced.
				pc, err := infrastructure.NewWebRTCManager().NewPeerConnection(out)
				if err != nil {
					return fmt.Errorf("peer connection rejected config: %w", err)
				}
				_ = pc.Close()
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			err = enc.Encode(out)
			glog.Flush()
			return err
		},
	}

	cmd.PersistentFlags().AddGoFlagSet(flag.CommandLine)
	cmd.Flags().StringVarP(&configFile, "config", "c", "", "config file (yaml, json or toml)")
	cmd.Flags().StringVarP(&tierName, "tier", "t", "full", "discovery, full or relay")
	cmd.Flags().BoolVar(&check, "check", false, "open a pion PeerConnection with the result")
	cmd.Flags().String("endpoint", "", "relay credential service URL")
	_ = v.BindPFlag("endpoint", cmd.Flags().Lookup("endpoint"))

	return cmd
}
