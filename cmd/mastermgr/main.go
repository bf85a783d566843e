package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/cuemby/dfms/pkg/log"
	"github.com/cuemby/dfms/pkg/manager"
	"github.com/cuemby/dfms/pkg/metrics"
	"github.com/cuemby/dfms/pkg/rpcapi"
	"github.com/spf13/cobra"
)

var (
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "mastermgr",
	Short:   "Master Manager - composite manager over a set of Island Managers",
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("mastermgr version %s\nCommit: %s\n", Version, Commit))
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	cobra.OnInitialize(initLogging)
	rootCmd.AddCommand(startCmd)
}

func initLogging() {
	level, _ := rootCmd.PersistentFlags().GetString("log-level")
	jsonOut, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(log.Config{Level: log.Level(level), JSONOutput: jsonOut})
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start a Master Manager",
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")
		listenAddr, _ := cmd.Flags().GetString("listen-addr")
		metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
		islandFlags, _ := cmd.Flags().GetStringSlice("island")

		children := make(map[string]manager.Manager, len(islandFlags))
		for _, isf := range islandFlags {
			childName, addr, err := splitNameAddr(isf)
			if err != nil {
				return err
			}
			client, err := rpcapi.Dial(addr)
			if err != nil {
				return fmt.Errorf("dial island %s: %w", childName, err)
			}
			children[childName] = client
		}

		mgr, err := manager.NewCompositeManager(name, listenAddr, children)
		if err != nil {
			return fmt.Errorf("create master manager: %w", err)
		}

		metrics.SetVersion(Version)
		metrics.SetCriticalComponents("rpc", "children")
		metrics.RegisterComponent("children", len(children) > 0, "")
		mgr.SetChildHealthCallback(func(childName string, healthy bool, message string) {
			metrics.RegisterComponent("child:"+childName, healthy, message)
		})

		srv := rpcapi.NewServer(mgr)
		go func() {
			if err := srv.Serve(listenAddr); err != nil {
				metrics.RegisterComponent("rpc", false, err.Error())
				log.WithComponent("mastermgr").Error().Err(err).Msg("rpc server stopped")
			}
		}()
		metrics.RegisterComponent("rpc", true, "")

		http.Handle("/metrics", metrics.Handler())
		http.Handle("/health", metrics.HealthHandler())
		http.Handle("/ready", metrics.ReadyHandler())
		http.Handle("/live", metrics.LivenessHandler())
		go func() {
			if err := http.ListenAndServe(metricsAddr, nil); err != nil && err != http.ErrServerClosed {
				log.WithComponent("mastermgr").Error().Err(err).Msg("metrics server stopped")
			}
		}()
		fmt.Printf("Master Manager %q listening on %s over %d island(s)\n", name, listenAddr, len(children))

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		<-sigCh
		fmt.Println("Shutting down master manager...")
		srv.Stop()
		return mgr.Shutdown()
	},
}

func splitNameAddr(s string) (name, addr string, err error) {
	parts := strings.SplitN(s, "=", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid --island value %q, expected name=host:port", s)
	}
	return parts[0], parts[1], nil
}

func init() {
	startCmd.Flags().String("name", "master", "Name of this master manager")
	startCmd.Flags().String("listen-addr", "127.0.0.1:7300", "RPC listen address")
	startCmd.Flags().String("metrics-addr", "127.0.0.1:9300", "Prometheus metrics listen address")
	startCmd.Flags().StringSlice("island", nil, "Child island manager as name=host:port, repeatable")
}
