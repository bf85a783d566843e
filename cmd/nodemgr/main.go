package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/cuemby/dfms/pkg/log"
	"github.com/cuemby/dfms/pkg/manager"
	"github.com/cuemby/dfms/pkg/metrics"
	"github.com/cuemby/dfms/pkg/rpcapi"
	"github.com/cuemby/dfms/pkg/storage"
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
	Use:     "nodemgr",
	Short:   "Node Manager - local Data Object registry and deploy surface",
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("nodemgr version %s\nCommit: %s\n", Version, Commit))
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
	Short: "Start a Node Manager",
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")
		listenAddr, _ := cmd.Flags().GetString("listen-addr")
		metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
		fileDir, _ := cmd.Flags().GetString("file-dir")
		dataDir, _ := cmd.Flags().GetString("data-dir")

		var store storage.Store
		if dataDir != "" {
			s, err := storage.NewBoltStore(dataDir)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer s.Close()
			store = s
		}

		mgr, err := manager.NewNodeManager(manager.Config{
			Name:       name,
			ListenAddr: listenAddr,
			FileDir:    fileDir,
			Store:      store,
		})
		if err != nil {
			return fmt.Errorf("create node manager: %w", err)
		}
		mgr.SetRemoteNotifier(rpcapi.Notifier())
		mgr.SetRemoteReader(rpcapi.Reader())

		metrics.SetVersion(Version)
		metrics.RegisterComponent("store", dataDir == "" || store != nil, "")

		srv := rpcapi.NewServer(mgr)
		go func() {
			if err := srv.Serve(listenAddr); err != nil {
				metrics.RegisterComponent("rpc", false, err.Error())
				log.WithComponent("nodemgr").Error().Err(err).Msg("rpc server stopped")
			}
		}()
		metrics.RegisterComponent("rpc", true, "")

		http.Handle("/metrics", metrics.Handler())
		http.Handle("/health", metrics.HealthHandler())
		http.Handle("/ready", metrics.ReadyHandler())
		http.Handle("/live", metrics.LivenessHandler())
		go func() {
			if err := http.ListenAndServe(metricsAddr, nil); err != nil && err != http.ErrServerClosed {
				log.WithComponent("nodemgr").Error().Err(err).Msg("metrics server stopped")
			}
		}()
		fmt.Printf("Node Manager %q listening on %s (metrics: http://%s/metrics)\n", name, listenAddr, metricsAddr)

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		<-sigCh
		fmt.Println("Shutting down node manager...")
		srv.Stop()
		return mgr.Shutdown()
	},
}

func init() {
	startCmd.Flags().String("name", "node-1", "Name this manager is addressed by in a parent composite manager")
	startCmd.Flags().String("listen-addr", "127.0.0.1:7100", "RPC listen address")
	startCmd.Flags().String("metrics-addr", "127.0.0.1:9100", "Prometheus metrics listen address")
	startCmd.Flags().String("file-dir", "./nodemgr-data/objects", "Directory for File-backend Data Object content")
	startCmd.Flags().String("data-dir", "./nodemgr-data/store", "Directory for durable session/graph-spec registry (empty disables durability)")
}
