package main

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/cuemby/dyadgo/pkg/fetchrpc"
	"github.com/cuemby/dyadgo/pkg/log"
	"github.com/cuemby/dyadgo/pkg/metrics"
)

var serveFetchCmd = &cobra.Command{
	Use:   "serve-fetch",
	Short: "Run the reference dyad.fetch server for a producer's managed directory",
	Long: `serve-fetch runs the reference producer-side fetch handler: it serves
files out of --root over the dyad.fetch RPC, and exposes Prometheus metrics
and health endpoints for operators running this as the default backend.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		root, _ := cmd.Flags().GetString("root")
		fetchAddr, _ := cmd.Flags().GetString("fetch-addr")
		httpAddr, _ := cmd.Flags().GetString("http-addr")

		if root == "" {
			return fmt.Errorf("--root is required")
		}

		metrics.RegisterComponent("fetchrpc", true, "")

		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		mux.HandleFunc("/health", metrics.HealthHandler())
		mux.HandleFunc("/ready", metrics.ReadyHandler())
		mux.HandleFunc("/live", metrics.LivenessHandler())

		go func() {
			log.Info(fmt.Sprintf("dyadctl: metrics/health listening on %s", httpAddr))
			if err := http.ListenAndServe(httpAddr, mux); err != nil {
				log.Errorf("dyadctl: http server exited", err)
			}
		}()

		srv := fetchrpc.NewServer(fetchrpc.FileFetchHandler{Root: root})
		log.Info(fmt.Sprintf("dyadctl: serving %s over dyad.fetch on %s", root, fetchAddr))
		return srv.Serve(fetchAddr)
	},
}

func init() {
	serveFetchCmd.Flags().String("root", "", "Producer-managed directory to serve")
	serveFetchCmd.Flags().String("fetch-addr", ":8980", "Address to serve dyad.fetch on")
	serveFetchCmd.Flags().String("http-addr", ":8981", "Address to serve /metrics and health endpoints on")
}
