package main

import (
	"github.com/spf13/cobra"
	"github.com/vitwit/web3checkout/clients"
	"github.com/vitwit/web3checkout/proxy"
)

var listenAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the order proxy, client log sink and metrics",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext()
		defer stop()

		addr := cfg.ListenAddr
		if listenAddr != "" {
			addr = listenAddr
		}

		orders := clients.NewOrderClient(cfg.OrderURL, clients.NewHTTPClient(cfg.HTTPTimeout()))
		rec, prom := recorder()

		opts := []proxy.Option{
			proxy.WithLogger(log),
			proxy.WithMetrics(rec),
			proxy.WithTimeout(cfg.HTTPTimeout()),
			proxy.WithCORSOrigins(cfg.CORSOrigins...),
		}
		if prom != nil {
			opts = append(opts, proxy.WithMetricsHandler(prom.Handler()))
		}

		return proxy.NewServer(orders, opts...).RunWithContext(ctx, addr)
	},
}

func init() {
	serveCmd.Flags().StringVar(&listenAddr, "listen", "", "listen address, overrides listen_addr")
}
