package main

import (
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/dots-platform/skrecovery-app/api/nodehandler"
	"github.com/dots-platform/skrecovery-app/cmd/flags"
	"github.com/dots-platform/skrecovery-app/httpserver"
	"github.com/dots-platform/skrecovery-app/node"
	"github.com/dots-platform/skrecovery-app/transport"
	"github.com/urfave/cli/v2"
)

var nodeFlags = []cli.Flag{
	&cli.StringFlag{
		Name:  "listen-addr",
		Value: "127.0.0.1:8080",
		Usage: "address to listen on for the client API",
	},
	flags.RankFlag,
	flags.PeersFlag,
	flags.PeersSRVFlag,
	flags.NameserverFlag,
	flags.PeerListenAddrFlag,
	flags.StorageFlag,
	flags.LogServiceFlagFn("skrecovery-node"),
}

func main() {
	app := &cli.App{
		Name:  "skrecovery-node",
		Usage: "Serve one node of a secret recovery and threshold signing cluster",
		Flags: append(append(nodeFlags, flags.ClusterFlags...), flags.CommonFlags...),
		Action: func(cCtx *cli.Context) error {
			logger := flags.SetupLogger(cCtx)

			cfg, err := flags.ClusterConfig(cCtx)
			if err != nil {
				logger.Error("Invalid cluster parameters", "err", err)
				return err
			}
			self := cCtx.Int(flags.RankFlag.Name)

			store, err := flags.StorageBackend(cCtx, logger)
			if err != nil {
				logger.Error("Failed to open storage", "err", err)
				return err
			}
			logger.Info("Storage ready", "backend", store.Name())

			book, err := flags.AddressBook(cCtx)
			if err != nil {
				logger.Error("Invalid peer configuration", "err", err)
				return err
			}

			peerAddr := cCtx.String(flags.PeerListenAddrFlag.Name)
			ln, err := net.Listen("tcp", peerAddr)
			if err != nil {
				logger.Error("Failed to listen for peers", "addr", peerAddr, "err", err)
				return err
			}
			peers := transport.NewPeerListener(ln, logger)
			defer peers.Close()

			nd, err := node.New(cfg, self, store, &transport.TCPDialer{Listener: peers, Self: self, Book: book}, logger)
			if err != nil {
				logger.Error("Failed to create node", "err", err)
				return err
			}

			serverCfg := flags.ConfigureServer(cCtx, logger, cCtx.String("listen-addr"))
			server, err := httpserver.New(serverCfg, nodehandler.NewHandler(nd, logger))
			if err != nil {
				logger.Error("Failed to create server", "err", err)
				return err
			}
			nd.SetObserver(server.Metrics())

			logger.Info("Starting node", "rank", self, "parties", cfg.N, "threshold", cfg.T, "peerAddr", peers.Addr().String())
			server.RunInBackground()

			exit := make(chan os.Signal, 1)
			signal.Notify(exit, os.Interrupt, syscall.SIGTERM)
			<-exit
			logger.Info("Shutdown signal received")

			server.Shutdown()
			logger.Info("Server shutdown complete")
			return nil
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
