package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"

	"chunkrelay/pkg/app"
	"chunkrelay/pkg/config"
	"chunkrelay/pkg/hub"
	"chunkrelay/pkg/rpc"
	"chunkrelay/pkg/server"
	"chunkrelay/pkg/types"
)

func main() {
	// 1. Load Config
	cfgFile := flag.String("config", "", "config file (default is ./config.yaml or $HOME/.relay/config.yaml)")
	listen := flag.String("listen", "", "listen address (overrides hub.listen)")
	seedDir := flag.String("seed", "", "import every file under this directory as media messages before serving")
	container := flag.Int64("container", 0, "container the seeded messages go into")
	topic := flag.String("topic", "", "create a topic with this title for the seeded messages")
	flag.Parse()

	if err := config.Load(*cfgFile); err != nil {
		log.Fatalf("❌ Config error: %v", err)
	}
	settings, err := config.Current()
	if err != nil {
		log.Fatalf("❌ Config error: %v", err)
	}
	if *listen != "" {
		settings.Hub.Listen = *listen
	}
	if err := settings.Validate(); err != nil {
		log.Fatalf("❌ Config error: %v", err)
	}

	logger, logCloser, err := app.NewLogger(settings.Log, os.Stderr)
	if err != nil {
		log.Fatalf("❌ Logger error: %v", err)
	}
	defer logCloser.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 2. Init Hub
	h, err := app.NewHub(ctx, settings, logger)
	if err != nil {
		log.Fatalf("❌ Failed to initialize hub: %v", err)
	}
	defer h.Close()
	fmt.Println("✅ Relay hub initialized.")

	// 3. Seed (可选)
	if *seedDir != "" {
		if *container == 0 {
			log.Fatal("❌ -seed requires -container")
		}
		res, err := h.Hub.Seed(ctx, *seedDir, hub.SeedOptions{
			Container: types.ContainerID(*container),
			Topic:     *topic,
		})
		if err != nil {
			log.Fatalf("❌ Seed failed: %v", err)
		}
		fmt.Printf("🌱 Seeded %d files (%d bytes, %d skipped) into %d", res.Items, res.Bytes, res.Skipped, *container)
		if res.Topic != 0 {
			fmt.Printf(" topic %d", res.Topic)
		}
		fmt.Println()
	}

	// 4. Setup Network
	lis, err := net.Listen("tcp", settings.Hub.Listen)
	if err != nil {
		log.Fatalf("❌ Failed to listen on %s: %v", settings.Hub.Listen, err)
	}

	// 5. Setup gRPC Server
	grpcServer := server.New(logger)
	rpc.RegisterPlatformServer(grpcServer, rpc.NewServer(h.Hub, logger))

	go func() {
		fmt.Printf("🚀 gRPC Server listening on %s...\n", lis.Addr())
		if err := grpcServer.Serve(lis); err != nil {
			logger.Error("serve failed", "error", err)
			stop()
		}
	}()

	// 6. Graceful Shutdown
	<-ctx.Done()
	fmt.Println("\n⚠️  Shutting down server...")
	grpcServer.GracefulStop()
	fmt.Println("👋 Server stopped.")
}
