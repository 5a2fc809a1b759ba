package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"time"

	gfshutdown "github.com/gelmium/graceful-shutdown"

	"github.com/Tyrowin/presence/internal/server"
)

const shutdownTimeout = 15 * time.Second

func main() {
	log.Println("Starting Presence Server...")

	config := server.NewConfigFromEnv()
	server.SetConfig(config)

	gateway, err := server.NewGatewayFromConfig(*config)
	if err != nil {
		log.Fatalf("Failed to build gateway: %v", err)
	}

	startCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	err = gateway.Start(startCtx)
	cancel()
	if err != nil {
		log.Fatalf("Failed to start gateway: %v", err)
	}

	mux := server.SetupRoutes(gateway)
	httpServer := server.CreateServer(config.Port, mux)
	log.Printf("Presence node %s ready", gateway.NodeID())

	go func() {
		if err := server.StartServer(httpServer); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("HTTP server error: %v", err)
		}
	}()

	wait := gfshutdown.GracefulShutdown(
		context.Background(),
		shutdownTimeout,
		map[string]gfshutdown.Operation{
			"presence-server": func(ctx context.Context) error {
				log.Println("Graceful shutdown initiated...")
				httpErr := server.ShutdownServer(ctx, httpServer)
				gatewayErr := gateway.Shutdown(shutdownTimeout / 2)
				return errors.Join(httpErr, gatewayErr)
			},
		},
	)

	exitCode := <-wait
	log.Printf("Server exited with code: %d", exitCode)
	os.Exit(exitCode)
}
