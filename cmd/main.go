package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/videolens/videolens-backend/internal/app"
)

func main() {
	a, err := app.New()
	if err != nil {
		fmt.Printf("failed to initialize app: %v\n", err)
		os.Exit(1)
	}
	defer a.Close()

	a.Start()

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigc
	a.Log.Info("shutdown signal received", "signal", sig.String())
}
