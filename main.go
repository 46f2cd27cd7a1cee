package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/borrob/3dbag-runner/internal/commands"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := commands.NewRootCmd().ExecuteContext(ctx); err != nil {
		log.Printf("error: %v", err)
		os.Exit(1)
	}
}
