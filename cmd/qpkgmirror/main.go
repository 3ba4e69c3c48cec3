package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jgivc/qpkgmirror/internal/app"
)

func main() {
	cfgFileName := flag.String("c", "config.yml", "Path to config file")
	force := flag.Bool("force", false, "Ignore the catalog diff and process the whole catalog")
	flag.Parse()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-c
		fmt.Println("Received termination signal. Shutting down...")
		cancel()
	}()

	os.Exit(app.New(*cfgFileName, *force).Run(ctx))
}
