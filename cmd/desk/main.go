// Package main starts the desk bot and handles termination.
//
// The process is a transport adapter around order progression and operator
// dispatch so workflow state remains owned by the flow domain.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	deskcmd "github.com/louisbranch/bankdesk/internal/cmd/desk"
)

func main() {
	cfg, err := deskcmd.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		log.Fatalf("parse flags: %v", err)
	}
	log.SetPrefix("[DESK] ")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := deskcmd.Run(ctx, cfg); err != nil {
		log.Fatalf("failed to serve: %v", err)
	}
}
