// rclink - a keyboard remote control for serial-linked RC vehicles.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"rclink/cmd"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := cmd.Execute(ctx, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "rclink: %v\n", err)
		os.Exit(1)
	}
}
