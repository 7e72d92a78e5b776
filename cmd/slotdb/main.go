// Command slotdb manages simulation slots in local stores and remote sources.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/soda-auto/soda-sim-sub008/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := cli.Execute(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}
