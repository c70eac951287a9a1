// albionctl runs ingestion batches and inspects the collector's stores
// from the command line. It reads the same environment as the server.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/codyseavey/albion-tracker/cmd/albionctl/commands"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	commands.ExecuteContext(ctx)
}
