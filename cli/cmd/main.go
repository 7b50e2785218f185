// Command ztools creates and publishes ZTools plugins.
package main

import (
	"context"
	"os"
	"os/signal"

	"github.com/byte4ever/plugin_publish/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)

	code := cli.Execute(ctx, os.Args[1:], os.Stdout, os.Stderr)

	stop()
	os.Exit(code)
}
