// Command rollcall is the operator CLI: list, scan, scan-images, export and
// clear against the configured attendance storage.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/afero"

	"github.com/BrandonDHaskell/Rollcall/server/internal/config"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		os.Stderr.WriteString("rollcall: " + err.Error() + "\n")
		os.Exit(2)
	}

	c := &cli{
		cfg:    cfg,
		fs:     afero.NewOsFs(),
		stdin:  os.Stdin,
		stdout: os.Stdout,
		stderr: os.Stderr,
	}
	os.Exit(c.run(ctx, os.Args[1:]))
}
