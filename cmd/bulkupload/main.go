// Command bulkupload uploads a local directory tree to a remote item and
// resumes where the last run stopped.
package main

import (
	"context"
	"fmt"
	"os"
	"syscall"

	"github.com/Ning0612/bulkupload/internal/cancellation"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	token := cancellation.New(context.Background())
	stop := token.NotifyOnSignal(func(os.Signal) {
		fmt.Fprintln(os.Stderr, "\nForced exit, the file in flight will be retried next run")
		os.Exit(exitCancelled)
	}, os.Interrupt, syscall.SIGTERM)
	defer stop()

	c := newCLI(os.Stdin, os.Stdout, os.Stderr)
	code := c.run(token.Context(), os.Args[1:])

	stop()
	os.Exit(code)
}
