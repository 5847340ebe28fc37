// Command cccopy synchronizes a per-user Work tree with a shared
// Production tree: download, upload, save, and status.
package main

import (
	"os"

	"github.com/rs/zerolog"

	"github.com/re-cinq/cccopy/internal/cccerr"
	"github.com/re-cinq/cccopy/internal/cli"
)

func main() {
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}).With().Timestamp().Logger()

	err := cli.Execute(logger)
	os.Exit(cccerr.ExitCode(err))
}
