// Package main provides the tally CLI for surveying component library usage across an organization.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	// A missing .env is fine; the environment may already carry the credentials
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	command := os.Args[1]

	// Dispatch to subcommand
	var code int
	switch command {
	case "survey":
		code = runSurvey(ctx, os.Args[2:])
	case "discover":
		code = runDiscover(ctx, os.Args[2:])
	case "verify":
		code = runVerify(ctx, os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", command)
		printUsage()
		code = 1
	}

	stop()
	os.Exit(code)
}

func printUsage() {
	fmt.Println(`tally - Component library usage survey

Usage:
  tally <command> [options]

Commands:
  survey    Download every repository that uses the library and report component usage
  discover  List the repositories a survey would scan
  verify    Verify report signatures and checksums

Environment:
  GITHUB_TOKEN, GH_TOKEN     GitHub API token (required by survey and discover)
  TALLY_SIGNING_PASSPHRASE   Passphrase of the signing key
  TALLY_S3_ACCESS_KEY        Object storage access key
  TALLY_S3_SECRET_KEY        Object storage secret key

Use "tally <command> --help" for more information about a command.`)
}
