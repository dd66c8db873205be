package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ochairo/tally/internal/domain-adapters/gateways"
	"github.com/ochairo/tally/internal/external-adapters/gpg"
)

func runVerify(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("verify", flag.ExitOnError)
	var (
		keyFile    = fs.String("key", "", "Public key (armored or binary) of the report signer")
		sumsFile   = fs.String("sums", "", "SHA256SUMS list to check")
		resultsDir = fs.String("results-dir", "results", "Directory holding the reports (with --date)")
		date       = fs.String("date", "", "Verify every report of this date (YYYY-MM-DD)")
	)

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: tally verify [options] [file...]

Verify detached signatures (<file>.asc) and checksum lists of survey reports.

Options:
`)
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, `
Examples:
  # Verify one report signature
  tally verify --key signer.asc results/2024-02-01-by-repository.json

  # Verify every report of a date, signatures and checksums
  tally verify --key signer.asc --date 2024-02-01

  # Verify checksums only
  tally verify --sums results/2024-02-01-SHA256SUMS
`)
	}

	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing flags: %v\n", err)
		return 1
	}

	files := fs.Args()
	sums := *sumsFile
	if *date != "" {
		reports, err := gateways.NewArchiveFinder().FindReports(*resultsDir, *date)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		files = append(files, reports...)
		if sums == "" {
			candidate := filepath.Join(*resultsDir, *date+gateways.SumsSuffix)
			if fileExists(candidate) {
				sums = candidate
			}
		}
	}

	if len(files) == 0 && sums == "" {
		fmt.Fprintf(os.Stderr, "Error: a file, --date or --sums is required\n\n")
		fs.Usage()
		return 1
	}
	if len(files) > 0 && *keyFile == "" {
		fmt.Fprintf(os.Stderr, "Error: --key is required to verify signatures\n\n")
		fs.Usage()
		return 1
	}

	if err := executeVerify(ctx, *keyFile, sums, files); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func executeVerify(ctx context.Context, keyFile, sumsFile string, files []string) error {
	verified, failed := 0, 0
	report := func(name string, err error) {
		if err != nil {
			fmt.Printf("FAIL  %s: %v\n", name, err)
			failed++
			return
		}
		fmt.Printf("OK    %s\n", name)
		verified++
	}

	var verifier *gpg.Verifier
	if keyFile != "" {
		verifier = gpg.NewVerifier()
		if err := verifier.ImportKeyFromFile(keyFile); err != nil {
			return err
		}
	}

	for _, file := range files {
		report(filepath.Base(file), verifier.VerifyFile(file, file+gpg.SignatureSuffix))
	}

	if sumsFile != "" {
		// the checksum list is signed like every report
		if verifier != nil && fileExists(sumsFile+gpg.SignatureSuffix) {
			report(filepath.Base(sumsFile)+gpg.SignatureSuffix, verifier.VerifyFile(sumsFile, sumsFile+gpg.SignatureSuffix))
		}

		names, err := gateways.NewChecksumVerifier().VerifySumsFile(ctx, sumsFile)
		if err == nil {
			fmt.Printf("      %s lists %s\n", filepath.Base(sumsFile), strings.Join(names, ", "))
		}
		report(filepath.Base(sumsFile), err)
	}

	fmt.Printf("\n%d verified, %d failed\n", verified, failed)
	if failed > 0 {
		return fmt.Errorf("%d verification(s) failed", failed)
	}
	return nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
