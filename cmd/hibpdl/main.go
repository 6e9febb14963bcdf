// hibpdl is a fast, multithreaded downloader for "';--have i been pwned?"
// password hashes.
//
// It fetches every SHA-1 range from the Pwned Passwords API and appends
// the records to a compact binary file, 24 bytes per record. Interrupted
// downloads resume from a checkpoint.
package main

import (
	"fmt"
	"os"
	"strings"
)

const version = "1.0.0"

// Exit codes
const (
	ExitSuccess      = 0
	ExitGeneralError = 1
	ExitInvalidArgs  = 2
	ExitLocked       = 3
	ExitStorageError = 4
	ExitInterrupted  = 5
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		return runDownload(nil)
	}

	switch args[0] {
	case "download":
		return runDownload(args[1:])
	case "verify":
		return runVerify(args[1:])
	case "version", "--version":
		fmt.Printf("hibpdl %s\n", version)
		return ExitSuccess
	case "help", "-h", "--help":
		printUsage()
		return ExitSuccess
	}

	// A leading flag means the download command was elided.
	if strings.HasPrefix(args[0], "-") {
		return runDownload(args)
	}

	fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", args[0])
	printUsage()
	return ExitInvalidArgs
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `Usage: hibpdl [command] [options]

Fast, multithreaded downloader for "';--have i been pwned?" password hashes.

Commands:
  download    Fetch SHA-1 hash ranges into a binary output file (default)
  verify      Check an output file for truncation and print statistics
  version     Print the version
  help        Show this help

Run 'hibpdl <command> -h' for command-specific options.`)
}
