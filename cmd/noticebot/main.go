// Command noticebot is the entry point for the notice question-answering
// service. It provides a CLI (via Cobra) for ingestion and maintenance,
// plus an HTTP server with a streaming chat API.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/opennotice/noticebot/cmd/noticebot/commands"
)

func main() {
	// .env is optional — ignore a missing file.
	_ = godotenv.Load()

	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
