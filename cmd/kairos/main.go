// Command kairos is the debugging and maintenance CLI for saved
// notebooks.
//
// Usage:
//
//	kairos                       Show help
//	kairos stats <dir>           Notebook and index statistics
//	kairos search <dir> <query>  Query a notebook's document index
//	kairos config                Print the resolved configuration
package main

import (
	"fmt"
	"os"
)

const usage = `kairos - notebook debug & maintenance CLI

Usage:
  kairos <command> [args]

Commands:
  stats <dir>           Notebook and document index statistics
  search <dir> <query>  Similarity search against a notebook's index
  config                Print the resolved configuration

Environment:
  OPENAI_API_KEY   OpenAI API key (picked up into the config)
  OLLAMA_HOST      Ollama endpoint for embeddings and generation

Run 'kairos <command> -h' for command-specific help.
`

func main() {
	if len(os.Args) < 2 {
		fmt.Print(usage)
		os.Exit(0)
	}

	cmd := os.Args[1]
	// Strip the program name + subcommand so flag sets see only their flags
	os.Args = os.Args[1:]

	switch cmd {
	case "stats":
		runStats()
	case "search":
		runSearch()
	case "config":
		runConfig()
	case "-h", "--help", "help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "kairos: unknown command %q\n\n", cmd)
		fmt.Print(usage)
		os.Exit(1)
	}
}
