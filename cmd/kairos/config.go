package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/kairoslabs/kairos/internal/config"
)

func runConfig() {
	fs := flag.NewFlagSet("config", flag.ExitOnError)
	fs.Parse(os.Args[1:])

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	cfg.AutoPopulateFromEnv()

	out, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "encode config: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("config file: %s\n\n%s\n", config.ConfigPath(), out)
}
