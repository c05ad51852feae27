package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/kairoslabs/kairos/internal/docstore"
	"github.com/kairoslabs/kairos/internal/notebook"
)

func runStats() {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	fs.Parse(os.Args[1:])

	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "usage: kairos stats <notebook-dir>")
		os.Exit(1)
	}
	dir := fs.Arg(0)

	raw, err := os.ReadFile(filepath.Join(dir, "notebook.json"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "read notebook: %v\n", err)
		os.Exit(1)
	}

	var snap struct {
		Name         string            `json:"name"`
		Sources      []notebook.Source `json:"sources"`
		LiveSources  []notebook.Source `json:"live_sources"`
		Conversation []json.RawMessage `json:"conversation"`
		Generations  []json.RawMessage `json:"generations"`
	}
	if err := json.Unmarshal(raw, &snap); err != nil {
		fmt.Fprintf(os.Stderr, "decode notebook: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Notebook:        %s\n", snap.Name)
	fmt.Printf("Sources:         %d\n", len(snap.Sources))
	fmt.Printf("Live sources:    %d\n", len(snap.LiveSources))
	fmt.Printf("Conversation:    %d messages\n", len(snap.Conversation))
	fmt.Printf("Generations:     %d\n", len(snap.Generations))

	docs := 0
	for _, src := range snap.Sources {
		docs += len(src.IDs)
	}
	segs := 0
	for _, src := range snap.LiveSources {
		segs += len(src.IDs)
	}
	fmt.Printf("Indexed chunks:  %d (%d from live sources)\n", docs+segs, segs)

	st, err := docstore.Open(notebook.IndexPath(dir), nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open index: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	for _, src := range snap.LiveSources {
		missing := 0
		for _, id := range src.IDs {
			if _, err := st.Get(id); err != nil {
				missing++
			}
		}
		if missing > 0 {
			fmt.Printf("WARNING: live source %s has %d ids missing from the index\n", src.ID, missing)
		}
	}
}
