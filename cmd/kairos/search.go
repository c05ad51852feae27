package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kairoslabs/kairos/internal/config"
	"github.com/kairoslabs/kairos/internal/docstore"
	"github.com/kairoslabs/kairos/internal/embed"
	"github.com/kairoslabs/kairos/internal/notebook"
)

func runSearch() {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	k := fs.Int("k", 5, "number of results")
	fs.Parse(os.Args[1:])

	if fs.NArg() < 2 {
		fmt.Fprintln(os.Stderr, "usage: kairos search [-k N] <notebook-dir> <query>")
		os.Exit(1)
	}
	dir := fs.Arg(0)
	query := strings.Join(fs.Args()[1:], " ")

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	cfg.AutoPopulateFromEnv()

	embedder := embed.NewOllamaEmbedder(cfg.Ingest.EmbedEndpoint, cfg.Ingest.EmbedModel)

	st, err := docstore.Open(notebook.IndexPath(dir), embedder)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open index: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	start := time.Now()
	docs, err := st.SimilaritySearch(ctx, query, *k)
	if err != nil {
		fmt.Fprintf(os.Stderr, "search: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("%d results in %v\n\n", len(docs), time.Since(start).Round(time.Millisecond))
	for i, doc := range docs {
		text := doc.Text
		if len(text) > 200 {
			text = text[:200] + "…"
		}
		fmt.Printf("%2d. [%s] idx=%d\n    %s\n\n", i+1, doc.ID, doc.Index(), text)
	}
}
