// Command kairosd runs the research notebook backend: document
// ingestion, live audio capture and transcription, semantic search,
// and the agent-backed question answering, all behind an HTTP API.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/kairoslabs/kairos/internal/agent"
	"github.com/kairoslabs/kairos/internal/audio"
	"github.com/kairoslabs/kairos/internal/config"
	"github.com/kairoslabs/kairos/internal/docstore"
	"github.com/kairoslabs/kairos/internal/embed"
	"github.com/kairoslabs/kairos/internal/event"
	"github.com/kairoslabs/kairos/internal/job"
	"github.com/kairoslabs/kairos/internal/live"
	"github.com/kairoslabs/kairos/internal/logging"
	"github.com/kairoslabs/kairos/internal/notebook"
	"github.com/kairoslabs/kairos/internal/server"
	"github.com/kairoslabs/kairos/internal/speech"
	"github.com/kairoslabs/kairos/internal/watch"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	cfg.AutoPopulateFromEnv()

	dataDir := config.DataDir()
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		log.Fatalf("Failed to create data directory: %v", err)
	}
	if err := logging.Init(dataDir); err != nil {
		log.Fatalf("Failed to initialize logging: %v", err)
	}
	defer logging.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	embedder := embed.NewOllamaEmbedder(cfg.Ingest.EmbedEndpoint, cfg.Ingest.EmbedModel)
	providers := providersFromConfig(cfg)

	speechLoader := speech.NewLoader(func() (speech.Engine, error) {
		return speech.NewWhisperCLI(cfg.Speech.WhisperBin, cfg.Speech.Model, cfg.Speech.WhisperArgs)
	})

	ffmpegBin := cfg.Audio.FFmpegBin
	if ffmpegBin == "" {
		ffmpegBin = "ffmpeg"
	}
	opener := audio.NewFFmpegOpener(ffmpegBin, cfg.Audio.InputFormat, cfg.Audio.SampleRate)

	// Each notebook gets its own document index: on disk when the
	// notebook has a directory, otherwise in memory until first save.
	newDeps := func(dir string) (notebook.Deps, error) {
		dbPath := ":memory:"
		if dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return notebook.Deps{}, err
			}
			dbPath = notebook.IndexPath(dir)
		}
		st, err := docstore.Open(dbPath, embedder)
		if err != nil {
			return notebook.Deps{}, err
		}
		return notebook.Deps{
			Store:        st,
			Provider:     providers,
			AudioOpener:  opener,
			SpeechLoader: speechLoader,
			Pipeline: live.Config{
				SampleRate:     cfg.Audio.SampleRate,
				SegmentSeconds: cfg.Audio.SegmentSeconds,
				Workers:        cfg.Speech.Workers,
			},
			ChunkWords:   cfg.Ingest.ChunkWords,
			SearchK:      cfg.Ingest.SearchK,
			SummaryGroup: cfg.Ingest.SummaryGroup,
		}, nil
	}

	registry := notebook.NewRegistry()
	sched := job.NewScheduler(registry.StateLock())
	bus := event.NewBus()

	if cfg.WatchDir != "" {
		if err := startDropFolder(ctx, cfg.WatchDir, registry, sched, newDeps); err != nil {
			logging.Warn("Drop folder disabled", "dir", cfg.WatchDir, "error", err)
		}
	}

	srv := server.New(registry, sched, bus, newDeps, cfg.Listen)
	if err := srv.Start(ctx); err != nil {
		logging.Error("Server stopped", "error", err)
	}

	// Let in-flight jobs and captures finish before closing stores.
	sched.Wait()
	registry.Shutdown()
	bus.Close()
	logging.Info("Shutdown complete")
}

// providersFromConfig builds the model fallback chain.
func providersFromConfig(cfg *config.Config) *agent.Manager {
	m := agent.NewManager()
	if cfg.Models.OpenAI.Enabled && cfg.Models.OpenAI.APIKey != "" {
		m.Add(agent.NewOpenAIProvider(cfg.Models.OpenAI.APIKey, cfg.Models.OpenAI.Model))
	}
	if cfg.Models.Ollama.Enabled {
		m.Add(agent.NewOllamaProvider(cfg.Models.Ollama.Endpoint, cfg.Models.Ollama.Model))
	}
	if cfg.Models.OpenAI.Priority <= cfg.Models.Ollama.Priority {
		m.SetPreferred("openai")
	} else {
		m.SetPreferred("ollama")
	}
	return m
}

// startDropFolder creates the inbox notebook and routes new files in
// dir into it as background ingest jobs.
func startDropFolder(ctx context.Context, dir string, registry *notebook.Registry, sched *job.Scheduler, newDeps server.DepsFactory) error {
	deps, err := newDeps("")
	if err != nil {
		return err
	}
	inboxID, inbox := registry.Create("inbox", "", deps)

	w, err := watch.New(func(typ, path string) {
		sched.Submit(inboxID, true, func() (string, error) {
			return inbox.AddSource(context.Background(), typ, path)
		})
	})
	if err != nil {
		return err
	}
	if err := w.Watch(ctx, dir); err != nil {
		w.Stop()
		return err
	}

	go func() {
		<-ctx.Done()
		w.Stop()
	}()
	return nil
}
