// Package server exposes the notebook operations over HTTP. Mutating
// operations return a job id and run asynchronously behind the
// exclusive notebook lock; reads answer synchronously; per-notebook
// progress events stream over server-sent events.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/kairoslabs/kairos/internal/event"
	"github.com/kairoslabs/kairos/internal/job"
	"github.com/kairoslabs/kairos/internal/logging"
	"github.com/kairoslabs/kairos/internal/notebook"
)

// DepsFactory builds the collaborators for a notebook rooted at dir.
// An empty dir means an unsaved, in-memory notebook.
type DepsFactory func(dir string) (notebook.Deps, error)

// Server wires the registry, scheduler and event bus to HTTP routes.
type Server struct {
	registry *notebook.Registry
	sched    *job.Scheduler
	bus      *event.Bus
	newDeps  DepsFactory
	addr     string
}

func New(registry *notebook.Registry, sched *job.Scheduler, bus *event.Bus, newDeps DepsFactory, addr string) *Server {
	return &Server{
		registry: registry,
		sched:    sched,
		bus:      bus,
		newDeps:  newDeps,
		addr:     addr,
	}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /ping/{notebookID}", s.handlePing)
	mux.HandleFunc("GET /events/{notebookID}", s.handleEvents)

	mux.HandleFunc("GET /notebooks/create", s.handleCreate)
	mux.HandleFunc("GET /notebooks/load", s.handleLoad)
	mux.HandleFunc("GET /notebooks/{notebookID}", s.handleGetNotebook)
	mux.HandleFunc("GET /notebooks/{notebookID}/name", s.handleGetName)
	mux.HandleFunc("GET /notebooks/{notebookID}/content", s.handleGetContent)
	mux.HandleFunc("GET /notebooks/{notebookID}/rename", s.handleRename)
	mux.HandleFunc("POST /notebooks/{notebookID}/save", s.handleSave)
	mux.HandleFunc("POST /notebooks/{notebookID}/run", s.handleRun)
	mux.HandleFunc("GET /notebooks/{notebookID}/chat", s.handleChat)
	mux.HandleFunc("POST /notebooks/{notebookID}/ideas", s.handleIdeas)

	mux.HandleFunc("GET /notebooks/{notebookID}/sources", s.handleGetSources)
	mux.HandleFunc("GET /notebooks/{notebookID}/sources/add", s.handleAddSource)
	mux.HandleFunc("GET /notebooks/{notebookID}/sources/{sourceID}", s.handleGetSource)
	mux.HandleFunc("GET /notebooks/{notebookID}/sources/{sourceID}/content", s.handleGetSourceContent)
	mux.HandleFunc("GET /notebooks/{notebookID}/sources/{sourceID}/summary", s.handleSourceSummary)

	mux.HandleFunc("GET /notebooks/{notebookID}/live_sources", s.handleGetLiveSources)
	mux.HandleFunc("GET /notebooks/{notebookID}/live_sources/start", s.handleStartLiveSource)
	mux.HandleFunc("GET /notebooks/{notebookID}/live_sources/running", s.handleRunningLiveSources)
	mux.HandleFunc("GET /notebooks/{notebookID}/live_sources/{sourceID}", s.handleGetLiveSource)
	mux.HandleFunc("GET /notebooks/{notebookID}/live_sources/{sourceID}/summary", s.handleLiveSourceSummary)
	mux.HandleFunc("GET /notebooks/{notebookID}/live_sources/{sourceID}/stop", s.handleStopLiveSource)

	mux.HandleFunc("GET /notebooks/{notebookID}/documents/{documentID}", s.handleGetDocument)
	mux.HandleFunc("GET /notebooks/{notebookID}/conversation", s.handleGetConversation)
	mux.HandleFunc("GET /notebooks/{notebookID}/generations", s.handleGetGenerations)
	mux.HandleFunc("GET /notebooks/{notebookID}/jobs", s.handleListJobs)
	mux.HandleFunc("GET /notebooks/{notebookID}/jobs/{jobID}", s.handleGetJob)

	return corsMiddleware(loggingMiddleware(mux))
}

// Start runs the server until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:        s.addr,
		Handler:     s.Handler(),
		ReadTimeout: 15 * time.Second,
		// No write timeout: the event stream stays open indefinitely.
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	logging.Info("HTTP server listening", "addr", s.addr)
	err := srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("notebookID")
	s.bus.Publish(id, event.FormatSSE("ping", "ping"))
	writeJSON(w, "pong")
}

// handleEvents streams the notebook's event topic until the client
// disconnects or this listener is pruned for not keeping up.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("notebookID")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	flusher.Flush()

	ch := s.bus.Subscribe(id)
	defer s.bus.Unsubscribe(id, ch)

	for {
		select {
		case <-r.Context().Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			if _, err := w.Write([]byte(msg)); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	path := r.URL.Query().Get("path")

	deps, err := s.newDeps(path)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	id, _ := s.registry.Create(name, path, deps)
	writeJSON(w, id)
}

// handleLoad restores a saved notebook. The job id doubles as the new
// notebook id so the client can poll, then address the notebook.
func (s *Server) handleLoad(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		writeErrorMsg(w, http.StatusBadRequest, "path is required")
		return
	}

	jobID := uuid.NewString()
	s.sched.SubmitWithID(jobID, jobID, true, func() (string, error) {
		deps, err := s.newDeps(path)
		if err != nil {
			return "", err
		}
		nb, err := notebook.Load(path, deps)
		if err != nil {
			return "", err
		}
		s.registry.Put(jobID, nb)
		return jobID, nil
	})

	writeJSON(w, jobID)
}

func (s *Server) handleGetNotebook(w http.ResponseWriter, r *http.Request) {
	nb, err := s.notebook(w, r)
	if err != nil {
		return
	}
	writeJSON(w, nb.Snapshot())
}

func (s *Server) handleGetName(w http.ResponseWriter, r *http.Request) {
	nb, err := s.notebook(w, r)
	if err != nil {
		return
	}
	writeJSON(w, nb.Name())
}

func (s *Server) handleGetContent(w http.ResponseWriter, r *http.Request) {
	nb, err := s.notebook(w, r)
	if err != nil {
		return
	}
	writeJSON(w, nb.ContentValue())
}

func (s *Server) handleRename(w http.ResponseWriter, r *http.Request) {
	nb, err := s.notebook(w, r)
	if err != nil {
		return
	}
	s.locked(func() { nb.Rename(r.URL.Query().Get("name")) })
	writeJSON(w, nb.Snapshot())
}

func (s *Server) handleSave(w http.ResponseWriter, r *http.Request) {
	nb, err := s.notebook(w, r)
	if err != nil {
		return
	}
	path := r.URL.Query().Get("path")
	content := decodeBody(r)

	s.submitJob(w, r, true, func() (string, error) {
		return "", nb.Save(content, path)
	})
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	nb, err := s.notebook(w, r)
	if err != nil {
		return
	}
	prompt := r.URL.Query().Get("prompt")
	content := decodeBody(r)

	s.submitJob(w, r, true, func() (string, error) {
		return nb.Run(context.Background(), prompt, content)
	})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	nb, err := s.notebook(w, r)
	if err != nil {
		return
	}
	prompt := r.URL.Query().Get("prompt")

	s.submitJob(w, r, true, func() (string, error) {
		return nb.Chat(context.Background(), prompt)
	})
}

func (s *Server) handleIdeas(w http.ResponseWriter, r *http.Request) {
	nb, err := s.notebook(w, r)
	if err != nil {
		return
	}
	var content string
	if body := decodeBody(r); body != nil {
		if str, ok := body.(string); ok {
			content = str
		}
	}

	s.submitJob(w, r, true, func() (string, error) {
		ideas, err := nb.Ideas(context.Background(), content)
		if err != nil {
			return "", err
		}
		out, err := json.Marshal(ideas)
		return string(out), err
	})
}

func (s *Server) handleGetSources(w http.ResponseWriter, r *http.Request) {
	nb, err := s.notebook(w, r)
	if err != nil {
		return
	}
	writeJSON(w, nb.Sources())
}

func (s *Server) handleAddSource(w http.ResponseWriter, r *http.Request) {
	nb, err := s.notebook(w, r)
	if err != nil {
		return
	}
	typ := r.URL.Query().Get("type")
	origin := r.URL.Query().Get("origin")

	s.submitJob(w, r, true, func() (string, error) {
		return nb.AddSource(context.Background(), typ, origin)
	})
}

func (s *Server) handleGetSource(w http.ResponseWriter, r *http.Request) {
	nb, err := s.notebook(w, r)
	if err != nil {
		return
	}
	src, ok := nb.GetSource(r.PathValue("sourceID"))
	if !ok {
		writeErrorMsg(w, http.StatusNotFound, "source not found")
		return
	}
	writeJSON(w, src)
}

func (s *Server) handleGetSourceContent(w http.ResponseWriter, r *http.Request) {
	nb, err := s.notebook(w, r)
	if err != nil {
		return
	}
	content, err := nb.SourceContent(r.PathValue("sourceID"), false, 0)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, content)
}

func (s *Server) handleSourceSummary(w http.ResponseWriter, r *http.Request) {
	s.summary(w, r, false)
}

func (s *Server) handleLiveSourceSummary(w http.ResponseWriter, r *http.Request) {
	s.summary(w, r, true)
}

func (s *Server) summary(w http.ResponseWriter, r *http.Request, liveSrc bool) {
	nb, err := s.notebook(w, r)
	if err != nil {
		return
	}
	sourceID := r.PathValue("sourceID")
	lastK, _ := strconv.Atoi(r.URL.Query().Get("last_k"))

	s.submitJob(w, r, true, func() (string, error) {
		return nb.Summary(context.Background(), sourceID, liveSrc, lastK)
	})
}

func (s *Server) handleGetLiveSources(w http.ResponseWriter, r *http.Request) {
	nb, err := s.notebook(w, r)
	if err != nil {
		return
	}
	writeJSON(w, nb.LiveSources())
}

func (s *Server) handleStartLiveSource(w http.ResponseWriter, r *http.Request) {
	nb, err := s.notebook(w, r)
	if err != nil {
		return
	}
	var id string
	s.locked(func() {
		id, err = nb.StartLiveSource(r.URL.Query().Get("type"), r.URL.Query().Get("origin"))
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, id)
}

func (s *Server) handleRunningLiveSources(w http.ResponseWriter, r *http.Request) {
	nb, err := s.notebook(w, r)
	if err != nil {
		return
	}
	writeJSON(w, nb.RunningLiveSources())
}

func (s *Server) handleGetLiveSource(w http.ResponseWriter, r *http.Request) {
	nb, err := s.notebook(w, r)
	if err != nil {
		return
	}
	src, ok := nb.GetLiveSource(r.PathValue("sourceID"))
	if !ok {
		writeErrorMsg(w, http.StatusNotFound, "live source not found")
		return
	}
	writeJSON(w, src)
}

func (s *Server) handleStopLiveSource(w http.ResponseWriter, r *http.Request) {
	nb, err := s.notebook(w, r)
	if err != nil {
		return
	}
	s.locked(func() { err = nb.StopLiveSource(r.PathValue("sourceID")) })
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, true)
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	nb, err := s.notebook(w, r)
	if err != nil {
		return
	}
	doc, err := nb.GetDocument(r.PathValue("documentID"))
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, doc)
}

func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	nb, err := s.notebook(w, r)
	if err != nil {
		return
	}
	writeJSON(w, nb.Conversation())
}

func (s *Server) handleGetGenerations(w http.ResponseWriter, r *http.Request) {
	nb, err := s.notebook(w, r)
	if err != nil {
		return
	}
	writeJSON(w, nb.Generations())
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.sched.List(r.PathValue("notebookID")))
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.sched.Poll(r.PathValue("notebookID"), r.PathValue("jobID")))
}

// locked runs fn under the exclusive notebook lock. Synchronous
// mutations serialize with lock-requiring jobs the same way the
// scheduler's locked jobs do.
func (s *Server) locked(fn func()) {
	lock := s.registry.StateLock()
	lock.Lock()
	defer lock.Unlock()
	fn()
}

// notebook resolves the path's notebook id, writing a 404 on miss.
func (s *Server) notebook(w http.ResponseWriter, r *http.Request) (*notebook.Notebook, error) {
	nb, err := s.registry.Get(r.PathValue("notebookID"))
	if err != nil {
		writeError(w, http.StatusNotFound, err)
	}
	return nb, err
}

// submitJob registers work with the scheduler under the path's
// notebook id and answers with the job id.
func (s *Server) submitJob(w http.ResponseWriter, r *http.Request, requiresLock bool, work func() (string, error)) {
	jobID := s.sched.Submit(r.PathValue("notebookID"), requiresLock, work)
	writeJSON(w, jobID)
}

func decodeBody(r *http.Request) any {
	if r.Body == nil {
		return nil
	}
	var body any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		return nil
	}
	return body
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Warn("Response encode failed", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeErrorMsg(w, status, err.Error())
}

func writeErrorMsg(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		logging.Debug("Request handled", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			return
		}
		next.ServeHTTP(w, r)
	})
}
