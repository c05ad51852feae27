package notebook

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/kairoslabs/kairos/internal/agent"
	"github.com/kairoslabs/kairos/internal/audio"
	"github.com/kairoslabs/kairos/internal/docstore"
	"github.com/kairoslabs/kairos/internal/live"
	"github.com/kairoslabs/kairos/internal/logging"
	"github.com/kairoslabs/kairos/internal/speech"
)

const notebookFile = "notebook.json"
const indexFile = "index.db"

// Deps are the collaborators a notebook needs. The store is owned by
// the notebook once passed in; everything else is shared process-wide.
type Deps struct {
	Store        docstore.Store
	Provider     agent.Provider
	AudioOpener  audio.Opener
	SpeechLoader *speech.Loader
	Pipeline     live.Config
	Loaders      map[string]Loader // nil uses the built-in set
	ChunkWords   int
	SearchK      int
	SummaryGroup int
}

func (d Deps) withDefaults() Deps {
	if d.Loaders == nil {
		d.Loaders = defaultLoaders()
	}
	if d.ChunkWords <= 0 {
		d.ChunkWords = 256
	}
	if d.SearchK <= 0 {
		d.SearchK = 2
	}
	if d.SummaryGroup <= 0 {
		d.SummaryGroup = 3
	}
	return d
}

// Notebook is the guarded aggregate. The internal mutex protects the
// record slices only; operation-level exclusion (one mutating job at a
// time) is the job scheduler's concern, not this mutex's.
type Notebook struct {
	mu           sync.Mutex
	liveMu       sync.Mutex // serializes live-source start/stop end to end
	name         string
	path         string
	sources      []Source
	liveSources  []Source
	conversation []Message
	content      any
	generations  []Generation

	store    docstore.Store
	provider agent.Provider
	agent    *agent.Agent
	pipeline *live.Pipeline
	deps     Deps
}

// New creates a notebook. An empty name gets a generated one.
func New(name, path string, deps Deps) *Notebook {
	if name == "" {
		name = generateName()
	}
	deps = deps.withDefaults()

	nb := &Notebook{
		name:     name,
		path:     path,
		store:    deps.Store,
		provider: deps.Provider,
		deps:     deps,
	}
	nb.agent = agent.New(deps.Provider, []agent.Tool{
		nb.searchTool(),
		agent.NewCalculatorTool(deps.Provider),
	})
	nb.pipeline = live.New(deps.AudioOpener, deps.SpeechLoader, nb, deps.Pipeline)

	logging.Info("Notebook created", "name", name)
	return nb
}

// Load restores a notebook from the directory it was saved to. The
// caller opens the document store for that directory and passes it in
// through deps.
func Load(path string, deps Deps) (*Notebook, error) {
	raw, err := os.ReadFile(filepath.Join(path, notebookFile))
	if err != nil {
		return nil, fmt.Errorf("read notebook: %w", err)
	}

	var snap snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("decode notebook: %w", err)
	}

	nb := New(snap.Name, path, deps)
	nb.sources = snap.Sources
	nb.liveSources = snap.LiveSources
	nb.conversation = snap.Conversation
	nb.content = snap.Content
	nb.generations = snap.Generations

	logging.Info("Notebook loaded", "name", snap.Name, "path", path)
	return nb, nil
}

// IndexPath returns the document store location under a notebook directory.
func IndexPath(dir string) string {
	return filepath.Join(dir, indexFile)
}

func (nb *Notebook) Name() string {
	nb.mu.Lock()
	defer nb.mu.Unlock()
	return nb.name
}

func (nb *Notebook) Path() string {
	nb.mu.Lock()
	defer nb.mu.Unlock()
	return nb.path
}

func (nb *Notebook) Rename(name string) {
	nb.mu.Lock()
	nb.name = name
	nb.mu.Unlock()
}

func (nb *Notebook) ContentValue() any {
	nb.mu.Lock()
	defer nb.mu.Unlock()
	return nb.content
}

// Snapshot returns the persisted shape of the notebook, suitable for
// JSON encoding. Slices are copied so the caller can serialize without
// holding the lock.
func (nb *Notebook) Snapshot() map[string]any {
	nb.mu.Lock()
	defer nb.mu.Unlock()

	return map[string]any{
		"name":         nb.name,
		"sources":      copySources(nb.sources),
		"live_sources": copySources(nb.liveSources),
		"conversation": append([]Message(nil), nb.conversation...),
		"content":      nb.content,
		"generations":  append([]Generation(nil), nb.generations...),
	}
}

// AddSource ingests a one-shot source: load, chunk, index, record.
// Chunk indices are assigned in document order at ingestion time.
func (nb *Notebook) AddSource(ctx context.Context, typ, origin string) (string, error) {
	loader, ok := nb.deps.Loaders[typ]
	if !ok {
		return "", fmt.Errorf("unknown source type %s", typ)
	}

	text, err := loader(ctx, origin)
	if err != nil {
		return "", fmt.Errorf("load source %s: %w", origin, err)
	}

	chunks := splitWords(text, nb.deps.ChunkWords)
	if len(chunks) == 0 {
		return "", fmt.Errorf("source %s has no content", origin)
	}

	docs := make([]docstore.Document, len(chunks))
	for i, chunk := range chunks {
		docs[i] = docstore.Document{
			Text: chunk,
			Metadata: map[string]any{
				"_index": i,
				"type":   typ,
				"origin": origin,
			},
		}
	}

	ids, err := nb.store.AddDocuments(ctx, docs)
	if err != nil {
		return "", fmt.Errorf("index source %s: %w", origin, err)
	}

	id := uuid.NewString()
	nb.mu.Lock()
	nb.sources = append(nb.sources, Source{ID: id, Type: typ, Origin: origin, IDs: ids})
	nb.mu.Unlock()

	logging.Info("Source added", "id", id, "type", typ, "origin", origin, "chunks", len(ids))
	return id, nil
}

// StartLiveSource begins capturing from origin. The live-source id is
// stable across stop/restart of the same origin, and segment numbering
// resumes from the count of already committed documents. liveMu keeps
// the origin lookup, the capture start and the record append atomic:
// two concurrent starts for one origin must resolve to one id, so the
// second is rejected as already capturing rather than minting a twin.
func (nb *Notebook) StartLiveSource(typ, origin string) (string, error) {
	if typ != "sound" {
		return "", fmt.Errorf("unknown live source type %s", typ)
	}

	nb.liveMu.Lock()
	defer nb.liveMu.Unlock()

	nb.mu.Lock()
	var id string
	offset := 0
	isNew := true
	for _, src := range nb.liveSources {
		if src.Origin == origin {
			id = src.ID
			offset = len(src.IDs)
			isNew = false
			break
		}
	}
	if isNew {
		id = uuid.NewString()
	}
	nb.mu.Unlock()

	if err := nb.pipeline.StartCapture(id, typ, origin, offset); err != nil {
		return "", err
	}

	if isNew {
		nb.mu.Lock()
		nb.liveSources = append(nb.liveSources, Source{ID: id, Type: typ, Origin: origin, IDs: []string{}})
		nb.mu.Unlock()
	}

	return id, nil
}

// StopLiveSource stops capturing for id and waits until in-flight
// segments have drained. The live source record is kept for resume.
func (nb *Notebook) StopLiveSource(id string) error {
	nb.liveMu.Lock()
	defer nb.liveMu.Unlock()
	return nb.pipeline.StopCapture(id)
}

// RunningLiveSources lists actively capturing live-source ids.
func (nb *Notebook) RunningLiveSources() []string {
	return nb.pipeline.Running()
}

// CommitTranscript indexes one transcribed segment and appends its
// document id to the owning live source. Called by the transcriber
// workers; append order follows completion order, not segment order.
func (nb *Notebook) CommitTranscript(ctx context.Context, seg live.Segment, text string) error {
	ids, err := nb.store.AddDocuments(ctx, []docstore.Document{{
		Text: text,
		Metadata: map[string]any{
			"_index": seg.Index,
			"type":   seg.Type,
			"origin": seg.Origin,
		},
	}})
	if err != nil {
		return fmt.Errorf("index segment %d: %w", seg.Index, err)
	}

	nb.mu.Lock()
	defer nb.mu.Unlock()
	for i := range nb.liveSources {
		if nb.liveSources[i].ID == seg.LiveSourceID {
			nb.liveSources[i].IDs = append(nb.liveSources[i].IDs, ids...)
			return nil
		}
	}
	return fmt.Errorf("live source %s not found", seg.LiveSourceID)
}

// GetSource returns a one-shot source by id.
func (nb *Notebook) GetSource(id string) (Source, bool) {
	nb.mu.Lock()
	defer nb.mu.Unlock()
	for _, src := range nb.sources {
		if src.ID == id {
			return copySource(src), true
		}
	}
	return Source{}, false
}

// GetLiveSource returns a live source by id.
func (nb *Notebook) GetLiveSource(id string) (Source, bool) {
	nb.mu.Lock()
	defer nb.mu.Unlock()
	for _, src := range nb.liveSources {
		if src.ID == id {
			return copySource(src), true
		}
	}
	return Source{}, false
}

// Sources returns all one-shot sources.
func (nb *Notebook) Sources() []Source {
	nb.mu.Lock()
	defer nb.mu.Unlock()
	return copySources(nb.sources)
}

// LiveSources returns all live sources.
func (nb *Notebook) LiveSources() []Source {
	nb.mu.Lock()
	defer nb.mu.Unlock()
	return copySources(nb.liveSources)
}

// Conversation returns the chat history.
func (nb *Notebook) Conversation() []Message {
	nb.mu.Lock()
	defer nb.mu.Unlock()
	return append([]Message(nil), nb.conversation...)
}

// Generations returns the model invocation history.
func (nb *Notebook) Generations() []Generation {
	nb.mu.Lock()
	defer nb.mu.Unlock()
	return append([]Generation(nil), nb.generations...)
}

// GetDocument fetches one indexed document.
func (nb *Notebook) GetDocument(id string) (docstore.Document, error) {
	return nb.store.Get(id)
}

// SourceContent joins a source's chunks in capture order. For live
// sources the id list is completion-ordered, so documents are re-sorted
// by their index metadata first. lastK > 0 keeps only the trailing
// chunks.
func (nb *Notebook) SourceContent(id string, liveSrc bool, lastK int) (string, error) {
	docs, err := nb.orderedDocs(id, liveSrc, lastK)
	if err != nil {
		return "", err
	}

	texts := make([]string, 0, len(docs))
	for _, doc := range docs {
		if t := collapseWhitespace(doc.Text); t != "" {
			texts = append(texts, t)
		}
	}
	return strings.Join(texts, " "), nil
}

func (nb *Notebook) orderedDocs(id string, liveSrc bool, lastK int) ([]docstore.Document, error) {
	var src Source
	var ok bool
	if liveSrc {
		src, ok = nb.GetLiveSource(id)
	} else {
		src, ok = nb.GetSource(id)
	}
	if !ok {
		return nil, fmt.Errorf("source %s not found", id)
	}

	docs := make([]docstore.Document, 0, len(src.IDs))
	for _, docID := range src.IDs {
		doc, err := nb.store.Get(docID)
		if err != nil {
			logging.Warn("Document lookup failed", "id", docID, "error", err)
			continue
		}
		docs = append(docs, doc)
	}

	sortByIndex(docs)

	if lastK > 0 && lastK < len(docs) {
		docs = docs[len(docs)-lastK:]
	}
	return docs, nil
}

// Summary summarizes a source group by group and records the result.
func (nb *Notebook) Summary(ctx context.Context, id string, liveSrc bool, lastK int) (string, error) {
	docs, err := nb.orderedDocs(id, liveSrc, lastK)
	if err != nil {
		return "", err
	}
	if len(docs) == 0 {
		return "", fmt.Errorf("source %s has no content to summarize", id)
	}

	texts := make([]string, len(docs))
	for i, doc := range docs {
		texts[i] = collapseWhitespace(doc.Text)
	}
	groups := groupN(texts, nb.deps.SummaryGroup)

	// Groups summarize independently, so fan out and reassemble in order.
	summaries := make([]string, len(groups))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, group := range groups {
		g.Go(func() error {
			resp, err := nb.provider.Generate(gctx, agent.Request{
				UserPrompt: fmt.Sprintf("Summarize the following piece of text:\n\n\"\"\"%s\"\"\"\n\nSummary:", group),
				MaxTokens:  256,
			})
			if err != nil {
				return fmt.Errorf("summarize source %s: %w", id, err)
			}
			summaries[i] = strings.TrimSpace(resp.Content)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return "", err
	}

	output := strings.TrimSpace(strings.Join(summaries, "\n"))
	nb.recordGeneration("summary", strings.Join(texts, "\n"), output, nil)
	return output, nil
}

// Run answers a prompt with the tool-using agent. A non-nil content
// updates the notebook document first.
func (nb *Notebook) Run(ctx context.Context, prompt string, content any) (string, error) {
	if content != nil {
		nb.mu.Lock()
		nb.content = content
		nb.mu.Unlock()
	}

	res, err := nb.agent.Invoke(ctx, prompt)
	if err != nil {
		return "", err
	}

	output := strings.TrimSpace(res.Output)
	nb.recordGeneration("run", strings.TrimSpace(prompt), output, res.Steps)
	return output, nil
}

// Chat answers a prompt in the context of the running conversation and
// appends both turns to it.
func (nb *Notebook) Chat(ctx context.Context, prompt string) (string, error) {
	nb.mu.Lock()
	nb.conversation = append(nb.conversation, Message{
		ID:     uuid.NewString(),
		Sender: "Human",
		Text:   prompt,
	})
	history := make([]string, 0, len(nb.conversation))
	for _, msg := range nb.conversation {
		history = append(history, fmt.Sprintf("%s: %s", msg.Sender, msg.Text))
	}
	nb.mu.Unlock()

	question := prompt
	if len(history) > 1 {
		question = fmt.Sprintf("Given this conversation so far:\n%s\n\nRespond to the last message.",
			strings.Join(history, "\n"))
	}

	res, err := nb.agent.Invoke(ctx, question)
	if err != nil {
		return "", err
	}
	output := strings.TrimSpace(res.Output)

	nb.mu.Lock()
	nb.conversation = append(nb.conversation, Message{
		ID:     uuid.NewString(),
		Sender: "AI",
		Text:   output,
	})
	nb.mu.Unlock()

	nb.recordGeneration("chat", prompt, output, res.Steps)
	return output, nil
}

// Ideas proposes one writing direction per group of the given document.
func (nb *Notebook) Ideas(ctx context.Context, content string) ([]string, error) {
	chunks := splitWords(content, nb.deps.ChunkWords)
	if len(chunks) == 0 {
		return nil, fmt.Errorf("no content to draw ideas from")
	}
	groups := groupN(chunks, nb.deps.SummaryGroup)

	ideas := make([]string, len(groups))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, group := range groups {
		g.Go(func() error {
			resp, err := nb.provider.Generate(gctx, agent.Request{
				UserPrompt: fmt.Sprintf("Identify one possible idea you could write about to keep expanding this document: \"\"\"%s\"\"\"", group),
				MaxTokens:  256,
			})
			if err != nil {
				return fmt.Errorf("generate ideas: %w", err)
			}
			ideas[i] = strings.TrimSpace(resp.Content)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	nb.recordGeneration("ideas", content, strings.Join(ideas, "\n"), nil)
	return ideas, nil
}

// Save writes the notebook JSON and persists the document index. The
// given content becomes the notebook document before saving.
func (nb *Notebook) Save(content any, path string) error {
	nb.mu.Lock()
	if path != "" {
		nb.path = path
	}
	dir := nb.path
	if content != nil {
		nb.content = content
	}
	nb.mu.Unlock()

	if dir == "" {
		return fmt.Errorf("no path specified to save notebook to")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create notebook dir: %w", err)
	}

	if err := nb.store.Persist(IndexPath(dir)); err != nil {
		return fmt.Errorf("persist index: %w", err)
	}

	raw, err := json.Marshal(nb.Snapshot())
	if err != nil {
		return fmt.Errorf("encode notebook: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, notebookFile), raw, 0o644); err != nil {
		return fmt.Errorf("write notebook: %w", err)
	}

	logging.Info("Notebook saved", "name", nb.Name(), "path", dir)
	return nil
}

// Shutdown stops live captures and releases the document store.
func (nb *Notebook) Shutdown() {
	nb.pipeline.Shutdown()
	if err := nb.store.Close(); err != nil {
		logging.Warn("Store close failed", "notebook", nb.Name(), "error", err)
	}
}

func (nb *Notebook) recordGeneration(typ, input, output string, steps []agent.Step) {
	nb.mu.Lock()
	nb.generations = append(nb.generations, Generation{
		ID:                uuid.NewString(),
		Type:              typ,
		Input:             input,
		Output:            output,
		IntermediateSteps: steps,
	})
	nb.mu.Unlock()
}

// searchTool exposes the notebook's document index to the agent.
func (nb *Notebook) searchTool() agent.Tool {
	return agent.Tool{
		Name:        "Search",
		Description: "A search engine for the relevant knowledge database. Use this tool first. Search for a topic and get the most relevant documents. Input should be a search query.",
		Run: func(ctx context.Context, query string) (string, error) {
			docs, err := nb.store.SimilaritySearch(ctx, query, nb.deps.SearchK)
			if err != nil {
				return "", err
			}
			if len(docs) == 0 {
				return "No source added yet.", nil
			}

			quoted := make([]string, 0, len(docs))
			for _, doc := range docs {
				if t := collapseWhitespace(doc.Text); t != "" {
					quoted = append(quoted, fmt.Sprintf("\"\"\"%s\"\"\"", t))
				}
			}
			return strings.Join(quoted, ", "), nil
		},
	}
}

func sortByIndex(docs []docstore.Document) {
	// Insertion sort: segment lists are short and mostly ordered.
	for i := 1; i < len(docs); i++ {
		for j := i; j > 0 && docs[j].Index() < docs[j-1].Index(); j-- {
			docs[j], docs[j-1] = docs[j-1], docs[j]
		}
	}
}

func copySource(src Source) Source {
	src.IDs = append([]string(nil), src.IDs...)
	return src
}

func copySources(srcs []Source) []Source {
	out := make([]Source, len(srcs))
	for i, src := range srcs {
		out[i] = copySource(src)
	}
	return out
}
