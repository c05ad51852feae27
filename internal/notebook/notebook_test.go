package notebook

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kairoslabs/kairos/internal/agent"
	"github.com/kairoslabs/kairos/internal/audio"
	"github.com/kairoslabs/kairos/internal/docstore"
	"github.com/kairoslabs/kairos/internal/job"
	"github.com/kairoslabs/kairos/internal/live"
	"github.com/kairoslabs/kairos/internal/speech"
)

// memStore is an in-memory document store. Fixed ids, when set, are
// handed out in order so tests can assert exact id sequences.
type memStore struct {
	mu       sync.Mutex
	seq      int
	fixedIDs []string
	docs     map[string]docstore.Document
}

func newMemStore(fixedIDs ...string) *memStore {
	return &memStore{fixedIDs: fixedIDs, docs: make(map[string]docstore.Document)}
}

func (s *memStore) AddDocuments(ctx context.Context, docs []docstore.Document) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, len(docs))
	for i, doc := range docs {
		var id string
		if s.seq < len(s.fixedIDs) {
			id = s.fixedIDs[s.seq]
		} else {
			id = fmt.Sprintf("doc-%d", s.seq)
		}
		s.seq++
		doc.ID = id
		s.docs[id] = doc
		ids[i] = id
	}
	return ids, nil
}

func (s *memStore) Get(id string) (docstore.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.docs[id]
	if !ok {
		return docstore.Document{}, errors.New("document not found: " + id)
	}
	return doc, nil
}

func (s *memStore) SimilaritySearch(ctx context.Context, query string, k int) ([]docstore.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []docstore.Document
	for _, doc := range s.docs {
		if strings.Contains(strings.ToLower(doc.Text), strings.ToLower(query)) {
			out = append(out, doc)
			if len(out) == k {
				break
			}
		}
	}
	return out, nil
}

func (s *memStore) Persist(path string) error {
	return os.WriteFile(path, []byte("index"), 0o644)
}

func (s *memStore) Close() error { return nil }

// cannedProvider answers every generate call with a fixed final answer.
type cannedProvider struct {
	text string
}

func (p *cannedProvider) Name() string    { return "canned" }
func (p *cannedProvider) Available() bool { return true }
func (p *cannedProvider) Generate(ctx context.Context, req agent.Request) (agent.Response, error) {
	return agent.Response{Content: p.text, Model: "canned"}, nil
}

type fakeDevice struct {
	reads  chan []float32
	closed chan struct{}
	once   sync.Once
}

func newFakeDevice() *fakeDevice {
	return &fakeDevice{reads: make(chan []float32, 8), closed: make(chan struct{})}
}

func (d *fakeDevice) Read(frames int) ([]float32, error) {
	select {
	case s := <-d.reads:
		return s, nil
	case <-d.closed:
		return nil, errors.New("device closed")
	}
}

func (d *fakeDevice) Close() error {
	d.once.Do(func() { close(d.closed) })
	return nil
}

type deviceQueue struct {
	mu      sync.Mutex
	devices []*fakeDevice
	opens   int
	delay   time.Duration // widens the open window for races
}

func (q *deviceQueue) open(origin string) (audio.Device, error) {
	if q.delay > 0 {
		time.Sleep(q.delay)
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.devices) == 0 {
		return nil, errors.New("no device")
	}
	q.opens++
	d := q.devices[0]
	q.devices = q.devices[1:]
	return d, nil
}

func (q *deviceQueue) openCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.opens
}

// lengthEngine maps sample count to a word, so tests can tell which
// fed buffer produced which transcript.
type lengthEngine struct {
	texts map[int]string
}

func (e *lengthEngine) Transcribe(ctx context.Context, samples []float32, rate int) (string, error) {
	if t, ok := e.texts[len(samples)]; ok {
		return t, nil
	}
	return fmt.Sprintf("unknown %d", len(samples)), nil
}

func testDeps(store docstore.Store, opener audio.Opener, engine speech.Engine) Deps {
	return Deps{
		Store:       store,
		Provider:    &cannedProvider{text: "Final Answer: ok"},
		AudioOpener: opener,
		SpeechLoader: speech.NewLoader(func() (speech.Engine, error) {
			return engine, nil
		}),
		Pipeline: live.Config{SampleRate: 4, SegmentSeconds: 1, Workers: 1, QueueDepth: 4},
		Loaders: map[string]Loader{
			"pdf": func(ctx context.Context, origin string) (string, error) {
				return "alpha beta gamma", nil
			},
		},
		ChunkWords: 1,
	}
}

func waitForIDs(t *testing.T, nb *Notebook, id string, n int) Source {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		src, ok := nb.GetLiveSource(id)
		if ok && len(src.IDs) >= n {
			return src
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("live source %s never reached %d ids", id, n)
	return Source{}
}

func TestAddSourceRecordsChunkIDsInOrder(t *testing.T) {
	store := newMemStore("a", "b", "c")
	nb := New("test", "", testDeps(store, (&deviceQueue{}).open, &lengthEngine{}))

	id, err := nb.AddSource(context.Background(), "pdf", "doc.pdf")
	if err != nil {
		t.Fatalf("AddSource: %v", err)
	}

	src, ok := nb.GetSource(id)
	if !ok {
		t.Fatalf("source %s not found", id)
	}
	if got, want := fmt.Sprint(src.IDs), "[a b c]"; got != want {
		t.Fatalf("source ids = %v, want %v", got, want)
	}

	// Chunk indices follow document order at ingestion time.
	for i, docID := range src.IDs {
		doc, err := nb.GetDocument(docID)
		if err != nil {
			t.Fatalf("GetDocument(%s): %v", docID, err)
		}
		if doc.Index() != i {
			t.Fatalf("chunk %s index = %d, want %d", docID, doc.Index(), i)
		}
	}
}

func TestAddSourceUnknownTypeRejected(t *testing.T) {
	nb := New("test", "", testDeps(newMemStore(), (&deviceQueue{}).open, &lengthEngine{}))
	if _, err := nb.AddSource(context.Background(), "carrier-pigeon", "x"); err == nil {
		t.Fatal("unknown source type should be rejected")
	}
}

func TestAddSourceJobReturnsSourceID(t *testing.T) {
	store := newMemStore("a", "b", "c")
	reg := NewRegistry()
	sched := job.NewScheduler(reg.StateLock())

	id, nb := reg.Create("test", "", testDeps(store, (&deviceQueue{}).open, &lengthEngine{}))

	jobID := sched.Submit(id, true, func() (string, error) {
		return nb.AddSource(context.Background(), "pdf", "doc.pdf")
	})
	sched.Wait()

	j := sched.Poll(id, jobID)
	if j.Status != job.StatusFinished || j.Error {
		t.Fatalf("job = %+v, want finished without error", j)
	}
	if j.Output == nil {
		t.Fatal("job output is nil, want new source id")
	}

	src, ok := nb.GetSource(*j.Output)
	if !ok {
		t.Fatalf("source %s from job output not found", *j.Output)
	}
	if len(src.IDs) != 3 {
		t.Fatalf("source has %d ids, want 3", len(src.IDs))
	}
}

func TestLiveSourceContentSortedBySegmentIndex(t *testing.T) {
	store := newMemStore()
	nb := New("test", "", testDeps(store, (&deviceQueue{}).open, &lengthEngine{}))

	nb.mu.Lock()
	nb.liveSources = append(nb.liveSources, Source{ID: "ls1", Type: "sound", Origin: "mic1", IDs: []string{}})
	nb.mu.Unlock()

	// Segments commit in completion order, which here is reversed.
	for _, seg := range []live.Segment{
		{LiveSourceID: "ls1", Type: "sound", Origin: "mic1", Index: 1},
		{LiveSourceID: "ls1", Type: "sound", Origin: "mic1", Index: 0},
	} {
		text := fmt.Sprintf("segment%d", seg.Index)
		if err := nb.CommitTranscript(context.Background(), seg, text); err != nil {
			t.Fatalf("CommitTranscript: %v", err)
		}
	}

	src, _ := nb.GetLiveSource("ls1")
	if len(src.IDs) != 2 {
		t.Fatalf("live source has %d ids, want 2", len(src.IDs))
	}

	content, err := nb.SourceContent("ls1", true, 0)
	if err != nil {
		t.Fatalf("SourceContent: %v", err)
	}
	if content != "segment0 segment1" {
		t.Fatalf("content = %q, want capture order despite reversed commits", content)
	}
}

func TestLiveSourceCaptureScenario(t *testing.T) {
	dev := newFakeDevice()
	opener := &deviceQueue{devices: []*fakeDevice{dev}}
	engine := &lengthEngine{texts: map[int]string{2: "hello", 3: "world"}}
	nb := New("test", "", testDeps(newMemStore(), opener.open, engine))

	id, err := nb.StartLiveSource("sound", "mic1")
	if err != nil {
		t.Fatalf("StartLiveSource: %v", err)
	}

	dev.reads <- []float32{0.1, 0.2}
	dev.reads <- []float32{0.1, 0.2, 0.3}

	waitForIDs(t, nb, id, 2)

	if err := nb.StopLiveSource(id); err != nil {
		t.Fatalf("StopLiveSource: %v", err)
	}

	content, err := nb.SourceContent(id, true, 0)
	if err != nil {
		t.Fatalf("SourceContent: %v", err)
	}
	if content != "hello world" {
		t.Fatalf("content = %q, want %q", content, "hello world")
	}
}

func TestLiveSourceResumeKeepsIDAndContinuesIndices(t *testing.T) {
	first := newFakeDevice()
	second := newFakeDevice()
	opener := &deviceQueue{devices: []*fakeDevice{first, second}}
	engine := &lengthEngine{texts: map[int]string{2: "one", 3: "two", 4: "three"}}
	nb := New("test", "", testDeps(newMemStore(), opener.open, engine))

	id, err := nb.StartLiveSource("sound", "mic1")
	if err != nil {
		t.Fatalf("StartLiveSource: %v", err)
	}
	first.reads <- []float32{0.1, 0.2}
	first.reads <- []float32{0.1, 0.2, 0.3}
	waitForIDs(t, nb, id, 2)
	if err := nb.StopLiveSource(id); err != nil {
		t.Fatalf("StopLiveSource: %v", err)
	}

	id2, err := nb.StartLiveSource("sound", "mic1")
	if err != nil {
		t.Fatalf("restart StartLiveSource: %v", err)
	}
	if id2 != id {
		t.Fatalf("restart created new id %s, want %s", id2, id)
	}

	second.reads <- []float32{0.1, 0.2, 0.3, 0.4}
	src := waitForIDs(t, nb, id, 3)
	if err := nb.StopLiveSource(id); err != nil {
		t.Fatalf("second StopLiveSource: %v", err)
	}

	// Numbering resumed at the count of previously committed docs.
	doc, err := nb.GetDocument(src.IDs[2])
	if err != nil {
		t.Fatalf("GetDocument: %v", err)
	}
	if doc.Index() != 2 {
		t.Fatalf("resumed segment index = %d, want 2", doc.Index())
	}
}

func TestStartLiveSourceWhileRunningRejected(t *testing.T) {
	dev := newFakeDevice()
	opener := &deviceQueue{devices: []*fakeDevice{dev}}
	nb := New("test", "", testDeps(newMemStore(), opener.open, &lengthEngine{}))

	id, err := nb.StartLiveSource("sound", "mic1")
	if err != nil {
		t.Fatalf("StartLiveSource: %v", err)
	}
	if _, err := nb.StartLiveSource("sound", "mic1"); err == nil {
		t.Fatal("starting an already running origin should fail")
	}
	if err := nb.StopLiveSource(id); err != nil {
		t.Fatalf("StopLiveSource: %v", err)
	}
}

// Two simultaneous starts for one origin must resolve to a single
// capturer and a single live source record, even when opening the
// device is slow enough for the calls to overlap.
func TestConcurrentStartSameOriginSingleCapture(t *testing.T) {
	opener := &deviceQueue{
		devices: []*fakeDevice{newFakeDevice(), newFakeDevice()},
		delay:   50 * time.Millisecond,
	}
	nb := New("test", "", testDeps(newMemStore(), opener.open, &lengthEngine{}))

	var wg sync.WaitGroup
	ids := make([]string, 2)
	errs := make([]error, 2)
	for i := range ids {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ids[i], errs[i] = nb.StartLiveSource("sound", "mic1")
		}()
	}
	wg.Wait()

	failures := 0
	winner := ""
	for i, err := range errs {
		if err != nil {
			failures++
		} else {
			winner = ids[i]
		}
	}
	if failures != 1 {
		t.Fatalf("errors = %v, want exactly one rejection", errs)
	}
	if got := len(nb.LiveSources()); got != 1 {
		t.Fatalf("live source records = %d, want 1", got)
	}
	if got := len(nb.RunningLiveSources()); got != 1 {
		t.Fatalf("running captures = %d, want 1", got)
	}
	if got := opener.openCount(); got != 1 {
		t.Fatalf("device opened %d times, want 1", got)
	}
	if err := nb.StopLiveSource(winner); err != nil {
		t.Fatalf("StopLiveSource: %v", err)
	}
}

func TestStartLiveSourceUnknownTypeRejected(t *testing.T) {
	nb := New("test", "", testDeps(newMemStore(), (&deviceQueue{}).open, &lengthEngine{}))
	if _, err := nb.StartLiveSource("video", "cam1"); err == nil {
		t.Fatal("unknown live source type should be rejected")
	}
}

func TestStopUnknownLiveSourceRejected(t *testing.T) {
	nb := New("test", "", testDeps(newMemStore(), (&deviceQueue{}).open, &lengthEngine{}))
	if err := nb.StopLiveSource("nope"); err == nil {
		t.Fatal("stopping a non-running live source should fail")
	}
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store := newMemStore("a", "b", "c")
	deps := testDeps(store, (&deviceQueue{}).open, &lengthEngine{})
	nb := New("roundtrip", "", deps)

	if _, err := nb.AddSource(context.Background(), "pdf", "doc.pdf"); err != nil {
		t.Fatalf("AddSource: %v", err)
	}
	nb.Rename("renamed")

	if err := nb.Save(map[string]any{"body": "notes"}, dir); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, err := os.Stat(IndexPath(dir)); err != nil {
		t.Fatalf("index not persisted: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "notebook.json")); err != nil {
		t.Fatalf("notebook not persisted: %v", err)
	}

	loaded, err := Load(dir, testDeps(newMemStore(), (&deviceQueue{}).open, &lengthEngine{}))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Name() != "renamed" {
		t.Fatalf("loaded name = %q, want renamed", loaded.Name())
	}
	if got := len(loaded.Sources()); got != 1 {
		t.Fatalf("loaded %d sources, want 1", got)
	}
	if got := loaded.Sources()[0].IDs; fmt.Sprint(got) != "[a b c]" {
		t.Fatalf("loaded source ids = %v, want [a b c]", got)
	}
}

func TestChatAppendsBothTurns(t *testing.T) {
	nb := New("test", "", testDeps(newMemStore(), (&deviceQueue{}).open, &lengthEngine{}))

	out, err := nb.Chat(context.Background(), "hello there")
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if out != "ok" {
		t.Fatalf("chat output = %q, want ok", out)
	}

	conv := nb.Conversation()
	if len(conv) != 2 {
		t.Fatalf("conversation has %d messages, want 2", len(conv))
	}
	if conv[0].Sender != "Human" || conv[1].Sender != "AI" {
		t.Fatalf("senders = %s/%s, want Human/AI", conv[0].Sender, conv[1].Sender)
	}

	gens := nb.Generations()
	if len(gens) != 1 || gens[0].Type != "chat" {
		t.Fatalf("generations = %+v, want one chat generation", gens)
	}
}

func TestRunRecordsGenerationWithSteps(t *testing.T) {
	nb := New("test", "", testDeps(newMemStore(), (&deviceQueue{}).open, &lengthEngine{}))

	out, err := nb.Run(context.Background(), "what is up", "updated content")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out != "ok" {
		t.Fatalf("run output = %q, want ok", out)
	}
	if nb.ContentValue() != "updated content" {
		t.Fatalf("content = %v, want updated content", nb.ContentValue())
	}

	gens := nb.Generations()
	if len(gens) != 1 || gens[0].Type != "run" || gens[0].Input != "what is up" {
		t.Fatalf("generations = %+v, want one run generation", gens)
	}
}

func TestSummaryGroupsChunks(t *testing.T) {
	store := newMemStore("a", "b", "c")
	deps := testDeps(store, (&deviceQueue{}).open, &lengthEngine{})
	deps.Provider = &cannedProvider{text: "short summary"}
	nb := New("test", "", deps)

	id, err := nb.AddSource(context.Background(), "pdf", "doc.pdf")
	if err != nil {
		t.Fatalf("AddSource: %v", err)
	}

	out, err := nb.Summary(context.Background(), id, false, 0)
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if out != "short summary" {
		t.Fatalf("summary = %q, want %q", out, "short summary")
	}

	gens := nb.Generations()
	if len(gens) != 1 || gens[0].Type != "summary" {
		t.Fatalf("generations = %+v, want one summary generation", gens)
	}
}

func TestSplitWords(t *testing.T) {
	tests := []struct {
		text  string
		chunk int
		want  []string
	}{
		{"", 2, nil},
		{"a b c", 2, []string{"a b", "c"}},
		{"a b c d", 2, []string{"a b", "c d"}},
		{"  a   b  ", 10, []string{"a b"}},
	}
	for _, tt := range tests {
		got := splitWords(tt.text, tt.chunk)
		if fmt.Sprint(got) != fmt.Sprint(tt.want) {
			t.Errorf("splitWords(%q, %d) = %v, want %v", tt.text, tt.chunk, got, tt.want)
		}
	}
}

func TestStripHTML(t *testing.T) {
	in := `<html><head><style>p{color:red}</style><script>alert(1)</script></head>
<body><h1>Title</h1><p>Hello &amp; welcome</p></body></html>`
	got := stripHTML(in)
	if got != "Title Hello & welcome" {
		t.Fatalf("stripHTML = %q", got)
	}
}

func TestGenerateNameShape(t *testing.T) {
	name := generateName()
	parts := strings.Split(name, "_")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		t.Fatalf("generated name %q is not adjective_surname", name)
	}
}
