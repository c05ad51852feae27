// Package live runs the capture/transcription pipeline for live sources.
// Each active source owns one capturer goroutine producing fixed-length
// audio segments; a single worker pool shared by all sources consumes
// the segments, transcribes them, and commits the results.
package live

import (
	"context"
	"fmt"
	"sync"

	"github.com/kairoslabs/kairos/internal/audio"
	"github.com/kairoslabs/kairos/internal/logging"
	"github.com/kairoslabs/kairos/internal/speech"
)

// Segment is one fixed-duration capture unit awaiting transcription.
// Handed off by value: after enqueue the capturer never touches Samples.
type Segment struct {
	LiveSourceID string
	Type         string
	Origin       string
	Index        int
	Samples      []float32
	SampleRate   int
}

// Sink receives each finished transcription. Implemented by the
// notebook, which commits the document and records its id.
type Sink interface {
	CommitTranscript(ctx context.Context, seg Segment, text string) error
}

// Config tunes the pipeline.
type Config struct {
	SampleRate     int // Hz
	SegmentSeconds int // fixed segment duration
	Workers        int // shared transcriber pool size
	QueueDepth     int // segment hand-off buffer
}

func (c Config) withDefaults() Config {
	if c.SampleRate == 0 {
		c.SampleRate = 16000
	}
	if c.SegmentSeconds == 0 {
		c.SegmentSeconds = 15
	}
	if c.Workers <= 0 {
		c.Workers = 1
	}
	if c.QueueDepth <= 0 {
		c.QueueDepth = 16
	}
	return c
}

// workerPool is one generation of transcriber workers and their queue.
// A fresh generation is created when the first capture starts and torn
// down after the last capture stops, so stopping one source never stops
// the workers serving another.
type workerPool struct {
	queue chan Segment
	wg    sync.WaitGroup
}

type capturer struct {
	id     string
	typ    string
	origin string
	offset int
	dev    audio.Device
	queue  chan Segment

	devReady chan struct{} // closed once dev is assigned
	stop     chan struct{}
	done     chan struct{}
}

// Pipeline coordinates capturers and the shared transcriber pool.
type Pipeline struct {
	open   audio.Opener
	loader *speech.Loader
	sink   Sink
	cfg    Config

	mu        sync.Mutex
	capturers map[string]*capturer
	pool      *workerPool
}

// New creates a pipeline. Workers start lazily with the first capture.
func New(open audio.Opener, loader *speech.Loader, sink Sink, cfg Config) *Pipeline {
	return &Pipeline{
		open:      open,
		loader:    loader,
		sink:      sink,
		cfg:       cfg.withDefaults(),
		capturers: make(map[string]*capturer),
	}
}

// StartCapture opens the device for origin and begins producing segments
// stamped with indices offset, offset+1, ... A source id that is already
// capturing is rejected without opening a second device.
func (p *Pipeline) StartCapture(id, typ, origin string, offset int) error {
	p.mu.Lock()
	if _, ok := p.capturers[id]; ok {
		p.mu.Unlock()
		return fmt.Errorf("live source %s is already running", id)
	}

	if p.pool == nil {
		p.pool = p.startWorkers()
	}
	pool := p.pool

	// Reserve the slot before the blocking device open so a concurrent
	// start for the same id fails instead of racing for the device.
	c := &capturer{
		id:       id,
		typ:      typ,
		origin:   origin,
		offset:   offset,
		queue:    pool.queue,
		devReady: make(chan struct{}),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	p.capturers[id] = c
	p.mu.Unlock()

	dev, err := p.open(origin)
	if err != nil {
		p.mu.Lock()
		delete(p.capturers, id)
		var orphaned *workerPool
		if len(p.capturers) == 0 && p.pool == pool {
			orphaned = pool
			p.pool = nil
		}
		p.mu.Unlock()
		close(c.done)
		if orphaned != nil {
			close(orphaned.queue)
			orphaned.wg.Wait()
		}
		return fmt.Errorf("open capture device %s: %w", origin, err)
	}
	c.dev = dev
	close(c.devReady)

	logging.Info("Capturer started", "id", id, "origin", origin, "offset", offset)
	go c.run(p.cfg)

	return nil
}

// StopCapture signals the capturer for id, waits until it has released
// its device, and tears down the shared workers if this was the last
// active source. In-flight segments drain before the workers exit.
func (p *Pipeline) StopCapture(id string) error {
	p.mu.Lock()
	c, ok := p.capturers[id]
	if !ok {
		p.mu.Unlock()
		return fmt.Errorf("live source %s is not running", id)
	}
	delete(p.capturers, id)

	var pool *workerPool
	if len(p.capturers) == 0 {
		pool = p.pool
		p.pool = nil
	}
	p.mu.Unlock()

	close(c.stop)

	// Closing the device unblocks a capturer stuck mid-read. Close is
	// idempotent, so the capturer's own deferred Close is harmless.
	select {
	case <-c.devReady:
		c.dev.Close()
	case <-c.done:
	}
	<-c.done // device released once this returns

	if pool != nil {
		close(pool.queue)
		pool.wg.Wait()
		logging.Info("Transcriber pool stopped", "last", id)
	}

	logging.Info("Capturer stopped", "id", id)
	return nil
}

// Running returns the ids of actively capturing live sources.
func (p *Pipeline) Running() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	ids := make([]string, 0, len(p.capturers))
	for id := range p.capturers {
		ids = append(ids, id)
	}
	return ids
}

// Shutdown stops every active capture and drains the workers.
func (p *Pipeline) Shutdown() {
	for _, id := range p.Running() {
		if err := p.StopCapture(id); err != nil {
			logging.Warn("Shutdown stop failed", "id", id, "error", err)
		}
	}
}

func (p *Pipeline) startWorkers() *workerPool {
	pool := &workerPool{queue: make(chan Segment, p.cfg.QueueDepth)}
	for i := 0; i < p.cfg.Workers; i++ {
		pool.wg.Add(1)
		go p.worker(pool, i)
	}
	logging.Info("Transcriber pool started", "workers", p.cfg.Workers)
	return pool
}

// worker consumes segments until the queue closes. A failed segment is
// logged and dropped: a transcription gap is preferable to losing the
// pipeline mid-recording.
func (p *Pipeline) worker(pool *workerPool, n int) {
	defer pool.wg.Done()

	for seg := range pool.queue {
		engine, err := p.loader.Get()
		if err != nil {
			logging.Error("Speech engine unavailable, segment dropped",
				"source", seg.LiveSourceID, "index", seg.Index, "error", err)
			continue
		}

		text, err := engine.Transcribe(context.Background(), seg.Samples, seg.SampleRate)
		if err != nil {
			logging.Error("Transcription failed, segment dropped",
				"source", seg.LiveSourceID, "index", seg.Index, "error", err)
			continue
		}

		if err := p.sink.CommitTranscript(context.Background(), seg, text); err != nil {
			logging.Error("Transcript commit failed, segment dropped",
				"source", seg.LiveSourceID, "index", seg.Index, "error", err)
		}
	}

	logging.Debug("Transcriber worker exited", "worker", n)
}

// run produces segments until stopped. The device is released on every
// exit path, including read errors.
func (c *capturer) run(cfg Config) {
	defer close(c.done)
	defer c.dev.Close()

	frames := cfg.SampleRate * cfg.SegmentSeconds

	for i := c.offset; ; i++ {
		select {
		case <-c.stop:
			return
		default:
		}

		samples, err := c.dev.Read(frames)
		if err != nil {
			select {
			case <-c.stop:
				// Device torn down during stop; expected.
			default:
				logging.Error("Capture read failed", "id", c.id, "error", err)
			}
			return
		}

		seg := Segment{
			LiveSourceID: c.id,
			Type:         c.typ,
			Origin:       c.origin,
			Index:        i,
			Samples:      samples,
			SampleRate:   cfg.SampleRate,
		}

		select {
		case c.queue <- seg:
		case <-c.stop:
			return
		}
	}
}
