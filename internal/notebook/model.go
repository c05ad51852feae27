// Package notebook holds the guarded notebook aggregate: one-shot and
// live sources, the conversation, and the history of model generations.
package notebook

import "github.com/kairoslabs/kairos/internal/agent"

// Source is an ingested content source. For one-shot sources the ids
// reflect chunk order at ingestion time. For live sources the ids are
// appended in transcription-completion order, so readers that need
// capture order must re-sort by each document's index metadata.
type Source struct {
	ID     string   `json:"id"`
	Type   string   `json:"type"`
	Origin string   `json:"origin"`
	IDs    []string `json:"ids"`
}

// Message is one turn of the notebook conversation.
type Message struct {
	ID     string `json:"id"`
	Sender string `json:"sender"`
	Text   string `json:"text"`
}

// Generation records one model invocation and, when the agent took
// tool actions, the steps it went through.
type Generation struct {
	ID                string       `json:"id"`
	Type              string       `json:"type"`
	Input             string       `json:"input"`
	Output            string       `json:"output"`
	IntermediateSteps []agent.Step `json:"intermediate_steps,omitempty"`
}

// snapshot is the persisted notebook shape.
type snapshot struct {
	Name         string       `json:"name"`
	Sources      []Source     `json:"sources"`
	LiveSources  []Source     `json:"live_sources"`
	Conversation []Message    `json:"conversation"`
	Content      any          `json:"content"`
	Generations  []Generation `json:"generations"`
}
