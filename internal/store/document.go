package store

import "github.com/basket/graphrun/internal/model"

// Document is the single aggregate persisted as one atomic JSON document.
// All reads and mutations against it go through Store.Apply, which holds
// the process-wide lock for the duration of the callback.
type Document struct {
	Assistants        map[string]*model.Assistant          `json:"assistants"`
	AssistantVersions map[string][]*model.AssistantVersion `json:"assistant_versions"`
	Threads           map[string]*model.Thread             `json:"threads"`
	Runs              map[string]*model.Run                `json:"runs"`
	RetryCounters     map[string]int                       `json:"retry_counters"`
}

func newDocument() *Document {
	return &Document{
		Assistants:        make(map[string]*model.Assistant),
		AssistantVersions: make(map[string][]*model.AssistantVersion),
		Threads:           make(map[string]*model.Thread),
		Runs:              make(map[string]*model.Run),
		RetryCounters:     make(map[string]int),
	}
}

// fillZeroValues guards against a persisted document predating a field, or
// a zero-valued Document freshly unmarshaled with null maps.
func (d *Document) fillZeroValues() {
	if d.Assistants == nil {
		d.Assistants = make(map[string]*model.Assistant)
	}
	if d.AssistantVersions == nil {
		d.AssistantVersions = make(map[string][]*model.AssistantVersion)
	}
	if d.Threads == nil {
		d.Threads = make(map[string]*model.Thread)
	}
	if d.Runs == nil {
		d.Runs = make(map[string]*model.Run)
	}
	if d.RetryCounters == nil {
		d.RetryCounters = make(map[string]int)
	}
}
