package shardpager

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/buger/jsonparser"
)

// DefaultEnvelopeTemplate mirrors the search engine's native response shape.
const DefaultEnvelopeTemplate = `{"responseHeader":{"status":0,"QTime":0},"response":{"nums":0,"docs":[]}}`

// Envelope wraps a batch of records into the response shape clients expect.
// The template must contain a "response" object; its "docs", "nums" and
// "nextCursorMark" members are replaced on every render.
type Envelope struct {
	template []byte
}

// NewEnvelope validates template and creates an Envelope from it.
func NewEnvelope(template []byte) (*Envelope, error) {
	_, dataType, _, err := jsonparser.Get(template, "response")
	if err != nil {
		return nil, fmt.Errorf("invalid envelope template: %w", err)
	}
	if dataType != jsonparser.Object {
		return nil, fmt.Errorf("invalid envelope template: response is a %s, not an object", dataType)
	}
	return &Envelope{template: append([]byte(nil), template...)}, nil
}

// DefaultEnvelope returns the envelope built from DefaultEnvelopeTemplate.
func DefaultEnvelope() *Envelope {
	return &Envelope{template: []byte(DefaultEnvelopeTemplate)}
}

// Render fills the template with docs and nums. nextCursorMark is only set
// when non-empty.
func (e *Envelope) Render(docs []Record, nums int64, nextCursorMark string) ([]byte, error) {
	if docs == nil {
		docs = []Record{}
	}
	docsJSON, err := json.Marshal(docs)
	if err != nil {
		return nil, fmt.Errorf("failed to encode docs: %w", err)
	}
	out := append([]byte(nil), e.template...)
	if out, err = jsonparser.Set(out, strconv.AppendInt(nil, nums, 10), "response", "nums"); err != nil {
		return nil, fmt.Errorf("failed to set nums: %w", err)
	}
	if out, err = jsonparser.Set(out, docsJSON, "response", "docs"); err != nil {
		return nil, fmt.Errorf("failed to set docs: %w", err)
	}
	if nextCursorMark != "" {
		mark, _ := json.Marshal(nextCursorMark)
		if out, err = jsonparser.Set(out, mark, "response", "nextCursorMark"); err != nil {
			return nil, fmt.Errorf("failed to set nextCursorMark: %w", err)
		}
	}
	return out, nil
}
