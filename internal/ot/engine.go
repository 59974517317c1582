package ot

import (
	"fmt"
	"time"
)

// Engine owns one document: its text, version counter, operation log and
// the last version acknowledged to each client. It is not safe for
// concurrent use; callers serialize access per document.
type Engine struct {
	base           string
	document       string
	version        uint64
	records        []Record
	sizes          []int
	clientVersions map[string]uint64
	now            func() time.Time
}

func NewEngine(initial string) *Engine {
	return &Engine{
		base:           initial,
		document:       initial,
		sizes:          []int{len(initial)},
		clientVersions: map[string]uint64{},
		now:            time.Now,
	}
}

func (e *Engine) Text() string {
	return e.document
}

func (e *Engine) Version() uint64 {
	return e.version
}

func (e *Engine) ClientVersion(clientID string) uint64 {
	return e.clientVersions[clientID]
}

// Apply mutates the document with op and returns the new version.
func (e *Engine) Apply(op Operation, clientID string) (uint64, error) {
	if e.clientVersions[clientID] > e.version {
		return e.version, ErrVersionMismatch
	}
	next, err := ApplyTo(e.document, op)
	if err != nil {
		return e.version, err
	}
	e.document = next
	e.version++
	e.sizes = append(e.sizes, len(next))
	e.records = append(e.records, Record{
		Operation: op,
		Version:   e.version,
		ClientID:  clientID,
		Timestamp: e.now().UnixMilli(),
	})
	e.clientVersions[clientID] = e.version
	return e.version, nil
}

// Transform moves op, defined against sinceVersion, forward past every
// record applied after it. The engine is not modified.
func (e *Engine) Transform(op Operation, sinceVersion uint64) (Operation, error) {
	if sinceVersion > e.version {
		return op, ErrVersionMismatch
	}
	if err := op.Validate(); err != nil {
		return op, err
	}
	// an op must fit the document it was written against
	if err := checkBounds(op, e.sizes[sinceVersion]); err != nil {
		return op, err
	}
	transformed := op
	// records[i].Version == i+1
	for _, rec := range e.records[sinceVersion:] {
		next, err := TransformPair(transformed, rec.Operation)
		if err != nil {
			return op, fmt.Errorf("transform against version %d: %w", rec.Version, err)
		}
		transformed = next
	}
	return transformed, nil
}

// Records returns a copy of the records with version greater than
// sinceVersion.
func (e *Engine) Records(sinceVersion uint64) []Record {
	if sinceVersion >= e.version {
		return []Record{}
	}
	out := make([]Record, len(e.records)-int(sinceVersion))
	copy(out, e.records[sinceVersion:])
	return out
}

// Replay rebuilds the document from the seed text and the record log.
func (e *Engine) Replay() (string, error) {
	text := e.base
	for _, rec := range e.records {
		next, err := ApplyTo(text, rec.Operation)
		if err != nil {
			return text, fmt.Errorf("replay version %d: %w", rec.Version, err)
		}
		text = next
	}
	return text, nil
}
