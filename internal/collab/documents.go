package collab

import (
	"fmt"
	"sort"
	"sync"

	"github.com/agentworkforce/relaycollab/internal/ot"
)

type CursorPosition struct {
	Line           uint32     `json:"line"`
	Column         uint32     `json:"column"`
	SelectionStart *[2]uint32 `json:"selection_start,omitempty"`
}

type RoomSummary struct {
	RoomID  string `json:"roomId"`
	Version uint64 `json:"version"`
	Length  int    `json:"length"`
	Cursors int    `json:"cursors"`
}

// Documents maps room ids to their OT engine and live cursors. The map lock
// only guards membership; each room serializes its own mutations, so
// unrelated rooms never contend.
type Documents struct {
	mu    sync.RWMutex
	rooms map[string]*roomState
}

type roomState struct {
	mu      sync.RWMutex
	engine  *ot.Engine
	cursors map[string]CursorPosition
}

func NewDocuments() *Documents {
	return &Documents{rooms: map[string]*roomState{}}
}

func newRoomState(initial string) *roomState {
	return &roomState{
		engine:  ot.NewEngine(initial),
		cursors: map[string]CursorPosition{},
	}
}

// Create seeds room with initialText, replacing any existing document.
func (d *Documents) Create(room, initialText string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rooms[room] = newRoomState(initialText)
}

// Ensure creates room from seed if it is not loaded yet. seed runs outside
// the registry lock; when two callers race, the first insert wins and the
// other seed result is discarded.
func (d *Documents) Ensure(room string, seed func() (string, error)) (bool, error) {
	if d.lookup(room) != nil {
		return false, nil
	}
	initial := ""
	if seed != nil {
		text, err := seed()
		if err != nil {
			return false, fmt.Errorf("seed room %s: %w", room, err)
		}
		initial = text
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.rooms[room]; ok {
		return false, nil
	}
	d.rooms[room] = newRoomState(initial)
	return true, nil
}

func (d *Documents) lookup(room string) *roomState {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.rooms[room]
}

func (d *Documents) Apply(room string, op ot.Operation, clientID string) (string, uint64, error) {
	state := d.lookup(room)
	if state == nil {
		return "", 0, ErrNotebookNotFound
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	version, err := state.engine.Apply(op, clientID)
	if err != nil {
		return "", version, err
	}
	return state.engine.Text(), version, nil
}

func (d *Documents) Transform(room string, op ot.Operation, sinceVersion uint64) (ot.Operation, error) {
	state := d.lookup(room)
	if state == nil {
		return op, ErrNotebookNotFound
	}
	state.mu.RLock()
	defer state.mu.RUnlock()
	return state.engine.Transform(op, sinceVersion)
}

// TransformAndApply transforms op from sinceVersion and applies the result
// without letting another operation on the room run in between.
func (d *Documents) TransformAndApply(room string, op ot.Operation, sinceVersion uint64, clientID string) (ot.Operation, string, uint64, error) {
	state := d.lookup(room)
	if state == nil {
		return op, "", 0, ErrNotebookNotFound
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	transformed, err := state.engine.Transform(op, sinceVersion)
	if err != nil {
		return op, "", state.engine.Version(), err
	}
	version, err := state.engine.Apply(transformed, clientID)
	if err != nil {
		return transformed, "", version, err
	}
	return transformed, state.engine.Text(), version, nil
}

// ReplaceContent turns a whole-document replacement into the minimal
// delete/insert pair and applies it, so the log still replays to the
// current text.
func (d *Documents) ReplaceContent(room, content, clientID string) (uint64, error) {
	state := d.lookup(room)
	if state == nil {
		return 0, ErrNotebookNotFound
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	for _, op := range ot.Diff(state.engine.Text(), content) {
		if _, err := state.engine.Apply(op, clientID); err != nil {
			return state.engine.Version(), fmt.Errorf("%w: replace content: %v", ErrInternal, err)
		}
	}
	return state.engine.Version(), nil
}

func (d *Documents) Get(room string) (string, uint64, bool) {
	state := d.lookup(room)
	if state == nil {
		return "", 0, false
	}
	state.mu.RLock()
	defer state.mu.RUnlock()
	return state.engine.Text(), state.engine.Version(), true
}

func (d *Documents) Records(room string, sinceVersion uint64) ([]ot.Record, uint64, error) {
	state := d.lookup(room)
	if state == nil {
		return nil, 0, ErrNotebookNotFound
	}
	state.mu.RLock()
	defer state.mu.RUnlock()
	return state.engine.Records(sinceVersion), state.engine.Version(), nil
}

// Snapshot returns text, version, cursors and the records after
// sinceVersion from one consistent view of the room.
func (d *Documents) Snapshot(room string, sinceVersion uint64) (string, uint64, map[string]CursorPosition, []ot.Record, error) {
	state := d.lookup(room)
	if state == nil {
		return "", 0, nil, nil, ErrNotebookNotFound
	}
	state.mu.RLock()
	defer state.mu.RUnlock()
	return state.engine.Text(), state.engine.Version(), copyCursors(state.cursors), state.engine.Records(sinceVersion), nil
}

func (d *Documents) UpdateCursor(room, user string, position CursorPosition) error {
	state := d.lookup(room)
	if state == nil {
		return ErrNotebookNotFound
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	state.cursors[user] = position
	return nil
}

func (d *Documents) Cursors(room string) (map[string]CursorPosition, error) {
	state := d.lookup(room)
	if state == nil {
		return nil, ErrNotebookNotFound
	}
	state.mu.RLock()
	defer state.mu.RUnlock()
	return copyCursors(state.cursors), nil
}

// RemoveUser drops the user's cursor; text and version are untouched.
func (d *Documents) RemoveUser(room, user string) error {
	state := d.lookup(room)
	if state == nil {
		return ErrNotebookNotFound
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	delete(state.cursors, user)
	return nil
}

func (d *Documents) Rooms() []RoomSummary {
	d.mu.RLock()
	ids := make([]string, 0, len(d.rooms))
	states := make([]*roomState, 0, len(d.rooms))
	for id, state := range d.rooms {
		ids = append(ids, id)
		states = append(states, state)
	}
	d.mu.RUnlock()

	out := make([]RoomSummary, 0, len(ids))
	for i, state := range states {
		state.mu.RLock()
		out = append(out, RoomSummary{
			RoomID:  ids[i],
			Version: state.engine.Version(),
			Length:  len(state.engine.Text()),
			Cursors: len(state.cursors),
		})
		state.mu.RUnlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RoomID < out[j].RoomID })
	return out
}

func copyCursors(in map[string]CursorPosition) map[string]CursorPosition {
	out := make(map[string]CursorPosition, len(in))
	for user, position := range in {
		if position.SelectionStart != nil {
			selection := *position.SelectionStart
			position.SelectionStart = &selection
		}
		out[user] = position
	}
	return out
}
