package collab

import (
	"fmt"
	"sort"
	"time"
)

// Widget is the sequencer's view of one dashboard widget: layout box plus a
// flat bag of config fields. Rendering is someone else's problem.
type Widget struct {
	ID         string         `json:"id"`
	WidgetType string         `json:"widgetType"`
	Position   Position       `json:"position"`
	Size       Dimensions     `json:"size"`
	Fields     map[string]any `json:"fields,omitempty"`
}

type fieldWrite struct {
	seq    uint64
	author uint64
}

// Board holds the canonical state of one dashboard. It is a pure state
// machine with no locking: the owning session actor is its only caller, so
// no two operations for the same dashboard ever apply concurrently.
type Board struct {
	dashboardID string
	version     uint64
	widgets     map[string]*Widget
	// deleted remembers the version at which a widget id was removed, so a
	// stale move/resize/update can be told apart from a reference to an id
	// that never existed.
	deleted map[string]uint64
	// fieldWrites tracks, per widget field, the sequence and author of the
	// last write. Drives field-wise merge and FIELD_OVERWRITTEN notices.
	fieldWrites map[string]map[string]fieldWrite
	// 去重窗口：记录每个 clientId 最近一次的 clientSeq。
	lastSeqByClient map[string]uint64
	// appliedOps maps operation id to its sequence, so a redelivered
	// operation (same id, no clientSeq) is rejected instead of resequenced.
	appliedOps map[string]uint64
}

func NewBoard(dashboardID string) *Board {
	return &Board{
		dashboardID:     dashboardID,
		widgets:         make(map[string]*Widget),
		deleted:         make(map[string]uint64),
		fieldWrites:     make(map[string]map[string]fieldWrite),
		lastSeqByClient: make(map[string]uint64),
		appliedOps:      make(map[string]uint64),
	}
}

func (b *Board) DashboardID() string { return b.dashboardID }
func (b *Board) Version() uint64     { return b.version }

func (b *Board) HasWidget(id string) bool {
	_, ok := b.widgets[id]
	return ok
}

// Widgets returns a deterministic snapshot copy, sorted by id.
func (b *Board) Widgets() []Widget {
	out := make([]Widget, 0, len(b.widgets))
	for _, w := range b.widgets {
		cp := *w
		if w.Fields != nil {
			cp.Fields = make(map[string]any, len(w.Fields))
			for k, v := range w.Fields {
				cp.Fields[k] = v
			}
		}
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Apply sequences one operation against current state. On success the board
// version has advanced by exactly 1 (unless the result is a no-op, which
// leaves the version untouched). On a conflict error the board is unchanged.
func (b *Board) Apply(op Operation) (Applied, error) {
	if op.ID != "" {
		if seq, ok := b.appliedOps[op.ID]; ok {
			return Applied{}, fmt.Errorf("operation %s already sequenced at %d: %w", op.ID, seq, ErrDuplicateOrOutOfOrder)
		}
	}
	if op.ClientID != "" {
		if last := b.lastSeqByClient[op.ClientID]; op.ClientSeq != 0 && op.ClientSeq <= last {
			return Applied{}, ErrDuplicateOrOutOfOrder
		}
	}
	if op.BaseVersion > b.version {
		// Client claims a version the board has never reached.
		return Applied{}, fmt.Errorf("base %d ahead of board %d: %w", op.BaseVersion, b.version, ErrStaleOperation)
	}

	var applied Applied
	var err error
	switch op.Type {
	case OpAdd:
		applied, err = b.applyAdd(op)
	case OpDelete:
		applied, err = b.applyDelete(op)
	case OpMove, OpResize:
		applied, err = b.applyLayout(op)
	case OpUpdate:
		applied, err = b.applyUpdate(op)
	default:
		return Applied{}, fmt.Errorf("opType %q: %w", op.Type, ErrStaleOperation)
	}
	if err != nil {
		return Applied{}, err
	}

	if op.ClientID != "" && op.ClientSeq != 0 {
		b.lastSeqByClient[op.ClientID] = op.ClientSeq
	}
	if op.ID != "" {
		b.appliedOps[op.ID] = applied.Sequence
	}
	applied.AppliedAt = time.Now()
	return applied, nil
}

func (b *Board) applyAdd(op Operation) (Applied, error) {
	if _, ok := b.widgets[op.WidgetID]; ok {
		// Ids are client-generated and unique; a collision means a replayed
		// submission that slipped past the clientSeq window.
		return Applied{}, fmt.Errorf("widget %s already exists: %w", op.WidgetID, ErrDuplicateOrOutOfOrder)
	}
	spec := op.Widget
	w := &Widget{
		ID:         op.WidgetID,
		WidgetType: spec.WidgetType,
		Position:   spec.Position,
		Size:       spec.Size,
	}
	if len(spec.Fields) > 0 {
		w.Fields = make(map[string]any, len(spec.Fields))
		for k, v := range spec.Fields {
			w.Fields[k] = v
		}
	}
	b.widgets[op.WidgetID] = w
	delete(b.deleted, op.WidgetID)
	b.version++
	seq := b.version
	for k := range w.Fields {
		b.recordFieldWrite(op.WidgetID, k, seq, op.AuthorID)
	}
	return Applied{Operation: op, Sequence: seq, Version: b.version}, nil
}

func (b *Board) applyDelete(op Operation) (Applied, error) {
	if _, ok := b.widgets[op.WidgetID]; !ok {
		// Already deleted (or never seen): idempotent success, version
		// unchanged, nothing to broadcast.
		return Applied{Operation: op, Sequence: b.version, Version: b.version, NoOp: true}, nil
	}
	delete(b.widgets, op.WidgetID)
	delete(b.fieldWrites, op.WidgetID)
	b.version++
	b.deleted[op.WidgetID] = b.version
	return Applied{Operation: op, Sequence: b.version, Version: b.version}, nil
}

func (b *Board) applyLayout(op Operation) (Applied, error) {
	w, err := b.target(op)
	if err != nil {
		return Applied{}, err
	}
	if op.Type == OpMove {
		w.Position = *op.Pos
	} else {
		w.Size = *op.Size
	}
	b.version++
	return Applied{Operation: op, Sequence: b.version, Version: b.version}, nil
}

func (b *Board) applyUpdate(op Operation) (Applied, error) {
	w, err := b.target(op)
	if err != nil {
		return Applied{}, err
	}

	// Field-wise merge: only the named fields change. A field last written
	// by an operation the submitter had not seen (seq > base) means the
	// earlier writer loses to this later-sequenced op and gets notified.
	var overwrites []FieldOverwrite
	seq := b.version + 1
	for _, k := range sortedKeys(op.Fields) {
		v := op.Fields[k]
		if prev, ok := b.fieldWrites[op.WidgetID][k]; ok && prev.seq > op.BaseVersion && prev.author != op.AuthorID {
			overwrites = append(overwrites, FieldOverwrite{
				WidgetID:      op.WidgetID,
				Field:         k,
				LosingAuthor:  prev.author,
				WinningValue:  v,
				WinningSeq:    seq,
				WinningAuthor: op.AuthorID,
			})
		}
		if w.Fields == nil {
			w.Fields = make(map[string]any)
		}
		w.Fields[k] = v
		b.recordFieldWrite(op.WidgetID, k, seq, op.AuthorID)
	}
	b.version++
	return Applied{Operation: op, Sequence: b.version, Version: b.version, Overwrites: overwrites}, nil
}

func (b *Board) target(op Operation) (*Widget, error) {
	if w, ok := b.widgets[op.WidgetID]; ok {
		return w, nil
	}
	if _, gone := b.deleted[op.WidgetID]; gone {
		return nil, fmt.Errorf("widget %s: %w", op.WidgetID, ErrDeletedTarget)
	}
	return nil, fmt.Errorf("widget %s unknown: %w", op.WidgetID, ErrStaleOperation)
}

func (b *Board) recordFieldWrite(widgetID, field string, seq, author uint64) {
	m := b.fieldWrites[widgetID]
	if m == nil {
		m = make(map[string]fieldWrite)
		b.fieldWrites[widgetID] = m
	}
	m[field] = fieldWrite{seq: seq, author: author}
}

// Replay re-applies a canonical operation from the change log during
// rehydration. Operations at or below the current version are skipped, so
// redelivery is a no-op; a gap in sequence numbers is a corrupt log.
func (b *Board) Replay(a Applied) error {
	if a.NoOp || a.Sequence <= b.version {
		return nil
	}
	if a.Sequence != b.version+1 {
		return fmt.Errorf("replay gap: have %d, next op is %d", b.version, a.Sequence)
	}
	op := a.Operation
	switch op.Type {
	case OpAdd:
		if _, err := b.applyAdd(op); err != nil {
			return err
		}
	case OpDelete:
		if _, err := b.applyDelete(op); err != nil {
			return err
		}
	case OpMove, OpResize:
		if _, err := b.applyLayout(op); err != nil {
			return err
		}
	case OpUpdate:
		if _, err := b.applyUpdate(op); err != nil {
			return err
		}
	default:
		return fmt.Errorf("replay: unknown opType %q", op.Type)
	}
	if op.ClientID != "" && op.ClientSeq > b.lastSeqByClient[op.ClientID] {
		b.lastSeqByClient[op.ClientID] = op.ClientSeq
	}
	if op.ID != "" {
		b.appliedOps[op.ID] = a.Sequence
	}
	return nil
}

// LoadSnapshot seeds the board from the persistent widget store before the
// change-log tail is replayed on top.
func (b *Board) LoadSnapshot(version uint64, widgets []Widget) {
	b.version = version
	b.widgets = make(map[string]*Widget, len(widgets))
	for i := range widgets {
		w := widgets[i]
		b.widgets[w.ID] = &w
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
