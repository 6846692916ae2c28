// Package txn builds conditional multi-op transactions (the "envelope")
// submitted to the agency store. An envelope is an ordered list of tuples;
// the consensus layer applies each tuple independently and atomically: a
// precondition failure in one tuple never rolls back an earlier tuple.
package txn

import (
    "encoding/json"
    "errors"
)

// ErrBadEnvelope is returned for structural errors caught at build time.
// Preconditions that are merely unmet at apply time are not an error here;
// that rejection is surfaced by the consensus/store layer as a no-op.
var ErrBadEnvelope = errors.New("txn: bad envelope")

// OpKind identifies a write operation verb.
type OpKind string

const (
    OpSet       OpKind = "set"
    OpDelete    OpKind = "delete"
    OpIncrement OpKind = "increment"
    OpMerge     OpKind = "merge"
)

// Op is one write against a single path.
type Op struct {
    Path  string      `json:"path"`
    Kind  OpKind      `json:"op"`
    Value interface{} `json:"value,omitempty"`
    Step  uint64      `json:"step,omitempty"`
}

// PrecKind identifies a precondition verb.
type PrecKind string

const (
    PrecOldEmpty PrecKind = "oldEmpty"
    PrecEq       PrecKind = "eq"
    PrecIsArray  PrecKind = "isArray"
)

// Precondition is a key/value assertion that must hold in the committed
// store for the tuple containing it to be applied.
type Precondition struct {
    Path  string      `json:"path"`
    Kind  PrecKind    `json:"kind"`
    Value interface{} `json:"value,omitempty"`
}

// Tuple is one independently-applied element of an Envelope. A tuple with
// Ops/Preconditions both empty and a non-empty Reads is a pure read-back,
// used by getUniqueIds to observe the result of the previous write tuple in
// the same envelope.
type Tuple struct {
    Ops           []Op           `json:"ops,omitempty"`
    Preconditions []Precondition `json:"preconditions,omitempty"`
    Reads         []string       `json:"reads,omitempty"`
}

// IsRead reports whether t is a pure read-back tuple.
func (t Tuple) IsRead() bool {
    return len(t.Ops) == 0 && len(t.Preconditions) == 0 && len(t.Reads) > 0
}

// Envelope is the ordered list of tuples submitted in a single write.
type Envelope []Tuple

// Marshal/Unmarshal let the envelope travel as a single RAFT log entry.
func (e Envelope) Marshal() ([]byte, error) { return json.Marshal(e) }

func Unmarshal(data []byte) (Envelope, error) {
    var e Envelope
    if err := json.Unmarshal(data, &e); err != nil {
        return nil, err
    }
    return e, nil
}

// Builder assembles an Envelope. Zero value is ready to use.
type Builder struct {
    tuples  []Tuple
    cur     *Tuple
    badPath bool
}

// New returns a ready Builder.
func New() *Builder { return &Builder{} }

// Tuple starts a new independent (ops, preconditions) element. Call before
// adding operations/preconditions belonging to it.
func (b *Builder) Tuple() *Builder {
    b.closeTuple()
    b.cur = &Tuple{}
    return b
}

func (b *Builder) closeTuple() {
    if b.cur != nil {
        b.tuples = append(b.tuples, *b.cur)
        b.cur = nil
    }
}

func (b *Builder) ensure() *Tuple {
    if b.cur == nil {
        b.cur = &Tuple{}
    }
    return b.cur
}

// Set adds a set operation.
func (b *Builder) Set(path string, value interface{}) *Builder {
    if path == "" {
        b.badPath = true
        return b
    }
    t := b.ensure()
    t.Ops = append(t.Ops, Op{Path: path, Kind: OpSet, Value: value})
    return b
}

// Delete adds a delete operation.
func (b *Builder) Delete(path string) *Builder {
    if path == "" {
        b.badPath = true
        return b
    }
    t := b.ensure()
    t.Ops = append(t.Ops, Op{Path: path, Kind: OpDelete})
    return b
}

// Increment adds an increment operation with the given step.
func (b *Builder) Increment(path string, step uint64) *Builder {
    if path == "" {
        b.badPath = true
        return b
    }
    t := b.ensure()
    t.Ops = append(t.Ops, Op{Path: path, Kind: OpIncrement, Step: step})
    return b
}

// Merge adds an object-merge operation.
func (b *Builder) Merge(path string, obj map[string]interface{}) *Builder {
    if path == "" {
        b.badPath = true
        return b
    }
    t := b.ensure()
    t.Ops = append(t.Ops, Op{Path: path, Kind: OpMerge, Value: obj})
    return b
}

// OldEmpty adds a precondition that path does not yet exist.
func (b *Builder) OldEmpty(path string) *Builder {
    t := b.ensure()
    t.Preconditions = append(t.Preconditions, Precondition{Path: path, Kind: PrecOldEmpty})
    return b
}

// Eq adds a precondition that path currently equals value.
func (b *Builder) Eq(path string, value interface{}) *Builder {
    t := b.ensure()
    t.Preconditions = append(t.Preconditions, Precondition{Path: path, Kind: PrecEq, Value: value})
    return b
}

// IsArray adds a precondition that path is currently an array.
func (b *Builder) IsArray(path string) *Builder {
    t := b.ensure()
    t.Preconditions = append(t.Preconditions, Precondition{Path: path, Kind: PrecIsArray})
    return b
}

// Read starts (and immediately closes) a pure read-back tuple.
func (b *Builder) Read(paths ...string) *Builder {
    b.closeTuple()
    b.tuples = append(b.tuples, Tuple{Reads: paths})
    return b
}

// Build finalizes the envelope, returning ErrBadEnvelope for structural
// errors caught at build time (e.g. an empty path passed to an operation).
func (b *Builder) Build() (Envelope, error) {
    b.closeTuple()
    if b.badPath {
        return nil, ErrBadEnvelope
    }
    for _, t := range b.tuples {
        if !t.IsRead() && len(t.Ops) == 0 {
            return nil, ErrBadEnvelope
        }
    }
    return b.tuples, nil
}
