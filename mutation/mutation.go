// Package mutation defines the structured feed domquery ingests: full DOM
// snapshots and batched mutation records emitted by an upstream observer.
// Any producer (a live browser watcher, a replay tool, tests) speaks this
// contract.
package mutation

import "fmt"

// Op is the type of DOM mutation observed.
type Op string

const (
	OpInsert   Op = "insert"    // child inserted (includes serialised subtree HTML)
	OpRemove   Op = "remove"    // child removed
	OpText     Op = "text"      // character data modified
	OpAttr     Op = "attr"      // attribute set or modified
	OpAttrDel  Op = "attr_del"  // attribute removed
	OpDocReset Op = "doc_reset" // entire DOM replaced, a fresh snapshot follows
)

// ValidOp reports whether op is a known mutation type.
func ValidOp(op Op) bool {
	switch op {
	case OpInsert, OpRemove, OpText, OpAttr, OpAttrDel, OpDocReset:
		return true
	}
	return false
}

// Record is a single DOM mutation. Selector addresses the affected element
// in the constrained XPath subset the query engine resolves.
type Record struct {
	Op       Op     `json:"op"`
	Selector string `json:"selector"`
	Tag      string `json:"tag,omitempty"`
	Name     string `json:"name,omitempty"`      // attribute name for attr/attr_del
	Value    string `json:"value,omitempty"`     // new value
	OldValue string `json:"old_value,omitempty"` // previous value
	HTML     string `json:"html,omitempty"`      // serialised subtree for insert
}

// Batch is the atomic unit of the feed. One batch = all mutations collected
// during a single upstream debounce window.
type Batch struct {
	ID          string   `json:"id"` // UUIDv7
	PageURL     string   `json:"page_url"`
	PageID      string   `json:"page_id"`
	Seq         uint64   `json:"seq"` // monotonically increasing per page (gap detection)
	Records     []Record `json:"records"`
	Timestamp   int64    `json:"timestamp"`    // epoch milliseconds at flush
	SnapshotRef string   `json:"snapshot_ref"` // ID of the snapshot this batch chains from
}

// Validate checks a batch before it is applied to a mirror.
func (b *Batch) Validate() error {
	if b.PageID == "" {
		return fmt.Errorf("mutation: batch %s: empty page_id", b.ID)
	}
	for i, r := range b.Records {
		if !ValidOp(r.Op) {
			return fmt.Errorf("mutation: batch %s: record %d: unknown op %q", b.ID, i, r.Op)
		}
		if r.Op != OpDocReset && r.Selector == "" {
			return fmt.Errorf("mutation: batch %s: record %d: empty selector", b.ID, i)
		}
	}
	return nil
}

// Snapshot is a complete DOM photo. Emitted at registration, after every
// doc_reset, and whenever the producer decides the incremental chain is no
// longer trustworthy.
type Snapshot struct {
	ID        string `json:"id"` // UUIDv7
	PageURL   string `json:"page_url"`
	PageID    string `json:"page_id"`
	HTML      []byte `json:"html"`      // full serialised DOM
	HTMLHash  string `json:"html_hash"` // SHA-256 hex
	Timestamp int64  `json:"timestamp"` // epoch milliseconds
}
