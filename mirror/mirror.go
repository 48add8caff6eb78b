// Package mirror maintains server-side replicas of observed pages. Each page
// is a dom.Document seeded from a full snapshot and advanced by mutation
// batches; queries and waits run against the replica through a query.Engine.
package mirror

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/hazyhaar/domquery/dom"
	"github.com/hazyhaar/domquery/idgen"
	"github.com/hazyhaar/domquery/mutation"
	"github.com/hazyhaar/domquery/query"
)

var (
	// ErrUnknownPage is returned for a page ID that was never registered.
	ErrUnknownPage = errors.New("mirror: unknown page")
	// ErrSeqGap is returned when a batch does not chain onto the last
	// applied sequence number. The caller must re-seed from a snapshot.
	ErrSeqGap = errors.New("mirror: sequence gap")
	// ErrStale is returned after a doc_reset until a fresh snapshot lands.
	ErrStale = errors.New("mirror: page stale, snapshot required")
)

// Options configures a Mirror.
type Options struct {
	Logger *slog.Logger
	NewID  idgen.Generator
}

func (o *Options) defaults() {
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.NewID == nil {
		o.NewID = idgen.Prefixed("doc_", idgen.Default)
	}
}

// Mirror holds every replicated page.
type Mirror struct {
	mu     sync.RWMutex
	pages  map[string]*Page
	logger *slog.Logger
	newID  idgen.Generator
}

// New creates an empty Mirror.
func New(opts Options) *Mirror {
	opts.defaults()
	return &Mirror{
		pages:  make(map[string]*Page),
		logger: opts.Logger,
		newID:  opts.NewID,
	}
}

// Page is one replicated document and its query engine.
type Page struct {
	ID  string
	URL string

	mu          sync.Mutex
	doc         *dom.Document
	engine      *query.Engine
	seq         uint64
	seeded      bool
	stale       bool
	snapshotID  string
	applied     uint64
	skipped     uint64
	lastBatchID string
}

// Stats are point-in-time counters for one page.
type Stats struct {
	Seq            uint64 `json:"seq"`
	AppliedRecords uint64 `json:"applied_records"`
	SkippedRecords uint64 `json:"skipped_records"`
	Stale          bool   `json:"stale"`
	SnapshotID     string `json:"snapshot_id"`
	LastBatchID    string `json:"last_batch_id"`
	Subscriptions  int    `json:"subscriptions"`
	ShadowRoots    int    `json:"shadow_roots"`
}

// Engine returns the page's query engine. The engine is rebuilt on every
// snapshot load; callers should not cache it across re-seeds.
func (p *Page) Engine() *query.Engine {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.engine
}

// Document returns the underlying replica document.
func (p *Page) Document() *dom.Document {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.doc
}

// Stats returns the page counters.
func (p *Page) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	ds := p.doc.Stats()
	return Stats{
		Seq:            p.seq,
		AppliedRecords: p.applied,
		SkippedRecords: p.skipped,
		Stale:          p.stale,
		SnapshotID:     p.snapshotID,
		LastBatchID:    p.lastBatchID,
		Subscriptions:  ds.Subscriptions,
		ShadowRoots:    ds.ShadowRoots,
	}
}

// Register creates a page replica from raw HTML and returns it. A generated
// page ID is used when pageID is empty.
func (m *Mirror) Register(pageID, url string, html []byte) (*Page, error) {
	snap := &mutation.Snapshot{
		ID:       m.newID(),
		PageID:   pageID,
		PageURL:  url,
		HTML:     html,
		HTMLHash: mutation.HashHTML(html),
	}
	if snap.PageID == "" {
		snap.PageID = m.newID()
	}
	if err := m.LoadSnapshot(snap); err != nil {
		return nil, err
	}
	return m.Get(snap.PageID)
}

// LoadSnapshot seeds (or re-seeds) a page from a full DOM snapshot. The
// replica document and engine are replaced; the sequence chain restarts.
func (m *Mirror) LoadSnapshot(snap *mutation.Snapshot) error {
	if snap.PageID == "" {
		return fmt.Errorf("mirror: snapshot %s: empty page_id", snap.ID)
	}
	doc, err := dom.ParseString(string(snap.HTML))
	if err != nil {
		return fmt.Errorf("mirror: snapshot %s: %w", snap.ID, err)
	}
	engine := query.New(doc,
		query.WithConcealedAccessor(doc.Concealed()),
		query.WithLogger(m.logger),
	)

	m.mu.Lock()
	p, ok := m.pages[snap.PageID]
	if !ok {
		p = &Page{ID: snap.PageID, URL: snap.PageURL}
		m.pages[snap.PageID] = p
	}
	m.mu.Unlock()

	p.mu.Lock()
	p.doc = doc
	p.engine = engine
	p.seq = 0
	p.seeded = true
	p.stale = false
	p.snapshotID = snap.ID
	if snap.PageURL != "" {
		p.URL = snap.PageURL
	}
	p.mu.Unlock()

	m.logger.Info("mirror: snapshot loaded",
		"page_id", snap.PageID, "snapshot_id", snap.ID, "bytes", len(snap.HTML))
	return nil
}

// Get returns a registered page.
func (m *Mirror) Get(pageID string) (*Page, error) {
	m.mu.RLock()
	p, ok := m.pages[pageID]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPage, pageID)
	}
	return p, nil
}

// Remove drops a page replica.
func (m *Mirror) Remove(pageID string) {
	m.mu.Lock()
	delete(m.pages, pageID)
	m.mu.Unlock()
}

// Pages returns the IDs of every registered page.
func (m *Mirror) Pages() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.pages))
	for id := range m.pages {
		out = append(out, id)
	}
	return out
}

// Apply advances a page replica by one mutation batch. Records with
// selectors that no longer resolve are skipped and counted, not fatal: the
// feed and the replica can drift within one debounce window.
func (m *Mirror) Apply(batch *mutation.Batch) error {
	if err := batch.Validate(); err != nil {
		return err
	}
	p, err := m.Get(batch.PageID)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.seeded || p.stale {
		return fmt.Errorf("%w: page %s", ErrStale, p.ID)
	}
	// First batch after a seed anchors the chain; after that it must be
	// contiguous.
	if p.seq != 0 && batch.Seq != p.seq+1 {
		p.stale = true
		return fmt.Errorf("%w: page %s: have %d, got %d", ErrSeqGap, p.ID, p.seq, batch.Seq)
	}

	for i := range batch.Records {
		rec := &batch.Records[i]
		if rec.Op == mutation.OpDocReset {
			p.stale = true
			m.logger.Info("mirror: doc reset", "page_id", p.ID, "batch_id", batch.ID)
			break
		}
		if err := m.applyRecord(p, rec); err != nil {
			p.skipped++
			m.logger.Warn("mirror: record skipped",
				"page_id", p.ID, "batch_id", batch.ID, "op", rec.Op,
				"selector", rec.Selector, "error", err)
			continue
		}
		p.applied++
	}

	p.seq = batch.Seq
	p.lastBatchID = batch.ID
	return nil
}

// applyRecord mutates the replica through Document methods so that wait
// subscriptions fire. Called with p.mu held; the document has its own lock.
func (m *Mirror) applyRecord(p *Page, rec *mutation.Record) error {
	opts := query.ResolveOptions{Strategy: query.StrategyAuto, Pierce: true}
	target := p.engine.ResolveFirst(rec.Selector, opts)
	if target == nil {
		return fmt.Errorf("selector %q did not resolve", rec.Selector)
	}

	switch rec.Op {
	case mutation.OpInsert:
		_, err := p.doc.AppendHTML(target, rec.HTML)
		return err
	case mutation.OpRemove:
		return p.doc.RemoveNode(target)
	case mutation.OpText:
		p.doc.SetText(target, rec.Value)
		return nil
	case mutation.OpAttr:
		p.doc.SetAttr(target, rec.Name, rec.Value)
		return nil
	case mutation.OpAttrDel:
		p.doc.RemoveAttr(target, rec.Name)
		return nil
	}
	return fmt.Errorf("unhandled op %q", rec.Op)
}
