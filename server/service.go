// Package server exposes the mirror and query engine over HTTP and MCP.
// Both surfaces share the same typed operations; transports only decode and
// map errors.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/net/html"

	"github.com/hazyhaar/domquery/audit"
	"github.com/hazyhaar/domquery/browser"
	"github.com/hazyhaar/domquery/dom"
	"github.com/hazyhaar/domquery/kit"
	"github.com/hazyhaar/domquery/mirror"
	"github.com/hazyhaar/domquery/mutation"
	"github.com/hazyhaar/domquery/query"
)

// ErrBadRequest wraps client-side validation failures.
var ErrBadRequest = errors.New("server: bad request")

// Options configures a Service.
type Options struct {
	Mirror  *mirror.Mirror
	Audit   *audit.SQLiteLogger // nil disables query logging
	Capture *browser.Manager    // nil disables registration by URL
	Logger  *slog.Logger

	WaitDefault time.Duration
	WaitMax     time.Duration
}

func (o *Options) defaults() {
	if o.Mirror == nil {
		o.Mirror = mirror.New(mirror.Options{Logger: o.Logger})
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.WaitDefault <= 0 {
		o.WaitDefault = query.DefaultWaitTimeout
	}
	if o.WaitMax <= 0 {
		o.WaitMax = 5 * time.Minute
	}
}

// Service answers document registration, query, and wait operations.
type Service struct {
	mirror  *mirror.Mirror
	auditor *audit.SQLiteLogger
	capture *browser.Manager
	logger  *slog.Logger

	waitDefault time.Duration
	waitMax     time.Duration
}

// New creates a Service.
func New(opts Options) *Service {
	opts.defaults()
	return &Service{
		mirror:      opts.Mirror,
		auditor:     opts.Audit,
		capture:     opts.Capture,
		logger:      opts.Logger,
		waitDefault: opts.WaitDefault,
		waitMax:     opts.WaitMax,
	}
}

// Mirror returns the underlying mirror.
func (s *Service) Mirror() *mirror.Mirror { return s.mirror }

// RegisterRequest registers a document, either from inline HTML or by
// capturing a live page when only a URL is given.
type RegisterRequest struct {
	PageID string `json:"page_id,omitempty"`
	URL    string `json:"url,omitempty"`
	HTML   string `json:"html,omitempty"`
}

// RegisterResponse reports the registered page.
type RegisterResponse struct {
	PageID     string `json:"page_id"`
	SnapshotID string `json:"snapshot_id"`
}

// Register creates or re-seeds a page replica.
func (s *Service) Register(ctx context.Context, req *RegisterRequest) (*RegisterResponse, error) {
	start := time.Now()
	resp, err := s.register(ctx, req)
	s.auditLog(ctx, &audit.Entry{
		Action:     "register",
		PageID:     req.PageID,
		DurationMs: time.Since(start).Milliseconds(),
		Error:      errString(err),
	})
	return resp, err
}

func (s *Service) register(ctx context.Context, req *RegisterRequest) (*RegisterResponse, error) {
	if req.HTML == "" && req.URL == "" {
		return nil, fmt.Errorf("%w: html or url required", ErrBadRequest)
	}

	if req.HTML != "" {
		p, err := s.mirror.Register(req.PageID, req.URL, []byte(req.HTML))
		if err != nil {
			return nil, err
		}
		return &RegisterResponse{PageID: p.ID, SnapshotID: p.Stats().SnapshotID}, nil
	}

	if s.capture == nil {
		return nil, fmt.Errorf("%w: no browser configured, inline html required", ErrBadRequest)
	}
	snap, err := s.capture.Capture(ctx, req.URL, req.PageID)
	if err != nil {
		return nil, err
	}
	if snap.PageID == "" {
		snap.PageID = snap.ID
	}
	if err := s.mirror.LoadSnapshot(snap); err != nil {
		return nil, err
	}
	return &RegisterResponse{PageID: snap.PageID, SnapshotID: snap.ID}, nil
}

// Match is the serialised form of one resolved element.
type Match struct {
	Tag   string            `json:"tag"`
	Attrs map[string]string `json:"attrs,omitempty"`
	Text  string            `json:"text,omitempty"`
}

// ResolveRequest resolves a selector against a page replica.
type ResolveRequest struct {
	PageID   string `json:"page_id"`
	Selector string `json:"selector"`
	Strategy string `json:"strategy,omitempty"` // auto | native | composed
	Pierce   *bool  `json:"pierce,omitempty"`   // default true
	Limit    int    `json:"limit,omitempty"`
}

// ResolveResponse lists the matches in document discovery order.
type ResolveResponse struct {
	Matches []Match `json:"matches"`
	Total   int     `json:"total"`
}

// Resolve returns every element matching the selector.
func (s *Service) Resolve(ctx context.Context, req *ResolveRequest) (*ResolveResponse, error) {
	start := time.Now()
	resp, err := s.resolve(ctx, req)
	e := &audit.Entry{
		Action:     "resolve",
		PageID:     req.PageID,
		Selector:   req.Selector,
		Strategy:   req.Strategy,
		DurationMs: time.Since(start).Milliseconds(),
		Error:      errString(err),
	}
	if resp != nil {
		e.Matches = resp.Total
	}
	s.auditLog(ctx, e)
	return resp, err
}

func (s *Service) resolve(_ context.Context, req *ResolveRequest) (*ResolveResponse, error) {
	p, opts, err := s.pageAndOptions(req.PageID, req.Strategy, req.Pierce)
	if err != nil {
		return nil, err
	}

	// Serialization happens inside the resolution pass so node reads cannot
	// race a concurrent batch apply.
	matches := []Match{}
	total := p.Engine().ResolveFunc(req.Selector, opts, func(n *html.Node) {
		if req.Limit > 0 && len(matches) >= req.Limit {
			return
		}
		matches = append(matches, serializeMatch(n))
	})
	return &ResolveResponse{Matches: matches, Total: total}, nil
}

// CountRequest counts the matches of a selector.
type CountRequest struct {
	PageID   string `json:"page_id"`
	Selector string `json:"selector"`
	Strategy string `json:"strategy,omitempty"`
	Pierce   *bool  `json:"pierce,omitempty"`
}

// CountResponse carries the match count.
type CountResponse struct {
	Count int `json:"count"`
}

// Count returns the number of elements matching the selector.
func (s *Service) Count(ctx context.Context, req *CountRequest) (*CountResponse, error) {
	start := time.Now()
	resp, err := s.count(req)
	e := &audit.Entry{
		Action:     "count",
		PageID:     req.PageID,
		Selector:   req.Selector,
		Strategy:   req.Strategy,
		DurationMs: time.Since(start).Milliseconds(),
		Error:      errString(err),
	}
	if resp != nil {
		e.Matches = resp.Count
	}
	s.auditLog(ctx, e)
	return resp, err
}

func (s *Service) count(req *CountRequest) (*CountResponse, error) {
	p, opts, err := s.pageAndOptions(req.PageID, req.Strategy, req.Pierce)
	if err != nil {
		return nil, err
	}
	return &CountResponse{Count: p.Engine().Count(req.Selector, opts)}, nil
}

// WaitRequest blocks until a selector reaches a lifecycle state.
type WaitRequest struct {
	PageID    string `json:"page_id"`
	Selector  string `json:"selector"`
	State     string `json:"state,omitempty"` // attached | detached | visible | hidden
	TimeoutMs int64  `json:"timeout_ms,omitempty"`
	Strategy  string `json:"strategy,omitempty"`
	Pierce    *bool  `json:"pierce,omitempty"`
}

// WaitResponse reports a satisfied wait.
type WaitResponse struct {
	Satisfied bool   `json:"satisfied"`
	State     string `json:"state"`
	WaitedMs  int64  `json:"waited_ms"`
}

// Wait blocks until the selector reaches the requested state or the timeout
// elapses. Timeouts surface as *query.TimeoutError.
func (s *Service) Wait(ctx context.Context, req *WaitRequest) (*WaitResponse, error) {
	start := time.Now()
	resp, err := s.wait(ctx, req)
	s.auditLog(ctx, &audit.Entry{
		Action:     "wait",
		PageID:     req.PageID,
		Selector:   req.Selector,
		State:      req.State,
		Strategy:   req.Strategy,
		DurationMs: time.Since(start).Milliseconds(),
		Error:      errString(err),
	})
	return resp, err
}

func (s *Service) wait(ctx context.Context, req *WaitRequest) (*WaitResponse, error) {
	p, _, err := s.pageAndOptions(req.PageID, req.Strategy, req.Pierce)
	if err != nil {
		return nil, err
	}

	state := query.State(req.State)
	if req.State == "" {
		state = query.StateVisible
	}
	if !query.ValidState(state) {
		return nil, fmt.Errorf("%w: unknown state %q", ErrBadRequest, req.State)
	}

	timeout := s.waitDefault
	if req.TimeoutMs > 0 {
		timeout = time.Duration(req.TimeoutMs) * time.Millisecond
	}
	if timeout > s.waitMax {
		timeout = s.waitMax
	}

	opts := query.WaitOptions{
		State:    state,
		Timeout:  timeout,
		Pierce:   req.Pierce == nil || *req.Pierce,
		Strategy: query.Strategy(req.Strategy),
	}

	start := time.Now()
	if err := p.Engine().WaitForSelector(ctx, req.Selector, opts); err != nil {
		return nil, err
	}
	return &WaitResponse{
		Satisfied: true,
		State:     string(state),
		WaitedMs:  time.Since(start).Milliseconds(),
	}, nil
}

// ApplyResponse reports an applied batch.
type ApplyResponse struct {
	Seq     uint64 `json:"seq"`
	Applied uint64 `json:"applied_records"`
	Skipped uint64 `json:"skipped_records"`
}

// Apply advances a page replica by one mutation batch.
func (s *Service) Apply(ctx context.Context, batch *mutation.Batch) (*ApplyResponse, error) {
	start := time.Now()
	err := s.mirror.Apply(batch)
	s.auditLog(ctx, &audit.Entry{
		Action:     "apply_batch",
		PageID:     batch.PageID,
		Parameters: fmt.Sprintf(`{"batch_id":%q,"seq":%d,"records":%d}`, batch.ID, batch.Seq, len(batch.Records)),
		DurationMs: time.Since(start).Milliseconds(),
		Error:      errString(err),
	})
	if err != nil {
		return nil, err
	}
	p, err := s.mirror.Get(batch.PageID)
	if err != nil {
		return nil, err
	}
	st := p.Stats()
	return &ApplyResponse{Seq: st.Seq, Applied: st.AppliedRecords, Skipped: st.SkippedRecords}, nil
}

// PageStats returns the mirror counters for one page.
func (s *Service) PageStats(pageID string) (*mirror.Stats, error) {
	p, err := s.mirror.Get(pageID)
	if err != nil {
		return nil, err
	}
	st := p.Stats()
	return &st, nil
}

func (s *Service) pageAndOptions(pageID, strategy string, pierce *bool) (*mirror.Page, query.ResolveOptions, error) {
	var opts query.ResolveOptions
	p, err := s.mirror.Get(pageID)
	if err != nil {
		return nil, opts, err
	}
	switch strategy {
	case "", string(query.StrategyAuto), string(query.StrategyNative), string(query.StrategyComposed):
	default:
		return nil, opts, fmt.Errorf("%w: unknown strategy %q", ErrBadRequest, strategy)
	}
	opts = query.ResolveOptions{
		Strategy: query.Strategy(strategy),
		Pierce:   pierce == nil || *pierce,
	}
	if opts.Strategy == "" {
		opts.Strategy = query.StrategyAuto
	}
	return p, opts, nil
}

func serializeMatch(n *html.Node) Match {
	m := Match{Tag: n.Data}
	if len(n.Attr) > 0 {
		m.Attrs = make(map[string]string, len(n.Attr))
		for _, a := range n.Attr {
			m.Attrs[a.Key] = a.Val
		}
	}
	m.Text = dom.NormalizeSpace(dom.TextContent(n))
	return m
}

func (s *Service) auditLog(ctx context.Context, e *audit.Entry) {
	if s.auditor == nil {
		return
	}
	e.Transport = kit.GetTransport(ctx)
	e.RequestID = kit.GetRequestID(ctx)
	e.RemoteAddr = kit.GetRemoteAddr(ctx)
	s.auditor.LogAsync(e)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
