package sync

import (
	"context"
	"encoding/json"
	"fmt"
	gosync "sync"

	"github.com/tonimelisma/o365-sync/internal/graph"
)

// fakeGraph is a scripted DeltaFetcher and AttachmentLister. Baseline pages
// are keyed by resource path, continuation pages by link.
type fakeGraph struct {
	mu          gosync.Mutex
	pages       map[string]*graph.DeltaPage
	errs        map[string][]error // consumed front to back before pages
	attachments map[string][]graph.Item
	calls       []string
}

func newFakeGraph() *fakeGraph {
	return &fakeGraph{
		pages:       make(map[string]*graph.DeltaPage),
		errs:        make(map[string][]error),
		attachments: make(map[string][]graph.Item),
	}
}

func (f *fakeGraph) Delta(_ context.Context, res graph.Resource, link string) (*graph.DeltaPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	target := link
	if target == "" {
		target = res.Path
	}

	f.calls = append(f.calls, target)

	if queued := f.errs[target]; len(queued) > 0 {
		f.errs[target] = queued[1:]
		return nil, queued[0]
	}

	page, ok := f.pages[target]
	if !ok {
		return nil, fmt.Errorf("fakeGraph: no page scripted for %q", target)
	}

	return page, nil
}

func (f *fakeGraph) ListAttachments(_ context.Context, userID, messageID string) ([]graph.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	target := "attachments:" + userID + "/" + messageID
	f.calls = append(f.calls, target)

	if queued := f.errs[target]; len(queued) > 0 {
		f.errs[target] = queued[1:]
		return nil, queued[0]
	}

	return f.attachments[userID+"/"+messageID], nil
}

// page scripts a response for target.
func (f *fakeGraph) page(target string, p *graph.DeltaPage) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.pages[target] = p
}

// fail queues errors returned before target's scripted page.
func (f *fakeGraph) fail(target string, errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.errs[target] = append(f.errs[target], errs...)
}

func (f *fakeGraph) callCount(target string) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	n := 0

	for _, c := range f.calls {
		if c == target {
			n++
		}
	}

	return n
}

// countingInvalidator records Invalidate calls.
type countingInvalidator struct {
	mu gosync.Mutex
	n  int
}

func (c *countingInvalidator) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.n++
}

func (c *countingInvalidator) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.n
}

func item(id string) graph.Item {
	return graph.Item{ID: id, Raw: json.RawMessage(fmt.Sprintf(`{"id":%q}`, id))}
}

func removedItem(id string) graph.Item {
	return graph.Item{
		ID:      id,
		Removed: true,
		Raw:     json.RawMessage(fmt.Sprintf(`{"id":%q,"@removed":{"reason":"deleted"}}`, id)),
	}
}

func items(ids ...string) []graph.Item {
	out := make([]graph.Item, 0, len(ids))
	for _, id := range ids {
		out = append(out, item(id))
	}

	return out
}

func unauthorized() error {
	return &graph.GraphError{StatusCode: 401, Message: "InvalidAuthenticationToken", Err: graph.ErrUnauthorized}
}
