package headless

import (
	"sync"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/page"
)

// lifecycleNetworkAlmostIdle is Chrome's "no more than two in-flight requests
// for 500ms" lifecycle event.
const lifecycleNetworkAlmostIdle = "networkAlmostIdle"

// idleWatcher latches networkAlmostIdle per loader so a waiter that arrives
// after the event still observes it.
type idleWatcher struct {
	mu      sync.Mutex
	idle    map[cdp.LoaderID]bool
	waiters map[cdp.LoaderID]chan struct{}
}

func newIdleWatcher() *idleWatcher {
	return &idleWatcher{
		idle:    make(map[cdp.LoaderID]bool),
		waiters: make(map[cdp.LoaderID]chan struct{}),
	}
}

func (w *idleWatcher) handle(ev any) {
	event, ok := ev.(*page.EventLifecycleEvent)
	if !ok || event.Name != lifecycleNetworkAlmostIdle {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.idle[event.LoaderID] = true
	if ch, ok := w.waiters[event.LoaderID]; ok {
		close(ch)
		delete(w.waiters, event.LoaderID)
	}
}

func (w *idleWatcher) wait(loader cdp.LoaderID) <-chan struct{} {
	w.mu.Lock()
	defer w.mu.Unlock()
	if ch, ok := w.waiters[loader]; ok {
		return ch
	}
	ch := make(chan struct{})
	if w.idle[loader] {
		close(ch)
		return ch
	}
	w.waiters[loader] = ch
	return ch
}
