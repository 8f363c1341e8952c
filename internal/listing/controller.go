package listing

import (
	"context"
	"errors"
	"log"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dtgportal/portalsync/internal/portal"
	"github.com/dtgportal/portalsync/internal/remote"
)

const (
	defaultDebounce = 250 * time.Millisecond
	defaultPageSize = 5
)

type Logger interface {
	Printf(format string, args ...any)
}

// Controller drives the orders/quotes listing: it coalesces rapid account,
// tab, and page changes through a trailing-edge debounce, tags every fetch
// with a generation so superseded completions are discarded, and keeps the
// last successful fetch key so re-selecting the same view skips the network.
type Controller struct {
	client   remote.Client
	debounce time.Duration
	logger   Logger

	mu             sync.Mutex
	closed         bool
	timer          *time.Timer
	generation     uint64
	cancel         context.CancelFunc
	query          remote.AccountQuery
	lastKey        string
	lastScope      string
	snapshot       *portal.AccountPage
	entries        []portal.ListingEntry
	loadingAccount bool
	loadingRemote  bool
	lastErr        error
}

type ControllerOptions struct {
	Client   remote.Client
	Debounce time.Duration
	Kind     portal.Kind
	Logger   Logger
}

func NewController(opts ControllerOptions) *Controller {
	debounce := opts.Debounce
	if debounce <= 0 {
		debounce = defaultDebounce
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	kind := opts.Kind
	if !kind.Valid() {
		kind = portal.KindQuote
	}
	return &Controller{
		client:   opts.Client,
		debounce: debounce,
		logger:   logger,
		query:    remote.AccountQuery{Kind: kind, Page: 1},
	}
}

// SetAccount switches the selected account. An empty account clears the view
// without fetching.
func (c *Controller) SetAccount(name string) {
	c.mu.Lock()
	name = strings.TrimSpace(name)
	if c.query.AccountName == name {
		c.mu.Unlock()
		return
	}
	c.query.AccountName = name
	c.query.Page = 1
	c.mu.Unlock()
	c.Request()
}

// SetKind switches between the orders and quotes tabs. The cached key is
// dropped so the new tab always fetches.
func (c *Controller) SetKind(kind portal.Kind) {
	if !kind.Valid() {
		return
	}
	c.mu.Lock()
	if c.query.Kind == kind {
		c.mu.Unlock()
		return
	}
	c.query.Kind = kind
	c.query.Page = 1
	c.lastKey = ""
	c.snapshot = nil
	c.entries = nil
	c.lastErr = nil
	c.loadingAccount = true
	c.cancelInFlightLocked()
	c.mu.Unlock()
	c.Request()
}

// SetPage moves to another page of the current view. Same page is a no-op.
func (c *Controller) SetPage(page int) {
	if page <= 0 {
		page = 1
	}
	c.mu.Lock()
	if c.query.Page == page {
		c.mu.Unlock()
		return
	}
	c.query.Page = page
	c.snapshot = nil
	c.lastErr = nil
	c.cancelInFlightLocked()
	c.mu.Unlock()
	c.Request()
}

func (c *Controller) SetSearch(search string) {
	c.mu.Lock()
	search = strings.TrimSpace(search)
	if c.query.Search == search {
		c.mu.Unlock()
		return
	}
	c.query.Search = search
	c.query.Page = 1
	c.mu.Unlock()
	c.Request()
}

// Refresh drops the cached key and schedules a fetch of the current view.
func (c *Controller) Refresh() {
	c.mu.Lock()
	c.lastKey = ""
	c.snapshot = nil
	c.lastErr = nil
	c.mu.Unlock()
	c.Request()
}

// Request schedules a fetch of the current view after the debounce interval.
// Only the trailing request of a burst fires. A view identical to the last
// successful one is served from memory and never reaches the network.
func (c *Controller) Request() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	if c.query.AccountName == "" {
		c.stopTimerLocked()
		c.snapshot = nil
		c.entries = nil
		c.lastErr = nil
		c.lastScope = ""
		c.loadingAccount = false
		c.loadingRemote = false
		return
	}
	key := fetchKey(c.query)
	if c.lastKey == key && c.lastErr == nil && c.snapshot != nil {
		return
	}
	query := c.query
	c.stopTimerLocked()
	c.timer = time.AfterFunc(c.debounce, func() {
		c.fire(key, query)
	})
}

func (c *Controller) fire(key string, query remote.AccountQuery) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.generation++
	generation := c.generation
	c.cancelInFlightLocked()
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel

	// The account flag follows the last attempted scope, not the success
	// cache key.
	scope := fetchScope(key)
	scopeChanged := c.lastScope == "" || c.lastScope != scope
	c.lastScope = scope
	c.loadingRemote = true
	c.loadingAccount = scopeChanged
	c.lastErr = nil
	c.snapshot = nil
	c.mu.Unlock()

	go c.run(ctx, generation, key, query)
}

func (c *Controller) run(ctx context.Context, generation uint64, key string, query remote.AccountQuery) {
	page, err := c.client.AccountData(ctx, query)

	c.mu.Lock()
	defer c.mu.Unlock()
	if generation != c.generation || c.closed {
		return
	}
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		c.logger.Printf("listing: account-data fetch failed: %v", err)
		c.lastErr = err
		c.lastKey = ""
		c.entries = nil
	} else {
		c.snapshot = &page
		c.entries = page.Entries
		c.lastKey = key
	}
	c.loadingRemote = false
	c.loadingAccount = false
}

// Close cancels any pending debounce and in-flight fetch.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.stopTimerLocked()
	c.cancelInFlightLocked()
}

func (c *Controller) stopTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

func (c *Controller) cancelInFlightLocked() {
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
}

func (c *Controller) Entries() []portal.ListingEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	entries := make([]portal.ListingEntry, len(c.entries))
	copy(entries, c.entries)
	return entries
}

func (c *Controller) LoadingAccount() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loadingAccount
}

func (c *Controller) LoadingRemote() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loadingRemote
}

func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

func (c *Controller) Page() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.query.Page
}

func (c *Controller) Kind() portal.Kind {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.query.Kind
}

// TotalItems prefers the backend-reported count and falls back to the number
// of entries on this page.
func (c *Controller) TotalItems() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.snapshot != nil && c.snapshot.TotalCount > 0 {
		return c.snapshot.TotalCount
	}
	return len(c.entries)
}

func (c *Controller) PageSize() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.snapshot != nil && c.snapshot.PageSize > 0 {
		return c.snapshot.PageSize
	}
	return defaultPageSize
}

func (c *Controller) TotalPages() int {
	total := c.TotalItems()
	size := c.PageSize()
	pages := (total + size - 1) / size
	if pages < 1 {
		pages = 1
	}
	return pages
}

func fetchKey(query remote.AccountQuery) string {
	v := url.Values{}
	v.Set("account_name", query.AccountName)
	v.Set("type", string(query.Kind)+"s")
	if query.Search != "" {
		v.Set("search", query.Search)
	}
	page := query.Page
	if page <= 0 {
		page = 1
	}
	return v.Encode() + "&page=" + strconv.Itoa(page)
}

// fetchScope is the key without its page component. A scope change means the
// account, tab, or search changed rather than just pagination.
func fetchScope(key string) string {
	if idx := strings.LastIndex(key, "&page="); idx >= 0 {
		return key[:idx]
	}
	return key
}
