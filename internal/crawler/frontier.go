package crawler

// Frontier is the FIFO work queue of normalized URLs waiting to be
// fetched. A URL enters the frontier at most once per process: the
// visited set only ever grows. The crawl loop is single-threaded, so
// the frontier needs no locking.
type Frontier struct {
	queue   []string
	visited map[string]bool
	limit   int
	dropped int
}

// DefaultFrontierLimit bounds queue growth on pathological sites.
const DefaultFrontierLimit = 100000

// NewFrontier creates a frontier holding at most limit queued URLs.
// A limit of 0 means DefaultFrontierLimit.
func NewFrontier(limit int) *Frontier {
	if limit <= 0 {
		limit = DefaultFrontierLimit
	}
	return &Frontier{
		visited: make(map[string]bool),
		limit:   limit,
	}
}

// Push enqueues a normalized URL. Returns false if the URL was seen
// before or the frontier is full.
func (f *Frontier) Push(u string) bool {
	if f.visited[u] {
		return false
	}
	if len(f.queue) >= f.limit {
		f.dropped++
		return false
	}
	f.visited[u] = true
	f.queue = append(f.queue, u)
	return true
}

// Pop dequeues the oldest URL. Returns false when the frontier is empty.
func (f *Frontier) Pop() (string, bool) {
	if len(f.queue) == 0 {
		return "", false
	}
	u := f.queue[0]
	f.queue = f.queue[1:]
	return u, true
}

// Seen reports whether the URL was ever pushed or marked.
func (f *Frontier) Seen(u string) bool {
	return f.visited[u]
}

// MarkSeen records a URL as visited without queueing it.
func (f *Frontier) MarkSeen(u string) {
	f.visited[u] = true
}

// Len returns the number of queued URLs.
func (f *Frontier) Len() int {
	return len(f.queue)
}

// Dropped returns how many pushes were refused by the size limit.
func (f *Frontier) Dropped() int {
	return f.dropped
}
