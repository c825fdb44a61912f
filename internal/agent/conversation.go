package agent

import (
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Exchange is one user turn and the reply it got. Response is empty while
// the turn is still running.
type Exchange struct {
	TurnID   string
	Input    string
	Response string
	At       time.Time
}

func (e Exchange) String() string {
	if e.Response == "" {
		return fmt.Sprintf("User: %s | Assistant: (pending)", e.Input)
	}
	return fmt.Sprintf("User: %s | Assistant: %s", e.Input, e.Response)
}

// ConversationCache keeps the last few exchanges per user in memory. The
// number of users is bounded by an LRU; the store remains the system of
// record.
type ConversationCache struct {
	mu    sync.Mutex
	size  int
	users *lru.Cache[string, *ring]
}

func NewConversationCache(maxUsers, size int) (*ConversationCache, error) {
	if size <= 0 {
		return nil, fmt.Errorf("history size must be positive, got %d", size)
	}
	users, err := lru.New[string, *ring](maxUsers)
	if err != nil {
		return nil, err
	}
	return &ConversationCache{size: size, users: users}, nil
}

func (c *ConversationCache) Append(userID string, e Exchange) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.users.Get(userID)
	if !ok {
		r = &ring{buf: make([]Exchange, c.size)}
		c.users.Add(userID, r)
	}
	r.push(e)
}

// Complete sets the reply of the cached exchange with turnID. It reports
// false when that exchange has already been pushed out.
func (c *ConversationCache) Complete(userID, turnID, response string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.users.Peek(userID)
	if !ok {
		return false
	}
	for i := 0; i < r.n; i++ {
		e := &r.buf[(r.start+i)%len(r.buf)]
		if e.TurnID == turnID {
			e.Response = response
			return true
		}
	}
	return false
}

// Recent returns the cached exchanges for userID, oldest first.
func (c *ConversationCache) Recent(userID string) []Exchange {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.users.Get(userID)
	if !ok {
		return nil
	}
	return r.items()
}

// Users returns how many users currently have cached history.
func (c *ConversationCache) Users() int {
	return c.users.Len()
}

// ring is a fixed-capacity buffer that overwrites its oldest entry.
type ring struct {
	buf   []Exchange
	start int
	n     int
}

func (r *ring) push(e Exchange) {
	if r.n < len(r.buf) {
		r.buf[(r.start+r.n)%len(r.buf)] = e
		r.n++
		return
	}
	r.buf[r.start] = e
	r.start = (r.start + 1) % len(r.buf)
}

func (r *ring) items() []Exchange {
	out := make([]Exchange, r.n)
	for i := 0; i < r.n; i++ {
		out[i] = r.buf[(r.start+i)%len(r.buf)]
	}
	return out
}
