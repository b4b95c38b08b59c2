package cache

import (
	"container/list"
	"sync"
	"time"
)

const defaultLRUSize = 128

type LRUOpts struct {
	// Size is the maximum number of entries, 128 if not set.
	Size int
	// Now is the clock used for TTL expiry, time.Now if not set.
	Now func() time.Time
}

type entry struct {
	key     string
	val     any
	expires time.Time
}

// LRU is a fixed-size cache evicting the least recently used entry. It is
// safe for concurrent use.
type LRU struct {
	mu    sync.Mutex
	size  int
	now   func() time.Time
	ll    *list.List
	items map[string]*list.Element
}

func NewLRU(opts LRUOpts) *LRU {
	if opts.Size <= 0 {
		opts.Size = defaultLRUSize
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &LRU{
		size:  opts.Size,
		now:   opts.Now,
		ll:    list.New(),
		items: make(map[string]*list.Element, opts.Size),
	}
}

func (l *LRU) Get(key string) (any, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	ele, ok := l.items[key]
	if !ok {
		return nil, false
	}
	e := ele.Value.(*entry)
	if !e.expires.IsZero() && !l.now().Before(e.expires) {
		l.remove(ele)
		return nil, false
	}
	l.ll.MoveToFront(ele)
	return e.val, true
}

func (l *LRU) Put(key string, val any, opts ...PutOption) {
	var po PutOptions
	for _, opt := range opts {
		opt(&po)
	}
	var expires time.Time
	if po.TTL > 0 {
		expires = l.now().Add(po.TTL)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if ele, ok := l.items[key]; ok {
		e := ele.Value.(*entry)
		e.val, e.expires = val, expires
		l.ll.MoveToFront(ele)
		return
	}

	l.items[key] = l.ll.PushFront(&entry{key: key, val: val, expires: expires})
	if l.ll.Len() > l.size {
		l.remove(l.ll.Back())
	}
}

func (l *LRU) Delete(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if ele, ok := l.items[key]; ok {
		l.remove(ele)
	}
}

// Len returns the number of entries, including expired ones not yet evicted.
func (l *LRU) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ll.Len()
}

func (l *LRU) remove(ele *list.Element) {
	l.ll.Remove(ele)
	delete(l.items, ele.Value.(*entry).key)
}

var _ Cache = (*LRU)(nil)
