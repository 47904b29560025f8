package util

import (
	"container/list"
	"fmt"
	"sync"
	"time"
)

// entry 是链表节点中保存的数据。
type entry[K comparable, V any] struct {
	key        K
	value      V
	expiration time.Time
}

// LRUCache 是一个线程安全的泛型 LRU 缓存，支持容量上限和可选的 TTL。
type LRUCache[K comparable, V any] struct {
	capacity int
	ttl      time.Duration
	ll       *list.List
	items    map[K]*list.Element
	lock     sync.Mutex
	now      func() time.Time
}

// NewLRU 创建一个 LRU 缓存。capacity 必须大于 0；ttl 为 0 表示条目永不过期。
func NewLRU[K comparable, V any](capacity int, ttl time.Duration) (*LRUCache[K, V], error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("LRU 容量必须大于 0，当前为 %d", capacity)
	}
	return &LRUCache[K, V]{
		capacity: capacity,
		ttl:      ttl,
		ll:       list.New(),
		items:    make(map[K]*list.Element),
		now:      time.Now,
	}, nil
}

// Get 返回 key 对应的值，并把它标记为最近使用。过期条目在读取时被动淘汰。
func (c *LRUCache[K, V]) Get(key K) (V, bool) {
	c.lock.Lock()
	defer c.lock.Unlock()

	var zero V
	el, ok := c.items[key]
	if !ok {
		return zero, false
	}
	e := el.Value.(*entry[K, V])
	if c.expired(e) {
		c.removeElement(el)
		return zero, false
	}
	c.ll.MoveToFront(el)
	return e.value, true
}

// Put 写入或覆盖一个键值对。
func (c *LRUCache[K, V]) Put(key K, value V) {
	c.lock.Lock()
	defer c.lock.Unlock()

	if el, ok := c.items[key]; ok {
		e := el.Value.(*entry[K, V])
		e.value = value
		e.expiration = c.expiry()
		c.ll.MoveToFront(el)
		return
	}
	c.insert(key, value)
}

// PutIfAbsent 只在 key 不存在（或已过期）时写入，返回是否发生了写入。
func (c *LRUCache[K, V]) PutIfAbsent(key K, value V) bool {
	c.lock.Lock()
	defer c.lock.Unlock()

	if el, ok := c.items[key]; ok {
		if !c.expired(el.Value.(*entry[K, V])) {
			return false
		}
		c.removeElement(el)
	}
	c.insert(key, value)
	return true
}

// Remove 删除一个条目。
func (c *LRUCache[K, V]) Remove(key K) {
	c.lock.Lock()
	defer c.lock.Unlock()
	if el, ok := c.items[key]; ok {
		c.removeElement(el)
	}
}

// Len 返回当前缓存中的条目数量（包括尚未被动淘汰的过期条目）。
func (c *LRUCache[K, V]) Len() int {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.ll.Len()
}

// insert 假设调用方已持有锁。
func (c *LRUCache[K, V]) insert(key K, value V) {
	el := c.ll.PushFront(&entry[K, V]{key: key, value: value, expiration: c.expiry()})
	c.items[key] = el
	for c.ll.Len() > c.capacity {
		c.removeElement(c.ll.Back())
	}
}

func (c *LRUCache[K, V]) expiry() time.Time {
	if c.ttl <= 0 {
		return time.Time{}
	}
	return c.now().Add(c.ttl)
}

func (c *LRUCache[K, V]) expired(e *entry[K, V]) bool {
	return c.ttl > 0 && c.now().After(e.expiration)
}

func (c *LRUCache[K, V]) removeElement(el *list.Element) {
	c.ll.Remove(el)
	delete(c.items, el.Value.(*entry[K, V]).key)
}
