package schema

import "github.com/apicove/grpcbridge/descriptor"

// Default capacities for the three registry caches.
const (
	DefaultFileCacheSize    = 100
	DefaultMessageCacheSize = 500
	DefaultEnumCacheSize    = 200
)

// orderedCache is a bounded map that remembers insertion order. When an
// insert would exceed the capacity, the oldest tenth of the entries is
// evicted first. This favors recency without per-access bookkeeping, so it
// is deliberately not an LRU.
type orderedCache struct {
	max  int
	keys []string
	m    map[string]interface{}
}

func newOrderedCache(max int) *orderedCache {
	return &orderedCache{max: max, m: make(map[string]interface{})}
}

func (c *orderedCache) put(key string, v interface{}) {
	if _, ok := c.m[key]; ok {
		c.m[key] = v
		return
	}
	if len(c.keys) >= c.max {
		n := c.max / 10
		if n < 1 {
			n = 1
		}
		for _, k := range c.keys[:n] {
			delete(c.m, k)
		}
		c.keys = append(c.keys[:0], c.keys[n:]...)
	}
	c.keys = append(c.keys, key)
	c.m[key] = v
}

func (c *orderedCache) get(key string) (interface{}, bool) {
	v, ok := c.m[key]
	return v, ok
}

func (c *orderedCache) len() int {
	return len(c.keys)
}

func (c *orderedCache) clear() {
	c.keys = nil
	c.m = make(map[string]interface{})
}

// Registry caches raw file descriptors by file name and message/enum schemas
// by fully-qualified name. Message and enum lookups tolerate both the
// leading-dot and plain naming conventions. A Registry is not safe for
// concurrent mutation; callers serialize access by construction.
type Registry struct {
	files    *orderedCache
	messages *orderedCache
	enums    *orderedCache
}

// NewRegistry returns a registry with the default cache capacities.
func NewRegistry() *Registry {
	return NewSizedRegistry(DefaultFileCacheSize, DefaultMessageCacheSize, DefaultEnumCacheSize)
}

// NewSizedRegistry returns a registry with explicit cache capacities,
// mainly for tests and tuned deployments.
func NewSizedRegistry(fileMax, messageMax, enumMax int) *Registry {
	return &Registry{
		files:    newOrderedCache(fileMax),
		messages: newOrderedCache(messageMax),
		enums:    newOrderedCache(enumMax),
	}
}

// PutFile caches a decoded file descriptor under its file name.
func (r *Registry) PutFile(fd *descriptor.FileDescriptor) {
	r.files.put(fd.Name, fd)
}

// File returns a cached file descriptor by file name.
func (r *Registry) File(name string) (*descriptor.FileDescriptor, bool) {
	v, ok := r.files.get(name)
	if !ok {
		return nil, false
	}
	return v.(*descriptor.FileDescriptor), true
}

// PutMessage caches a message schema under its fully-qualified name.
func (r *Registry) PutMessage(s *MessageSchema) {
	s.FullName = normalizeName(s.FullName)
	r.messages.put(s.FullName, s)
}

// Message returns a cached message schema. The name may carry a leading dot.
func (r *Registry) Message(fullName string) (*MessageSchema, bool) {
	v, ok := r.messages.get(normalizeName(fullName))
	if !ok {
		return nil, false
	}
	return v.(*MessageSchema), true
}

// PutEnum caches an enum schema under its fully-qualified name.
func (r *Registry) PutEnum(s *EnumSchema) {
	s.FullName = normalizeName(s.FullName)
	r.enums.put(s.FullName, s)
}

// Enum returns a cached enum schema. The name may carry a leading dot.
func (r *Registry) Enum(fullName string) (*EnumSchema, bool) {
	v, ok := r.enums.get(normalizeName(fullName))
	if !ok {
		return nil, false
	}
	return v.(*EnumSchema), true
}

// Len reports the number of cached files, messages and enums.
func (r *Registry) Len() (files, messages, enums int) {
	return r.files.len(), r.messages.len(), r.enums.len()
}

// Clear empties all three caches. No discovery may be in flight when Clear
// is called.
func (r *Registry) Clear() {
	r.files.clear()
	r.messages.clear()
	r.enums.clear()
}
