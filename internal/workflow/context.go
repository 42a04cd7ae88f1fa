package workflow

// Channel tags who a request came from.
type Channel string

// Request channels.
const (
	ChannelInternal Channel = "internal"
	ChannelExternal Channel = "external"
)

// Valid reports whether c is a known channel.
func (c Channel) Valid() bool {
	return c == ChannelInternal || c == ChannelExternal
}

type entryKey struct{ namespace, key string }

// Context is the per-request key/value store shared by steps. Writes made
// during an attempt are staged and only become visible to later steps
// once the attempt succeeds. A Context has a single writer: the engine
// runs steps one at a time.
type Context struct {
	RequestID string
	Channel   Channel
	Account   string

	committed map[entryKey]any
	staged    map[entryKey]any
}

// NewContext creates an empty context.
func NewContext(requestID string, channel Channel, account string) *Context {
	return &Context{
		RequestID: requestID,
		Channel:   channel,
		Account:   account,
		committed: make(map[entryKey]any),
	}
}

// Set stages a value.
func (c *Context) Set(namespace, key string, value any) {
	if c.staged == nil {
		c.staged = make(map[entryKey]any)
	}
	c.staged[entryKey{namespace, key}] = value
}

// Get returns a value, preferring the current attempt's staged writes.
func (c *Context) Get(namespace, key string) (any, bool) {
	k := entryKey{namespace, key}
	if v, ok := c.staged[k]; ok {
		return v, true
	}
	v, ok := c.committed[k]
	return v, ok
}

func (c *Context) commit() {
	for k, v := range c.staged {
		c.committed[k] = v
	}
	c.staged = nil
}

func (c *Context) discard() {
	c.staged = nil
}

// Value returns the value at namespace/key converted to T.
func Value[T any](c *Context, namespace, key string) (T, bool) {
	v, ok := c.Get(namespace, key)
	if !ok {
		var zero T
		return zero, false
	}
	t, ok := v.(T)
	return t, ok
}
