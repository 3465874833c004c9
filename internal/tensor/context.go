package tensor

import "fmt"

// Context is a per-request arena: a name→tensor map plus an alias mapping
// used when an operator's output simply renames an input, so a downstream
// consumer resolving "producer:k" never needs to know whether "producer:k"
// is a fresh tensor or someone else's renamed output (spec §3). A Context
// is never shared across requests; Reset releases its tensors for reuse by
// the next request on the same goroutine.
type Context struct {
	tensors map[string]*Tensor
	aliases map[string]string
}

// NewContext constructs an empty per-request context.
func NewContext() *Context {
	return &Context{
		tensors: make(map[string]*Tensor),
		aliases: make(map[string]string),
	}
}

// Alloc allocates a named tensor with the given dtype and shape, stores it
// under name, and returns the mutable tensor for the caller to populate.
func (c *Context) Alloc(name string, dtype DType, shape []int64) *Tensor {
	t := New(name, dtype, shape)
	c.tensors[name] = t
	return t
}

// Put stores an already-built tensor under name, overwriting any existing
// binding (including an alias — Put always wins).
func (c *Context) Put(name string, t *Tensor) {
	delete(c.aliases, name)
	c.tensors[name] = t
}

// Alias records that name should resolve to target, transitively if target
// is itself an alias, without copying the underlying tensor.
func (c *Context) Alias(name, target string) {
	c.aliases[name] = target
}

// Get resolves name through the alias chain and returns the backing
// tensor, or (nil, false) if name is bound to neither a tensor nor an
// alias. A chain longer than the number of distinct names recorded means a
// cycle; Get returns (nil, false) rather than looping forever.
func (c *Context) Get(name string) (*Tensor, bool) {
	seen := make(map[string]bool)
	cur := name
	for {
		if seen[cur] {
			return nil, false
		}
		seen[cur] = true
		if t, ok := c.tensors[cur]; ok {
			return t, true
		}
		next, ok := c.aliases[cur]
		if !ok {
			return nil, false
		}
		cur = next
	}
}

// MustGet resolves name like Get, panicking with a descriptive message on
// failure. Kernels use it only after validating the input exists, per
// their declared contract (spec §4.5: "validated input tensor names exist
// with the required dtypes and shapes" happens before this is called).
func (c *Context) MustGet(name string) *Tensor {
	t, ok := c.Get(name)
	if !ok {
		panic(fmt.Sprintf("tensor: %q not bound in context", name))
	}
	return t
}

// Has reports whether name resolves to a tensor.
func (c *Context) Has(name string) bool {
	_, ok := c.Get(name)
	return ok
}

// Names returns every directly-bound tensor name (not including aliases),
// primarily for diagnostics and tests.
func (c *Context) Names() []string {
	names := make([]string, 0, len(c.tensors))
	for n := range c.tensors {
		names = append(names, n)
	}
	return names
}

// Reset clears the context's tensors and aliases so it can be reused for
// another request, approximating the "freed when the context is destroyed
// at end of request" per-request arena (spec §5) without forcing a fresh
// allocation of the maps themselves.
func (c *Context) Reset() {
	for k := range c.tensors {
		delete(c.tensors, k)
	}
	for k := range c.aliases {
		delete(c.aliases, k)
	}
}
