package saga

import "github.com/google/uuid"

// Context is the scratch space shared by the steps of a single saga execution.
// It is owned by exactly one execution, never persisted, and discarded once
// Execute returns. Steps communicate downstream results through it.
type Context struct {
	id       string
	sagaType string
	values   map[string]any
}

func NewContext(sagaType string) *Context {
	return &Context{
		id:       uuid.NewString(),
		sagaType: sagaType,
		values:   make(map[string]any),
	}
}

func (c *Context) SagaID() string   { return c.id }
func (c *Context) SagaType() string { return c.sagaType }

func (c *Context) Set(key string, v any) {
	c.values[key] = v
}

func (c *Context) Get(key string) (any, bool) {
	v, ok := c.values[key]
	return v, ok
}

func (c *Context) String(key string) string {
	v, _ := c.values[key].(string)
	return v
}

// Value fetches a typed entry from the context. The second return is false
// when the key is absent or holds a different type.
func Value[T any](c *Context, key string) (T, bool) {
	v, ok := c.values[key].(T)
	return v, ok
}
