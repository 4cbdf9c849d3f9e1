package state

// collection is an id-keyed sub-state with insertion order preserved for
// records that a merge does not touch. A collection starts absent
// (initialized == false); only a full snapshot hydrates it. Absent and
// hydrated-but-empty are different states and the accessors keep them apart.
type collection[T any] struct {
	initialized bool
	byID        map[int64]*T
	order       []int64
}

// replaceAll hydrates the collection with a full snapshot, discarding
// whatever was there before.
func (c *collection[T]) replaceAll(items []*T, id func(*T) int64) []int64 {
	c.initialized = true
	c.byID = make(map[int64]*T, len(items))
	c.order = c.order[:0]
	touched := make([]int64, 0, len(items))
	for _, item := range items {
		key := id(item)
		if _, dup := c.byID[key]; !dup {
			c.order = append(c.order, key)
		}
		c.byID[key] = item
		touched = append(touched, key)
	}
	return touched
}

// upsert replaces the record with the same id wholesale (never merging
// field-by-field, so a partial record can't corrupt an existing one) or
// appends it when the id is new. Ordering of untouched records is preserved.
func (c *collection[T]) upsert(item *T, key int64) {
	if _, exists := c.byID[key]; !exists {
		c.order = append(c.order, key)
	}
	c.byID[key] = item
}

// remove deletes a record by id. Removing an unknown id is a no-op.
func (c *collection[T]) remove(key int64) bool {
	if _, exists := c.byID[key]; !exists {
		return false
	}
	delete(c.byID, key)
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	return true
}

// ordered returns the records in insertion order.
func (c *collection[T]) ordered() []*T {
	if !c.initialized {
		return nil
	}
	out := make([]*T, 0, len(c.order))
	for _, key := range c.order {
		out = append(out, c.byID[key])
	}
	return out
}

// clear returns the collection to the pre-init absent state.
func (c *collection[T]) clear() {
	c.initialized = false
	c.byID = nil
	c.order = nil
}
