package kv

// OpKind identifies a queued write.
type OpKind uint8

const (
	OpSetFields OpKind = iota + 1
	OpDeleteFields
	OpDeleteKey
	OpAddToIndex
	OpRemoveFromIndex
)

func (k OpKind) String() string {
	switch k {
	case OpSetFields:
		return "set_fields"
	case OpDeleteFields:
		return "delete_fields"
	case OpDeleteKey:
		return "delete_key"
	case OpAddToIndex:
		return "add_to_index"
	case OpRemoveFromIndex:
		return "remove_from_index"
	}
	return "unknown"
}

// Op is one queued write. Key is the hash key or, for index ops, the index key.
type Op struct {
	Kind   OpKind
	Key    string
	Fields map[string]string
	Names  []string
	Score  float64
	Member string
}

// Queue records writes in the order they were issued. Backends embed it in
// their Txn implementations and replay Ops on Commit.
type Queue struct {
	ops []Op
}

func (q *Queue) SetFields(key string, fields map[string]string) {
	if len(fields) == 0 {
		return
	}
	cp := make(map[string]string, len(fields))
	for k, v := range fields {
		cp[k] = v
	}
	q.ops = append(q.ops, Op{Kind: OpSetFields, Key: key, Fields: cp})
}

func (q *Queue) DeleteFields(key string, names ...string) {
	if len(names) == 0 {
		return
	}
	q.ops = append(q.ops, Op{Kind: OpDeleteFields, Key: key, Names: append([]string(nil), names...)})
}

func (q *Queue) DeleteKey(key string) {
	q.ops = append(q.ops, Op{Kind: OpDeleteKey, Key: key})
}

func (q *Queue) AddToIndex(indexKey string, score float64, member string) {
	q.ops = append(q.ops, Op{Kind: OpAddToIndex, Key: indexKey, Score: score, Member: member})
}

func (q *Queue) RemoveFromIndex(indexKey string, member string) {
	q.ops = append(q.ops, Op{Kind: OpRemoveFromIndex, Key: indexKey, Member: member})
}

// Ops returns the queued writes in issue order.
func (q *Queue) Ops() []Op {
	return q.ops
}

// Keys returns every key the queue writes, in first-touch order.
func (q *Queue) Keys() []string {
	seen := make(map[string]bool, len(q.ops))
	var keys []string
	for _, op := range q.ops {
		if !seen[op.Key] {
			seen[op.Key] = true
			keys = append(keys, op.Key)
		}
	}
	return keys
}

// Reset drops all queued writes.
func (q *Queue) Reset() {
	q.ops = nil
}
