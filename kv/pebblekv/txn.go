package pebblekv

import (
	"context"
	"encoding/binary"
	"errors"

	"github.com/cockroachdb/pebble"

	"github.com/jacentio/hashdoc/kv"
)

type txn struct {
	kv.Queue
	backend *Backend
	watched map[string]uint64
	done    bool
}

type memberState struct {
	score   uint64
	present bool
}

func (t *txn) Commit(ctx context.Context) error {
	if t.done {
		return kv.ErrTxnDone
	}
	t.done = true
	if err := ctx.Err(); err != nil {
		return err
	}

	b := t.backend
	b.mu.Lock()
	defer b.mu.Unlock()

	for key, seen := range t.watched {
		cur, err := b.version(key)
		if err != nil {
			return err
		}
		if cur != seen {
			return kv.ErrConflict
		}
	}

	batch := b.db.NewBatch()
	defer batch.Close()

	// Index membership as modified by earlier ops in this batch.
	members := make(map[string]memberState)
	lookup := func(indexKey, member string) (memberState, error) {
		mk := string(memberKey(indexKey, member))
		if st, ok := members[mk]; ok {
			return st, nil
		}
		v, closer, err := b.db.Get([]byte(mk))
		if err != nil {
			if errors.Is(err, pebble.ErrNotFound) {
				return memberState{}, nil
			}
			return memberState{}, err
		}
		defer closer.Close()
		return memberState{score: binary.BigEndian.Uint64(v), present: true}, nil
	}

	for _, op := range t.Ops() {
		if err := checkKey(op.Key); err != nil {
			return err
		}
		switch op.Kind {
		case kv.OpSetFields:
			for name, value := range op.Fields {
				if err := batch.Set(fieldKey(op.Key, name), []byte(value), nil); err != nil {
					return err
				}
			}
		case kv.OpDeleteFields:
			for _, name := range op.Names {
				if err := batch.Delete(fieldKey(op.Key, name), nil); err != nil {
					return err
				}
			}
		case kv.OpDeleteKey:
			prefix := fieldPrefix(op.Key)
			if err := batch.DeleteRange(prefix, prefixEnd(prefix), nil); err != nil {
				return err
			}
		case kv.OpAddToIndex, kv.OpRemoveFromIndex:
			st, err := lookup(op.Key, op.Member)
			if err != nil {
				return err
			}
			if st.present {
				if err := batch.Delete(scoreKey(op.Key, st.score, op.Member), nil); err != nil {
					return err
				}
			}
			mk := memberKey(op.Key, op.Member)
			if op.Kind == kv.OpRemoveFromIndex {
				if err := batch.Delete(mk, nil); err != nil {
					return err
				}
				members[string(mk)] = memberState{}
				continue
			}
			score := sortableScore(op.Score)
			if err := batch.Set(mk, uint64Bytes(score), nil); err != nil {
				return err
			}
			if err := batch.Set(scoreKey(op.Key, score, op.Member), nil, nil); err != nil {
				return err
			}
			members[string(mk)] = memberState{score: score, present: true}
		}
	}

	for _, key := range t.Keys() {
		cur, err := b.version(key)
		if err != nil {
			return err
		}
		if err := batch.Set(versionKey(key), uint64Bytes(cur+1), nil); err != nil {
			return err
		}
	}

	return batch.Commit(b.writeOpts)
}

func (t *txn) Discard() {
	t.done = true
	t.Reset()
}
