package dynamokv

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/hashdoc/kv"
)

type txn struct {
	kv.Queue
	backend *Backend
	watched map[string]recordItem
	done    bool
}

// keyState is the pending records-table write for one key.
type keyState struct {
	base          recordItem
	loaded        bool
	fields        map[string]string
	fieldsTouched bool
}

// memberState is the pending index-table write for one member.
type memberState struct {
	indexKey string
	member   string
	score    float64
	present  bool
}

func (t *txn) Commit(ctx context.Context) error {
	if t.done {
		return kv.ErrTxnDone
	}
	t.done = true

	items, err := t.build(ctx)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		return nil
	}
	if len(items) > maxTransactItems {
		return ErrTooManyWrites
	}

	_, err = t.backend.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: items,
	})
	return mapTransactionError(err)
}

func (t *txn) Discard() {
	t.done = true
	t.Reset()
}

// build collapses the queued ops into one transaction action per item.
func (t *txn) build(ctx context.Context) ([]types.TransactWriteItem, error) {
	cfg := t.backend.config

	var keyOrder []string
	keys := make(map[string]*keyState)
	state := func(key string, needBase bool) (*keyState, error) {
		st, ok := keys[key]
		if !ok {
			st = &keyState{base: recordItem{PK: key}}
			if w, watched := t.watched[key]; watched {
				st.base = w
				st.loaded = true
			}
			keys[key] = st
			keyOrder = append(keyOrder, key)
		}
		if needBase && !st.loaded {
			item, err := t.backend.readItem(ctx, key)
			if err != nil {
				return nil, err
			}
			st.base = item
			st.loaded = true
		}
		if st.fields == nil || (needBase && !st.fieldsTouched) {
			st.fields = copyFields(st.base.Fields)
		}
		return st, nil
	}

	var memberOrder []string
	members := make(map[string]*memberState)
	touchMember := func(op kv.Op) *memberState {
		mk := op.Key + "\x00" + op.Member
		ms, ok := members[mk]
		if !ok {
			ms = &memberState{indexKey: op.Key, member: op.Member}
			members[mk] = ms
			memberOrder = append(memberOrder, mk)
		}
		return ms
	}

	for _, op := range t.Ops() {
		switch op.Kind {
		case kv.OpSetFields, kv.OpDeleteFields, kv.OpDeleteKey:
			st, err := state(op.Key, true)
			if err != nil {
				return nil, err
			}
			st.fieldsTouched = true
			switch op.Kind {
			case kv.OpSetFields:
				for name, value := range op.Fields {
					st.fields[name] = value
				}
			case kv.OpDeleteFields:
				for _, name := range op.Names {
					delete(st.fields, name)
				}
			case kv.OpDeleteKey:
				st.fields = map[string]string{}
			}
		case kv.OpAddToIndex:
			if _, err := state(op.Key, false); err != nil {
				return nil, err
			}
			ms := touchMember(op)
			ms.score = op.Score
			ms.present = true
		case kv.OpRemoveFromIndex:
			if _, err := state(op.Key, false); err != nil {
				return nil, err
			}
			ms := touchMember(op)
			ms.present = false
		}
	}

	var items []types.TransactWriteItem
	for _, key := range keyOrder {
		st := keys[key]
		_, watched := t.watched[key]

		if !watched && !st.fieldsTouched {
			// Index-only key nobody watches: bump its version unconditionally.
			items = append(items, types.TransactWriteItem{
				Update: &types.Update{
					TableName:                aws.String(cfg.RecordsTable),
					Key:                      recordKey(key),
					UpdateExpression:         aws.String("ADD #v :one"),
					ExpressionAttributeNames: map[string]string{"#v": AttrVersion},
					ExpressionAttributeValues: map[string]types.AttributeValue{
						":one": &types.AttributeValueMemberN{Value: "1"},
					},
				},
			})
			continue
		}

		if st.fieldsTouched && len(st.fields) == 0 && st.base.Version == 0 {
			// Nothing was stored and nothing will be: no tombstone.
			if watched {
				items = append(items, conditionCheck(cfg.RecordsTable, key, 0))
			}
			continue
		}

		next := recordItem{
			PK:      key,
			Fields:  st.fields,
			Version: st.base.Version + 1,
		}
		if st.fieldsTouched && len(st.fields) == 0 {
			next.Expires = t.backend.now().Add(cfg.TombstoneTTL).Unix()
		}
		item, err := attributevalue.MarshalMap(next)
		if err != nil {
			return nil, fmt.Errorf("dynamokv: marshal %q: %w", key, err)
		}
		cond, names, values := versionCondition(st.base.Version)
		items = append(items, types.TransactWriteItem{
			Put: &types.Put{
				TableName:                 aws.String(cfg.RecordsTable),
				Item:                      item,
				ConditionExpression:       aws.String(cond),
				ExpressionAttributeNames:  names,
				ExpressionAttributeValues: values,
			},
		})
	}

	// Watched keys this transaction does not write still guard it.
	for key, seen := range t.watched {
		if _, written := keys[key]; written {
			continue
		}
		items = append(items, conditionCheck(cfg.RecordsTable, key, seen.Version))
	}

	for _, mk := range memberOrder {
		ms := members[mk]
		if !ms.present {
			items = append(items, types.TransactWriteItem{
				Delete: &types.Delete{
					TableName: aws.String(cfg.IndexTable),
					Key:       memberKey(ms.indexKey, ms.member),
				},
			})
			continue
		}
		item, err := attributevalue.MarshalMap(indexItem{
			IndexKey: ms.indexKey,
			Member:   ms.member,
			Score:    ms.score,
			Rank:     rank(ms.score, ms.member),
		})
		if err != nil {
			return nil, fmt.Errorf("dynamokv: marshal member %q: %w", ms.member, err)
		}
		items = append(items, types.TransactWriteItem{
			Put: &types.Put{
				TableName: aws.String(cfg.IndexTable),
				Item:      item,
			},
		})
	}

	return items, nil
}

// conditionCheck guards key without writing it.
func conditionCheck(table, key string, version int64) types.TransactWriteItem {
	cond, names, values := versionCondition(version)
	return types.TransactWriteItem{
		ConditionCheck: &types.ConditionCheck{
			TableName:                 aws.String(table),
			Key:                       recordKey(key),
			ConditionExpression:       aws.String(cond),
			ExpressionAttributeNames:  names,
			ExpressionAttributeValues: values,
		},
	}
}

// versionCondition matches a records-table item still at version v.
// Version 0 means the item did not exist.
func versionCondition(v int64) (string, map[string]string, map[string]types.AttributeValue) {
	if v == 0 {
		return "attribute_not_exists(#pk)", map[string]string{"#pk": AttrPK}, nil
	}
	return "#v = :v", map[string]string{"#v": AttrVersion}, map[string]types.AttributeValue{
		":v": &types.AttributeValueMemberN{Value: strconv.FormatInt(v, 10)},
	}
}

// mapTransactionError maps DynamoDB transaction errors to kv errors.
func mapTransactionError(err error) error {
	if err == nil {
		return nil
	}

	var txErr *types.TransactionCanceledException
	if errors.As(err, &txErr) {
		for _, reason := range txErr.CancellationReasons {
			if reason.Code == nil {
				continue
			}
			switch *reason.Code {
			case "ConditionalCheckFailed", "TransactionConflict":
				return kv.ErrConflict
			}
		}
	}

	var conflictErr *types.TransactionConflictException
	if errors.As(err, &conflictErr) {
		return kv.ErrConflict
	}

	return fmt.Errorf("dynamokv: transact: %w", err)
}

func copyFields(fields map[string]string) map[string]string {
	cp := make(map[string]string, len(fields))
	for k, v := range fields {
		cp[k] = v
	}
	return cp
}
