package dynamokv

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// fakeDynamo is an in-memory DynamoDB that understands exactly the requests
// dynamokv issues.
type fakeDynamo struct {
	mu     sync.Mutex
	tables map[string]map[string]map[string]types.AttributeValue

	transactCalls []*dynamodb.TransactWriteItemsInput
	createCalls   []*dynamodb.CreateTableInput
	ttlCalls      []*dynamodb.UpdateTimeToLiveInput
	transactErr   error
}

func newFakeDynamo() *fakeDynamo {
	return &fakeDynamo{tables: make(map[string]map[string]map[string]types.AttributeValue)}
}

func (f *fakeDynamo) table(name string) map[string]map[string]types.AttributeValue {
	t, ok := f.tables[name]
	if !ok {
		t = make(map[string]map[string]types.AttributeValue)
		f.tables[name] = t
	}
	return t
}

func str(av types.AttributeValue) string {
	if s, ok := av.(*types.AttributeValueMemberS); ok {
		return s.Value
	}
	return ""
}

func num(av types.AttributeValue) string {
	if n, ok := av.(*types.AttributeValueMemberN); ok {
		return n.Value
	}
	return ""
}

func itemKey(item map[string]types.AttributeValue) string {
	if ik, ok := item[AttrIndexKey]; ok {
		return str(ik) + "\x00" + str(item[AttrMember])
	}
	return str(item[AttrPK])
}

func (f *fakeDynamo) GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	item, ok := f.table(*params.TableName)[itemKey(params.Key)]
	if !ok {
		return &dynamodb.GetItemOutput{}, nil
	}
	return &dynamodb.GetItemOutput{Item: item}, nil
}

func (f *fakeDynamo) Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	want := str(params.ExpressionAttributeValues[":ik"])
	var items []map[string]types.AttributeValue
	for _, item := range f.table(*params.TableName) {
		if str(item[AttrIndexKey]) == want {
			items = append(items, item)
		}
	}

	sortAttr := AttrMember
	if params.IndexName != nil && *params.IndexName == RankIndex {
		sortAttr = AttrRank
	}
	sort.Slice(items, func(i, j int) bool {
		return str(items[i][sortAttr]) < str(items[j][sortAttr])
	})
	if params.ScanIndexForward != nil && !*params.ScanIndexForward {
		for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
			items[i], items[j] = items[j], items[i]
		}
	}

	out := &dynamodb.QueryOutput{Count: int32(len(items))}
	if params.Select != types.SelectCount {
		out.Items = items
	}
	return out, nil
}

func (f *fakeDynamo) TransactWriteItems(ctx context.Context, params *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transactCalls = append(f.transactCalls, params)
	if f.transactErr != nil {
		return nil, f.transactErr
	}

	reasons := make([]types.CancellationReason, len(params.TransactItems))
	failed := false
	for i, ti := range params.TransactItems {
		ok := true
		switch {
		case ti.Put != nil:
			ok = f.check(*ti.Put.TableName, itemKey(ti.Put.Item), ti.Put.ConditionExpression, ti.Put.ExpressionAttributeValues)
		case ti.ConditionCheck != nil:
			ok = f.check(*ti.ConditionCheck.TableName, itemKey(ti.ConditionCheck.Key), ti.ConditionCheck.ConditionExpression, ti.ConditionCheck.ExpressionAttributeValues)
		}
		code := "None"
		if !ok {
			code = "ConditionalCheckFailed"
			failed = true
		}
		reasons[i] = types.CancellationReason{Code: &code}
	}
	if failed {
		msg := "Transaction cancelled"
		return nil, &types.TransactionCanceledException{Message: &msg, CancellationReasons: reasons}
	}

	for _, ti := range params.TransactItems {
		switch {
		case ti.Put != nil:
			f.table(*ti.Put.TableName)[itemKey(ti.Put.Item)] = ti.Put.Item
		case ti.Delete != nil:
			delete(f.table(*ti.Delete.TableName), itemKey(ti.Delete.Key))
		case ti.Update != nil:
			if *ti.Update.UpdateExpression != "ADD #v :one" {
				return nil, fmt.Errorf("fake: unsupported update %q", *ti.Update.UpdateExpression)
			}
			t := f.table(*ti.Update.TableName)
			k := itemKey(ti.Update.Key)
			item := map[string]types.AttributeValue{}
			for name, v := range t[k] {
				item[name] = v
			}
			for name, v := range ti.Update.Key {
				item[name] = v
			}
			cur, _ := strconv.ParseInt(num(item[AttrVersion]), 10, 64)
			item[AttrVersion] = &types.AttributeValueMemberN{Value: strconv.FormatInt(cur+1, 10)}
			t[k] = item
		}
	}
	return &dynamodb.TransactWriteItemsOutput{}, nil
}

func (f *fakeDynamo) check(table, key string, cond *string, values map[string]types.AttributeValue) bool {
	if cond == nil {
		return true
	}
	item, exists := f.table(table)[key]
	switch *cond {
	case "attribute_not_exists(#pk)":
		return !exists
	case "#v = :v":
		return exists && num(item[AttrVersion]) == num(values[":v"])
	}
	return false
}

func (f *fakeDynamo) CreateTable(ctx context.Context, params *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls = append(f.createCalls, params)
	f.table(*params.TableName)
	return &dynamodb.CreateTableOutput{}, nil
}

func (f *fakeDynamo) DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error) {
	return &dynamodb.DescribeTableOutput{
		Table: &types.TableDescription{
			TableName:   params.TableName,
			TableStatus: types.TableStatusActive,
		},
	}, nil
}

func (f *fakeDynamo) UpdateTimeToLive(ctx context.Context, params *dynamodb.UpdateTimeToLiveInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateTimeToLiveOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ttlCalls = append(f.ttlCalls, params)
	return &dynamodb.UpdateTimeToLiveOutput{}, nil
}
