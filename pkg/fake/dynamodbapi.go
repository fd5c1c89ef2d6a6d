/*
Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package fake

import (
	"context"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	dynamodbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	sdk "github.com/cloudnap/cloudnap/pkg/aws"
)

// MockedRequest tracks calls and injects errors for one table operation.
// DynamoDB inputs and outputs hold interface-typed attribute values that
// the JSON-cloning MockedFunction cannot round-trip, so the table fake
// uses this leaner shape.
type MockedRequest struct {
	Error AtomicError

	calls atomic.Int32
}

func (m *MockedRequest) Reset() {
	m.Error.Reset()
	m.calls.Store(0)
}

func (m *MockedRequest) Calls() int {
	return int(m.calls.Load())
}

// DynamoDBBehavior must be reset between tests otherwise tests will
// pollute each other.
type DynamoDBBehavior struct {
	GetItemBehavior    MockedRequest
	PutItemBehavior    MockedRequest
	UpdateItemBehavior MockedRequest
	QueryBehavior      MockedRequest
}

// DynamoDBAPI backs the store with an in-memory single table. It
// understands only the expression shapes the store actually issues:
// key lookups, conditional puts, SET updates and single-attribute key
// condition queries on the table or an index.
type DynamoDBAPI struct {
	sdk.DynamoDBAPI
	DynamoDBBehavior

	mu    sync.RWMutex
	items map[string]map[string]dynamodbtypes.AttributeValue
}

// Reset must be called between tests otherwise tests will pollute
// each other.
func (d *DynamoDBAPI) Reset() {
	d.GetItemBehavior.Reset()
	d.PutItemBehavior.Reset()
	d.UpdateItemBehavior.Reset()
	d.QueryBehavior.Reset()

	d.mu.Lock()
	defer d.mu.Unlock()
	d.items = nil
}

// Count returns the number of rows in the table.
func (d *DynamoDBAPI) Count() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.items)
}

// Items returns a snapshot of every row in the table.
func (d *DynamoDBAPI) Items() []map[string]dynamodbtypes.AttributeValue {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var items []map[string]dynamodbtypes.AttributeValue
	for _, item := range d.items {
		items = append(items, copyItem(item))
	}
	return items
}

func itemKey(item map[string]dynamodbtypes.AttributeValue) string {
	return stringAttr(item, "pk") + "\x00" + stringAttr(item, "sk")
}

func stringAttr(item map[string]dynamodbtypes.AttributeValue, name string) string {
	if av, ok := item[name].(*dynamodbtypes.AttributeValueMemberS); ok {
		return av.Value
	}
	return ""
}

func (d *DynamoDBAPI) GetItem(_ context.Context, input *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	d.GetItemBehavior.calls.Add(1)
	if err := d.GetItemBehavior.Error.Get(); err != nil {
		return nil, err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	item, ok := d.items[itemKey(input.Key)]
	if !ok {
		return &dynamodb.GetItemOutput{}, nil
	}
	return &dynamodb.GetItemOutput{Item: copyItem(item)}, nil
}

func (d *DynamoDBAPI) PutItem(_ context.Context, input *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	d.PutItemBehavior.calls.Add(1)
	if err := d.PutItemBehavior.Error.Get(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	key := itemKey(input.Item)
	if input.ConditionExpression != nil && strings.Contains(*input.ConditionExpression, "attribute_not_exists") {
		if _, exists := d.items[key]; exists {
			return nil, &dynamodbtypes.ConditionalCheckFailedException{Message: strPtr("The conditional request failed")}
		}
	}
	if d.items == nil {
		d.items = map[string]map[string]dynamodbtypes.AttributeValue{}
	}
	d.items[key] = copyItem(input.Item)
	return &dynamodb.PutItemOutput{}, nil
}

func (d *DynamoDBAPI) UpdateItem(_ context.Context, input *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	d.UpdateItemBehavior.calls.Add(1)
	if err := d.UpdateItemBehavior.Error.Get(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	key := itemKey(input.Key)
	item, exists := d.items[key]
	if !exists {
		if input.ConditionExpression != nil && strings.Contains(*input.ConditionExpression, "attribute_exists") {
			return nil, &dynamodbtypes.ConditionalCheckFailedException{Message: strPtr("The conditional request failed")}
		}
		item = copyItem(input.Key)
		if d.items == nil {
			d.items = map[string]map[string]dynamodbtypes.AttributeValue{}
		}
		d.items[key] = item
	}
	// Apply a "SET attr = :val, ..." expression literally.
	expr := strings.TrimPrefix(strings.TrimSpace(*input.UpdateExpression), "SET ")
	for _, clause := range strings.Split(expr, ",") {
		parts := strings.SplitN(clause, "=", 2)
		if len(parts) != 2 {
			continue
		}
		attr := strings.TrimSpace(parts[0])
		ref := strings.TrimSpace(parts[1])
		if val, ok := input.ExpressionAttributeValues[ref]; ok {
			item[attr] = val
		}
	}
	return &dynamodb.UpdateItemOutput{}, nil
}

func (d *DynamoDBAPI) Query(_ context.Context, input *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	d.QueryBehavior.calls.Add(1)
	if err := d.QueryBehavior.Error.Get(); err != nil {
		return nil, err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()

	keyAttr, keyValue, skPrefix := parseKeyCondition(input)
	var matched []map[string]dynamodbtypes.AttributeValue
	for _, item := range d.items {
		if stringAttr(item, keyAttr) != keyValue {
			continue
		}
		if skPrefix != "" && !strings.HasPrefix(stringAttr(item, "sk"), skPrefix) {
			continue
		}
		matched = append(matched, copyItem(item))
	}
	sortAttr := "sk"
	if input.IndexName != nil {
		// Each view sorts on its own range attribute.
		sortAttr = strings.Replace(keyAttr, "pk", "sk", 1)
	}
	sort.Slice(matched, func(i, j int) bool {
		less := stringAttr(matched[i], sortAttr) < stringAttr(matched[j], sortAttr)
		if input.ScanIndexForward != nil && !*input.ScanIndexForward {
			return !less
		}
		return less
	})
	if input.Limit != nil && len(matched) > int(*input.Limit) {
		matched = matched[:int(*input.Limit)]
	}
	return &dynamodb.QueryOutput{Items: matched, Count: int32(len(matched))}, nil
}

// parseKeyCondition extracts the single equality (and optional sk
// begins_with) from the store's two key condition shapes.
func parseKeyCondition(input *dynamodb.QueryInput) (keyAttr, keyValue, skPrefix string) {
	cond := *input.KeyConditionExpression
	keyAttr = "pk"
	valueRef := ":pk"
	if strings.HasPrefix(cond, "#k") {
		keyAttr = input.ExpressionAttributeNames["#k"]
		valueRef = ":v"
	}
	if av, ok := input.ExpressionAttributeValues[valueRef].(*dynamodbtypes.AttributeValueMemberS); ok {
		keyValue = av.Value
	}
	if strings.Contains(cond, "begins_with") {
		if av, ok := input.ExpressionAttributeValues[":prefix"].(*dynamodbtypes.AttributeValueMemberS); ok {
			skPrefix = av.Value
		}
	}
	return keyAttr, keyValue, skPrefix
}

func copyItem(item map[string]dynamodbtypes.AttributeValue) map[string]dynamodbtypes.AttributeValue {
	cp := make(map[string]dynamodbtypes.AttributeValue, len(item))
	for k, v := range item {
		cp[k] = v
	}
	return cp
}

func strPtr(s string) *string {
	return &s
}
