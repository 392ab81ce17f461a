// Package dynamotest provides an in-memory DynamoDB stand-in for unit tests.
//
// It evaluates the small expression dialect the stores use: conditions are
// clauses joined by " AND " (comparisons with spaces around the operator,
// attribute_exists, attribute_not_exists); updates are "SET a = x, b = b - :v"
// optionally followed by "REMOVE c, d". Every call runs under one mutex so
// conditional writes are atomic, like the real service. Indexes are not
// modelled: Query scans the table and applies the key condition, which also
// makes indexes sparse for free.
package dynamotest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

type item = map[string]types.AttributeValue

// Fake implements the store-facing DynamoDB API in memory.
type Fake struct {
	mu     sync.Mutex
	keys   map[string][]string
	tables map[string]map[string]item

	// Hook, when set, runs before every call with the operation name and
	// table (empty for transactions). A non-nil error is returned as-is.
	Hook func(op, table string) error
}

func New() *Fake {
	return &Fake{
		keys:   map[string][]string{},
		tables: map[string]map[string]item{},
	}
}

// CreateTable registers a table with its primary key attribute names.
func (f *Fake) CreateTable(name string, keyAttrs ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys[name] = keyAttrs
	f.tables[name] = map[string]item{}
}

// Seed marshals v with attributevalue and stores it unconditionally.
func (f *Fake) Seed(table string, v any) error {
	m, err := attributevalue.MarshalMap(v)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	pk, err := f.pk(table, m)
	if err != nil {
		return err
	}
	f.tables[table][pk] = clone(m)
	return nil
}

// Items returns copies of all items of table ordered by primary key.
func (f *Fake) Items(table string) []map[string]types.AttributeValue {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sorted(table)
}

// Load unmarshals every item of table into out (a pointer to a slice).
func (f *Fake) Load(table string, out any) error {
	return attributevalue.UnmarshalListOfMaps(f.Items(table), out)
}

func (f *Fake) hook(op, table string) error {
	if f.Hook == nil {
		return nil
	}
	return f.Hook(op, table)
}

func (f *Fake) PutItem(ctx context.Context, in *dyn.PutItemInput, optFns ...func(*dyn.Options)) (*dyn.PutItemOutput, error) {
	if err := f.hook("PutItem", *in.TableName); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	table := *in.TableName
	pk, err := f.pk(table, in.Item)
	if err != nil {
		return nil, err
	}
	ok, err := evalCondition(deref(in.ConditionExpression), in.ExpressionAttributeNames, in.ExpressionAttributeValues, f.tables[table][pk])
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &types.ConditionalCheckFailedException{Message: sdkaws.String("The conditional request failed")}
	}
	f.tables[table][pk] = clone(in.Item)
	return &dyn.PutItemOutput{}, nil
}

func (f *Fake) GetItem(ctx context.Context, in *dyn.GetItemInput, optFns ...func(*dyn.Options)) (*dyn.GetItemOutput, error) {
	if err := f.hook("GetItem", *in.TableName); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	pk, err := f.pk(*in.TableName, in.Key)
	if err != nil {
		return nil, err
	}
	it, ok := f.tables[*in.TableName][pk]
	if !ok {
		return &dyn.GetItemOutput{}, nil
	}
	return &dyn.GetItemOutput{Item: clone(it)}, nil
}

func (f *Fake) UpdateItem(ctx context.Context, in *dyn.UpdateItemInput, optFns ...func(*dyn.Options)) (*dyn.UpdateItemOutput, error) {
	if err := f.hook("UpdateItem", *in.TableName); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	next, err := f.prepareUpdate(*in.TableName, in.Key, deref(in.UpdateExpression), deref(in.ConditionExpression), in.ExpressionAttributeNames, in.ExpressionAttributeValues)
	if err != nil {
		return nil, err
	}
	if next == nil {
		return nil, &types.ConditionalCheckFailedException{Message: sdkaws.String("The conditional request failed")}
	}
	pk, _ := f.pk(*in.TableName, in.Key)
	f.tables[*in.TableName][pk] = next
	out := &dyn.UpdateItemOutput{}
	if in.ReturnValues != types.ReturnValueNone && in.ReturnValues != "" {
		out.Attributes = clone(next)
	}
	return out, nil
}

func (f *Fake) Query(ctx context.Context, in *dyn.QueryInput, optFns ...func(*dyn.Options)) (*dyn.QueryOutput, error) {
	if err := f.hook("Query", *in.TableName); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.tables[*in.TableName]; !ok {
		return nil, fmt.Errorf("dynamotest: unknown table %s", *in.TableName)
	}
	var matched []item
	for _, it := range f.sorted(*in.TableName) {
		ok, err := evalCondition(deref(in.KeyConditionExpression), in.ExpressionAttributeNames, in.ExpressionAttributeValues, it)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		matched = append(matched, it)
		if in.Limit != nil && int32(len(matched)) >= *in.Limit {
			break
		}
	}
	out, err := filter(matched, deref(in.FilterExpression), in.ExpressionAttributeNames, in.ExpressionAttributeValues)
	if err != nil {
		return nil, err
	}
	return &dyn.QueryOutput{Items: out, Count: int32(len(out)), ScannedCount: int32(len(matched))}, nil
}

func (f *Fake) Scan(ctx context.Context, in *dyn.ScanInput, optFns ...func(*dyn.Options)) (*dyn.ScanOutput, error) {
	if err := f.hook("Scan", *in.TableName); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.tables[*in.TableName]; !ok {
		return nil, fmt.Errorf("dynamotest: unknown table %s", *in.TableName)
	}
	all := f.sorted(*in.TableName)
	out, err := filter(all, deref(in.FilterExpression), in.ExpressionAttributeNames, in.ExpressionAttributeValues)
	if err != nil {
		return nil, err
	}
	return &dyn.ScanOutput{Items: out, Count: int32(len(out)), ScannedCount: int32(len(all))}, nil
}

type pendingWrite struct {
	table string
	pk    string
	item  item // nil deletes
}

func (f *Fake) TransactWriteItems(ctx context.Context, in *dyn.TransactWriteItemsInput, optFns ...func(*dyn.Options)) (*dyn.TransactWriteItemsOutput, error) {
	if err := f.hook("TransactWriteItems", ""); err != nil {
		return nil, err
	}
	if len(in.TransactItems) > 100 {
		return nil, errors.New("dynamotest: transaction exceeds 100 items")
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	reasons := make([]types.CancellationReason, len(in.TransactItems))
	writes := make([]pendingWrite, 0, len(in.TransactItems))
	touched := map[string]bool{}
	failed := false

	for i, ti := range in.TransactItems {
		reasons[i] = types.CancellationReason{Code: sdkaws.String("None")}
		var (
			table string
			pk    string
			ok    bool
			next  item
			err   error
			write = true
		)
		switch {
		case ti.Put != nil:
			p := ti.Put
			table = *p.TableName
			if pk, err = f.pk(table, p.Item); err != nil {
				return nil, err
			}
			ok, err = evalCondition(deref(p.ConditionExpression), p.ExpressionAttributeNames, p.ExpressionAttributeValues, f.tables[table][pk])
			next = clone(p.Item)
		case ti.Update != nil:
			u := ti.Update
			table = *u.TableName
			if pk, err = f.pk(table, u.Key); err != nil {
				return nil, err
			}
			next, err = f.prepareUpdate(table, u.Key, deref(u.UpdateExpression), deref(u.ConditionExpression), u.ExpressionAttributeNames, u.ExpressionAttributeValues)
			ok = next != nil
		case ti.Delete != nil:
			d := ti.Delete
			table = *d.TableName
			if pk, err = f.pk(table, d.Key); err != nil {
				return nil, err
			}
			ok, err = evalCondition(deref(d.ConditionExpression), d.ExpressionAttributeNames, d.ExpressionAttributeValues, f.tables[table][pk])
		case ti.ConditionCheck != nil:
			c := ti.ConditionCheck
			table = *c.TableName
			if pk, err = f.pk(table, c.Key); err != nil {
				return nil, err
			}
			ok, err = evalCondition(deref(c.ConditionExpression), c.ExpressionAttributeNames, c.ExpressionAttributeValues, f.tables[table][pk])
			write = false
		default:
			return nil, errors.New("dynamotest: empty transact item")
		}
		if err != nil {
			return nil, err
		}
		if touched[table+"/"+pk] {
			return nil, fmt.Errorf("dynamotest: transaction touches %s/%s more than once", table, pk)
		}
		touched[table+"/"+pk] = true
		if !ok {
			failed = true
			reasons[i] = types.CancellationReason{Code: sdkaws.String("ConditionalCheckFailed")}
			continue
		}
		if write {
			writes = append(writes, pendingWrite{table: table, pk: pk, item: next})
		}
	}

	if failed {
		return nil, &types.TransactionCanceledException{
			Message:             sdkaws.String("Transaction cancelled, please refer cancellation reasons for specific reasons"),
			CancellationReasons: reasons,
		}
	}
	for _, w := range writes {
		if w.item == nil {
			delete(f.tables[w.table], w.pk)
			continue
		}
		f.tables[w.table][w.pk] = w.item
	}
	return &dyn.TransactWriteItemsOutput{}, nil
}

// prepareUpdate returns the updated copy, or nil when the condition fails.
func (f *Fake) prepareUpdate(table string, key item, update, cond string, names map[string]string, values map[string]types.AttributeValue) (item, error) {
	pk, err := f.pk(table, key)
	if err != nil {
		return nil, err
	}
	current := f.tables[table][pk]
	ok, err := evalCondition(cond, names, values, current)
	if err != nil || !ok {
		return nil, err
	}
	next := clone(current)
	if next == nil {
		next = clone(key)
	}
	if err := applyUpdate(update, names, values, next); err != nil {
		return nil, err
	}
	return next, nil
}

func (f *Fake) pk(table string, it item) (string, error) {
	attrs, ok := f.keys[table]
	if !ok {
		return "", fmt.Errorf("dynamotest: unknown table %s", table)
	}
	parts := make([]string, 0, len(attrs))
	for _, a := range attrs {
		v, ok := it[a]
		if !ok {
			return "", fmt.Errorf("dynamotest: %s item missing key attribute %s", table, a)
		}
		s, ok := scalar(v)
		if !ok {
			return "", fmt.Errorf("dynamotest: key attribute %s is not scalar", a)
		}
		parts = append(parts, s)
	}
	return strings.Join(parts, "|"), nil
}

func (f *Fake) sorted(table string) []item {
	pks := make([]string, 0, len(f.tables[table]))
	for pk := range f.tables[table] {
		pks = append(pks, pk)
	}
	sort.Strings(pks)
	out := make([]item, 0, len(pks))
	for _, pk := range pks {
		out = append(out, clone(f.tables[table][pk]))
	}
	return out
}

func filter(items []item, expr string, names map[string]string, values map[string]types.AttributeValue) ([]item, error) {
	if expr == "" {
		return items, nil
	}
	var out []item
	for _, it := range items {
		ok, err := evalCondition(expr, names, values, it)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, it)
		}
	}
	return out, nil
}

func evalCondition(expr string, names map[string]string, values map[string]types.AttributeValue, it item) (bool, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return true, nil
	}
	for _, clause := range strings.Split(expr, " AND ") {
		clause = strings.TrimSpace(clause)
		for strings.HasPrefix(clause, "(") && strings.HasSuffix(clause, ")") {
			clause = strings.TrimSpace(clause[1 : len(clause)-1])
		}
		ok, err := evalClause(clause, names, values, it)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

var comparators = []string{" <> ", " >= ", " <= ", " = ", " < ", " > "}

func evalClause(clause string, names map[string]string, values map[string]types.AttributeValue, it item) (bool, error) {
	if arg, ok := call(clause, "attribute_exists"); ok {
		_, present := it[attrName(arg, names)]
		return present, nil
	}
	if arg, ok := call(clause, "attribute_not_exists"); ok {
		_, present := it[attrName(arg, names)]
		return !present, nil
	}
	for _, op := range comparators {
		lhs, rhs, found := strings.Cut(clause, op)
		if !found {
			continue
		}
		a := operand(strings.TrimSpace(lhs), names, values, it)
		b := operand(strings.TrimSpace(rhs), names, values, it)
		if a == nil || b == nil {
			return false, nil
		}
		c, comparable := compare(a, b)
		if !comparable {
			return op == " <> ", nil
		}
		switch op {
		case " = ":
			return c == 0, nil
		case " <> ":
			return c != 0, nil
		case " >= ":
			return c >= 0, nil
		case " <= ":
			return c <= 0, nil
		case " < ":
			return c < 0, nil
		default:
			return c > 0, nil
		}
	}
	return false, fmt.Errorf("dynamotest: unsupported condition %q", clause)
}

func applyUpdate(expr string, names map[string]string, values map[string]types.AttributeValue, it item) error {
	expr = strings.TrimSpace(expr)
	setPart, removePart := expr, ""
	if i := strings.Index(expr, "REMOVE "); i >= 0 {
		setPart, removePart = strings.TrimSpace(expr[:i]), expr[i+len("REMOVE "):]
	}
	if setPart != "" {
		if !strings.HasPrefix(setPart, "SET ") {
			return fmt.Errorf("dynamotest: unsupported update %q", expr)
		}
		assigned := item{}
		for _, asg := range strings.Split(strings.TrimPrefix(setPart, "SET "), ",") {
			lhs, rhs, ok := strings.Cut(asg, " = ")
			if !ok {
				return fmt.Errorf("dynamotest: bad assignment %q", asg)
			}
			v, err := evalValue(strings.TrimSpace(rhs), names, values, it)
			if err != nil {
				return err
			}
			assigned[attrName(strings.TrimSpace(lhs), names)] = v
		}
		for k, v := range assigned {
			it[k] = v
		}
	}
	if removePart != "" {
		for _, a := range strings.Split(removePart, ",") {
			delete(it, attrName(strings.TrimSpace(a), names))
		}
	}
	return nil
}

func evalValue(expr string, names map[string]string, values map[string]types.AttributeValue, it item) (types.AttributeValue, error) {
	for _, op := range []string{" + ", " - "} {
		lhs, rhs, ok := strings.Cut(expr, op)
		if !ok {
			continue
		}
		a, aok := number(operand(strings.TrimSpace(lhs), names, values, it))
		b, bok := number(operand(strings.TrimSpace(rhs), names, values, it))
		if !aok || !bok {
			return nil, fmt.Errorf("dynamotest: non-numeric operand in %q", expr)
		}
		if op == " - " {
			b = -b
		}
		return &types.AttributeValueMemberN{Value: strconv.FormatInt(a+b, 10)}, nil
	}
	v := operand(expr, names, values, it)
	if v == nil {
		return nil, fmt.Errorf("dynamotest: unresolved value %q", expr)
	}
	return v, nil
}

func operand(tok string, names map[string]string, values map[string]types.AttributeValue, it item) types.AttributeValue {
	if strings.HasPrefix(tok, ":") {
		return values[tok]
	}
	return it[attrName(tok, names)]
}

func attrName(tok string, names map[string]string) string {
	if strings.HasPrefix(tok, "#") {
		if n, ok := names[tok]; ok {
			return n
		}
	}
	return tok
}

func call(clause, fn string) (string, bool) {
	if !strings.HasPrefix(clause, fn+"(") || !strings.HasSuffix(clause, ")") {
		return "", false
	}
	return strings.TrimSpace(clause[len(fn)+1 : len(clause)-1]), true
}

func compare(a, b types.AttributeValue) (int, bool) {
	switch av := a.(type) {
	case *types.AttributeValueMemberS:
		bv, ok := b.(*types.AttributeValueMemberS)
		if !ok {
			return 0, false
		}
		return strings.Compare(av.Value, bv.Value), true
	case *types.AttributeValueMemberN:
		x, xok := number(a)
		y, yok := number(b)
		if !xok || !yok {
			return 0, false
		}
		switch {
		case x < y:
			return -1, true
		case x > y:
			return 1, true
		}
		return 0, true
	case *types.AttributeValueMemberBOOL:
		bv, ok := b.(*types.AttributeValueMemberBOOL)
		if !ok || av.Value != bv.Value {
			return 1, ok
		}
		return 0, true
	}
	return 0, false
}

func number(v types.AttributeValue) (int64, bool) {
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0, false
	}
	i, err := strconv.ParseInt(n.Value, 10, 64)
	return i, err == nil
}

func scalar(v types.AttributeValue) (string, bool) {
	switch x := v.(type) {
	case *types.AttributeValueMemberS:
		return x.Value, true
	case *types.AttributeValueMemberN:
		return x.Value, true
	}
	return "", false
}

func clone(it item) item {
	if it == nil {
		return nil
	}
	out := make(item, len(it))
	for k, v := range it {
		out[k] = v
	}
	return out
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
