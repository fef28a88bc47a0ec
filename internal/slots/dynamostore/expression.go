package dynamostore

import (
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// expression accumulates an update/condition pair with placeholder names for
// every attribute, since several slot attributes are DynamoDB reserved words.
type expression struct {
	names   map[string]string
	values  map[string]types.AttributeValue
	sets    []string
	removes []string
	conds   []string
}

func newExpression() *expression {
	return &expression{
		names:  map[string]string{},
		values: map[string]types.AttributeValue{},
	}
}

func (e *expression) name(attr string) string {
	placeholder := "#" + attr
	e.names[placeholder] = attr
	return placeholder
}

func (e *expression) value(v types.AttributeValue) string {
	placeholder := fmt.Sprintf(":v%d", len(e.values))
	e.values[placeholder] = v
	return placeholder
}

func (e *expression) set(attr string, v types.AttributeValue) {
	e.sets = append(e.sets, e.name(attr)+" = "+e.value(v))
}

func (e *expression) setString(attr, v string) {
	e.set(attr, &types.AttributeValueMemberS{Value: v})
}

func (e *expression) remove(attr string) {
	e.removes = append(e.removes, e.name(attr))
}

// setOrRemove stores v, or removes the attribute when v is nil.
func (e *expression) setOrRemove(attr string, v *string) {
	if v == nil {
		e.remove(attr)
		return
	}
	e.setString(attr, *v)
}

func (e *expression) where(cond string) {
	e.conds = append(e.conds, cond)
}

// statusIn renders "#status IN (...)" for the given values.
func (e *expression) statusIn(statuses []string) string {
	placeholders := make([]string, 0, len(statuses))
	for _, s := range statuses {
		placeholders = append(placeholders, e.value(&types.AttributeValueMemberS{Value: s}))
	}
	return e.name(attrStatus) + " IN (" + strings.Join(placeholders, ", ") + ")"
}

func (e *expression) update() *string {
	var parts []string
	if len(e.sets) > 0 {
		parts = append(parts, "SET "+strings.Join(e.sets, ", "))
	}
	if len(e.removes) > 0 {
		parts = append(parts, "REMOVE "+strings.Join(e.removes, ", "))
	}
	out := strings.Join(parts, " ")
	return &out
}

func (e *expression) condition() *string {
	if len(e.conds) == 0 {
		return nil
	}
	out := strings.Join(e.conds, " AND ")
	return &out
}

func (e *expression) attributeValues() map[string]types.AttributeValue {
	if len(e.values) == 0 {
		return nil
	}
	return e.values
}
