package core

import (
	"testing"
	"time"

	"github.com/dkeye/collabhub/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tableWith(ops ...domain.Operation) *FieldTable {
	t := NewFieldTable()
	for i, o := range ops {
		t.Apply(o.WithVersion(int64(i+1), o.AcceptedAt))
	}
	return t
}

func TestResolve(t *testing.T) {
	table := tableWith(
		op("title", domain.OpEditTextField, `"Groceries"`, 0),
		op("items[0].text", domain.OpEditTextField, `"milk"`, 1),
		op("items[1]", domain.OpDeleteItem, "", 2),
	)
	const roomVersion = 3

	tests := []struct {
		name    string
		op      domain.Operation
		outcome Outcome
		code    domain.ErrorCode
	}{
		{"fresh path", op("items[2].text", domain.OpEditTextField, `"eggs"`, 0), Accepted, ""},
		{"observed latest", op("title", domain.OpEditTextField, `"x"`, 1), Accepted, ""},
		{"ahead of field", op("title", domain.OpEditTextField, `"x"`, 3), Accepted, ""},
		{"stale field", op("items[0].text", domain.OpEditTextField, `"x"`, 1), Merged, ""},
		{"under deleted item", op("items[1].checked", domain.OpCheckItem, `true`, 2), Merged, ""},
		{"upsert over newer child", op("items[0]", domain.OpUpsertItem, `{}`, 1), Merged, ""},
		{"upsert after child", op("items[0]", domain.OpUpsertItem, `{}`, 2), Accepted, ""},
		{"reorder current", op("order", domain.OpReorder, `[1,0]`, 3), Accepted, ""},
		{"reorder outdated", op("order", domain.OpReorder, `[1,0]`, 2), Rejected, domain.CodeReorderConflict},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			res := Resolve(table, roomVersion, tc.op)
			assert.Equal(t, tc.outcome, res.Outcome)
			if tc.code != "" {
				require.NotNil(t, res.Err)
				assert.Equal(t, tc.code, res.Err.Code)
			}
		})
	}
}

func TestResolveCorrectionCarriesAuthority(t *testing.T) {
	table := tableWith(
		op("items[0].checked", domain.OpCheckItem, `true`, 0),
		op("items[1]", domain.OpDeleteItem, "", 1),
	)

	stale := op("items[0].checked", domain.OpCheckItem, `false`, 0)
	stale.MsgID = "m-1"
	res := Resolve(table, 2, stale)
	require.Equal(t, Merged, res.Outcome)
	assert.Equal(t, "items[0].checked", res.Correction.FieldPath)
	assert.JSONEq(t, `true`, string(res.Correction.Value))
	assert.Equal(t, int64(1), res.Correction.Version)
	assert.Equal(t, "m-1", res.Correction.MsgID)

	res = Resolve(table, 2, op("items[1].text", domain.OpEditTextField, `"x"`, 1))
	require.Equal(t, Merged, res.Outcome)
	assert.Equal(t, "items[1]", res.Correction.FieldPath)
	assert.Equal(t, domain.OpDeleteItem, res.Correction.Kind)
	assert.JSONEq(t, `null`, string(res.Correction.Value))
}

func TestFieldTableApply(t *testing.T) {
	table := tableWith(
		op("items[0].text", domain.OpEditTextField, `"milk"`, 0),
		op("items[0].checked", domain.OpCheckItem, `true`, 1),
		op("items[1].text", domain.OpEditTextField, `"eggs"`, 2),
	)

	table.Apply(op("items[0]", domain.OpDeleteItem, "", 3).WithVersion(4, time.Time{}))
	vals := table.Values()
	assert.Len(t, vals, 1)
	assert.Contains(t, vals, "items[1].text")

	_, ok := table.Get("items[0].text")
	assert.False(t, ok)
	f, ok := table.Get("items[0]")
	require.True(t, ok)
	assert.True(t, f.Deleted)
	assert.Equal(t, int64(4), table.Recorded("items[0].checked", false))

	table.Apply(op("items[0]", domain.OpUpsertItem, `{"text":"bread"}`, 4).WithVersion(5, time.Time{}))
	vals = table.Values()
	assert.Len(t, vals, 2)
	assert.JSONEq(t, `{"text":"bread"}`, string(vals["items[0]"]))
}
