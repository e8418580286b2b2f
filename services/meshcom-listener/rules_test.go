package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShouldStore(t *testing.T) {
	storable := NewTypeSet([]string{"msg"})

	assert.True(t, ShouldStore(mustDecode(t, `{"type":"msg"}`), storable))
	assert.False(t, ShouldStore(mustDecode(t, `{"type":"pos"}`), storable))
	assert.False(t, ShouldStore(mustDecode(t, `{"type":"MSG"}`), storable), "membership is case-sensitive")
	assert.False(t, ShouldStore(mustDecode(t, `{"type":"msg"}`), NewTypeSet(nil)))
}

func TestForwardRule_Matches(t *testing.T) {
	tests := []struct {
		name   string
		rule   ForwardRule
		record string
		want   bool
	}{
		{"literal type", ForwardRule{"type": "msg"}, `{"type":"msg"}`, true},
		{"literal type mismatch", ForwardRule{"type": "status"}, `{"type":"msg"}`, false},
		{"type and wildcard dst", ForwardRule{"type": "msg", "dst": "*"}, `{"type":"msg","dst":"232"}`, true},
		{"wildcard needs field", ForwardRule{"type": "msg", "dst": "*"}, `{"type":"msg"}`, false},
		{"wildcard rejects empty", ForwardRule{"dst": "*"}, `{"type":"msg","dst":""}`, false},
		{"wildcard rejects null", ForwardRule{"dst": "*"}, `{"type":"msg","dst":null}`, false},
		{"literal dst", ForwardRule{"dst": "232"}, `{"type":"msg","dst":"232"}`, true},
		{"literal dst numeric value", ForwardRule{"dst": "232"}, `{"type":"msg","dst":232}`, true},
		{"literal is exact", ForwardRule{"dst": "232"}, `{"type":"msg","dst":"2320"}`, false},
		{"src uses first hop", ForwardRule{"src": "OE1ABC-1"}, `{"type":"msg","src":"OE1ABC-1,OE3XYZ-2"}`, true},
		{"src later hop does not match", ForwardRule{"src": "OE3XYZ-2"}, `{"type":"msg","src":"OE1ABC-1,OE3XYZ-2"}`, false},
		{"empty rule matches all", ForwardRule{}, `{"type":"anything"}`, true},
		{"unknown key never matches", ForwardRule{"foo": "*"}, `{"type":"msg","foo":"x"}`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.rule.Matches(mustDecode(t, tt.record)))
		})
	}
}

func TestMatches_RuleSet(t *testing.T) {
	msg := mustDecode(t, `{"type":"msg","src":"OE1ABC","dst":"232","msg":"Hello *world*"}`)

	assert.False(t, Matches(msg, nil), "empty rule set never matches")
	assert.False(t, Matches(msg, []ForwardRule{{"type": "status"}}))
	assert.True(t, Matches(msg, []ForwardRule{{"type": "msg", "dst": "*"}}))

	// OR přes pravidla, pořadí nehraje roli
	rules := []ForwardRule{{"type": "pos"}, {"dst": "232"}}
	reversed := []ForwardRule{rules[1], rules[0]}
	assert.True(t, Matches(msg, rules))
	assert.Equal(t, Matches(msg, rules), Matches(msg, reversed))
}

func TestStoreAndForwardAreIndependent(t *testing.T) {
	pos := mustDecode(t, `{"type":"pos","lat":48.2,"long":16.3}`)

	assert.False(t, ShouldStore(pos, NewTypeSet([]string{"msg"})))
	assert.True(t, Matches(pos, []ForwardRule{{"type": "pos"}}))
}

func TestParseRules(t *testing.T) {
	rules, err := ParseRules([]map[string]any{
		{"type": "msg", "dst": "*"},
		{"src": "OE1ABC-1"},
		{},
	})
	require.NoError(t, err)
	require.Len(t, rules, 3)
	assert.Equal(t, ForwardRule{"type": "msg", "dst": "*"}, rules[0])
	assert.Equal(t, "{dst=*,type=msg}", rules[0].String())

	_, err = ParseRules([]map[string]any{{"channel": "1"}})
	assert.ErrorContains(t, err, `unknown key "channel"`)

	_, err = ParseRules([]map[string]any{{"dst": 232.0}})
	assert.ErrorContains(t, err, "must be a string")

	_, err = ParseRules([]map[string]any{{"type": ""}})
	assert.ErrorContains(t, err, "must not be empty")

	_, err = ParseRules([]map[string]any{nil})
	assert.ErrorContains(t, err, "must be an object")

	rules, err = ParseRules(nil)
	require.NoError(t, err)
	assert.Empty(t, rules)
}
