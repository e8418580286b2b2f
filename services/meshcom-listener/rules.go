package main

import (
	"fmt"
	"sort"
	"strings"
)

// Wildcard v pravidle znamená "pole musí existovat a být neprázdné".
const Wildcard = "*"

// ruleKeys jsou klíče, které smí pravidlo obsahovat.
// "src" se porovnává s prvním hopem cesty (Record.Source).
var ruleKeys = map[string]func(Record) (string, bool){
	"type": func(r Record) (string, bool) { return r.Lookup("type") },
	"dst":  func(r Record) (string, bool) { return r.Lookup("dst") },
	"src": func(r Record) (string, bool) {
		s := r.Source()
		return s, s != ""
	},
}

// ForwardRule je částečné omezení nad poli záznamu.
// Chybějící klíč = bez omezení. Pravidlo bez klíčů odpovídá všemu.
type ForwardRule map[string]string

// Matches vrací true, pokud záznam splňuje všechny klíče pravidla.
func (fr ForwardRule) Matches(rec Record) bool {
	for key, want := range fr {
		get, ok := ruleKeys[key]
		if !ok {
			// Neznámé klíče odmítá už validace konfigurace
			return false
		}
		got, present := get(rec)
		if want == Wildcard {
			if !present || got == "" {
				return false
			}
			continue
		}
		if !present || got != want {
			return false
		}
	}
	return true
}

// String vypisuje klíče seřazeně, aby byl log deterministický.
func (fr ForwardRule) String() string {
	keys := make([]string, 0, len(fr))
	for k := range fr {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(k + "=" + fr[k])
	}
	b.WriteByte('}')
	return b.String()
}

// Matches je OR přes všechna pravidla. Prázdná sada neodpovídá nikdy.
func Matches(rec Record, rules []ForwardRule) bool {
	for _, rule := range rules {
		if rule.Matches(rec) {
			return true
		}
	}
	return false
}

// ParseRules převede syrová pravidla z konfigurace a odmítne neznámé klíče
// nebo hodnoty, které nejsou neprázdný string.
func ParseRules(raw []map[string]any) ([]ForwardRule, error) {
	rules := make([]ForwardRule, 0, len(raw))
	for i, r := range raw {
		if r == nil {
			return nil, fmt.Errorf("forwarding.rules[%d]: rule must be an object", i)
		}
		rule := make(ForwardRule, len(r))
		for key, value := range r {
			if _, ok := ruleKeys[key]; !ok {
				return nil, fmt.Errorf("forwarding.rules[%d]: unknown key %q (allowed: type, dst, src)", i, key)
			}
			s, ok := value.(string)
			if !ok {
				return nil, fmt.Errorf("forwarding.rules[%d].%s: value must be a string", i, key)
			}
			if s == "" {
				return nil, fmt.Errorf("forwarding.rules[%d].%s: value must not be empty", i, key)
			}
			rule[key] = s
		}
		rules = append(rules, rule)
	}
	return rules, nil
}
