package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"
)

// Sentinel chyby dekodéru. Volající je testuje přes errors.Is.
var (
	ErrInvalidJSON = errors.New("payload is not valid JSON")
	ErrNotObject   = errors.New("payload is not a JSON object")
	ErrMissingType = errors.New("payload has no type field")
)

// DecodeError nese důvod odmítnutí paketu.
type DecodeError struct {
	Kind error // jedna ze sentinel chyb výše
	Err  error // detail z parseru, může být nil
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%v: %v", e.Kind, e.Err)
	}
	return e.Kind.Error()
}

// Unwrap umožňuje errors.Is(err, ErrNotObject) apod.
func (e *DecodeError) Unwrap() []error {
	if e.Err != nil {
		return []error{e.Kind, e.Err}
	}
	return []error{e.Kind}
}

// Decode převede surové bajty na Record.
// Nemá vedlejší efekty; logování a zahození paketu je na volajícím.
func Decode(payload []byte) (Record, error) {
	// KROK 1: Text musí být platné UTF-8
	if !utf8.Valid(payload) {
		return Record{}, &DecodeError{Kind: ErrInvalidJSON, Err: errors.New("invalid UTF-8")}
	}

	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber() // čísla držíme jako text, aby se neztrácela přesnost

	// KROK 2: Na nejvyšší úrovni čekáme objekt
	tok, err := dec.Token()
	if err != nil {
		return Record{}, &DecodeError{Kind: ErrInvalidJSON, Err: err}
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		// Ověříme, že zbytek je aspoň platný JSON, abychom rozlišili typ chyby
		if !json.Valid(payload) {
			return Record{}, &DecodeError{Kind: ErrInvalidJSON}
		}
		return Record{}, &DecodeError{Kind: ErrNotObject}
	}

	// KROK 3: Čtení dvojic klíč/hodnota se zachováním pořadí
	rec := Record{fields: make(map[string]any), raw: string(payload)}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return Record{}, &DecodeError{Kind: ErrInvalidJSON, Err: err}
		}
		key, ok := keyTok.(string)
		if !ok {
			return Record{}, &DecodeError{Kind: ErrInvalidJSON, Err: fmt.Errorf("unexpected token %v", keyTok)}
		}

		var value any
		if err := dec.Decode(&value); err != nil {
			return Record{}, &DecodeError{Kind: ErrInvalidJSON, Err: err}
		}

		// Duplicitní klíč: platí poslední hodnota, pozice zůstává první
		if _, exists := rec.fields[key]; !exists {
			rec.keys = append(rec.keys, key)
		}
		rec.fields[key] = value
	}

	// Uzavírací '}' a nic dalšího za ním
	if _, err := dec.Token(); err != nil {
		return Record{}, &DecodeError{Kind: ErrInvalidJSON, Err: err}
	}
	if _, err := dec.Token(); err != io.EOF {
		return Record{}, &DecodeError{Kind: ErrInvalidJSON, Err: errors.New("trailing data after object")}
	}

	// KROK 4: Povinné pole "type" (neprázdný string)
	t, ok := rec.fields["type"].(string)
	if !ok || t == "" {
		return Record{}, &DecodeError{Kind: ErrMissingType}
	}

	return rec, nil
}
