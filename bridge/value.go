// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"encoding/json"
	"strconv"
	"strings"
)

// ValueType identifies the active variant of a Value.
type ValueType int

const (
	// ValueString holds text.
	ValueString ValueType = iota
	// ValueNumber holds an IEEE-754 double.
	ValueNumber
	// ValueBytes holds a binary blob. On the wire it becomes a retrieval path.
	ValueBytes
	// ValueArray holds a decoded JSON array. It only arises from arguments.
	ValueArray
)

func (t ValueType) String() string {
	switch t {
	case ValueString:
		return "string"
	case ValueNumber:
		return "number"
	case ValueBytes:
		return "bytes"
	case ValueArray:
		return "array"
	default:
		return "unknown"
	}
}

// Value is an argument or result crossing the bridge. Exactly one variant is
// active; the zero Value is the empty string.
type Value struct {
	typ  ValueType
	str  string
	num  float64
	blob []byte
	arr  []any
}

// String returns a string Value.
func String(s string) Value { return Value{typ: ValueString, str: s} }

// Number returns a number Value.
func Number(f float64) Value { return Value{typ: ValueNumber, num: f} }

// Bytes returns a bytes Value. The slice is not copied.
func Bytes(b []byte) Value { return Value{typ: ValueBytes, blob: b} }

// Array returns an array Value holding decoded JSON elements.
func Array(elems []any) Value { return Value{typ: ValueArray, arr: elems} }

// Type reports the active variant.
func (v Value) Type() ValueType { return v.typ }

// Str returns the string variant, or "" for other variants.
func (v Value) Str() string { return v.str }

// Num returns the number variant, or 0 for other variants.
func (v Value) Num() float64 { return v.num }

// Blob returns the bytes variant, or nil for other variants.
func (v Value) Blob() []byte { return v.blob }

// Elems returns the array variant, or nil for other variants.
func (v Value) Elems() []any { return v.arr }

// AsString returns the string variant and whether it was active.
func (v Value) AsString() (string, bool) { return v.str, v.typ == ValueString }

// AsNumber returns the number variant and whether it was active.
func (v Value) AsNumber() (float64, bool) { return v.num, v.typ == ValueNumber }

// AsBytes returns the bytes variant and whether it was active. A string
// argument is accepted as its UTF-8 bytes, since browsers often send short
// binary-safe payloads as text fields.
func (v Value) AsBytes() ([]byte, bool) {
	switch v.typ {
	case ValueBytes:
		return v.blob, true
	case ValueString:
		return []byte(v.str), true
	}
	return nil, false
}

// DecodeField converts a textual form field into a Value. A JSON array
// literal becomes an array, anything strconv.ParseFloat accepts becomes a
// number, everything else stays a string. Numeric-looking strings are always
// coerced; callers that need "007" verbatim must not send it as text.
func DecodeField(text string) Value {
	if trimmed := strings.TrimSpace(text); strings.HasPrefix(trimmed, "[") {
		var elems []any
		if err := json.Unmarshal([]byte(trimmed), &elems); err == nil {
			return Array(elems)
		}
	}
	if f, err := strconv.ParseFloat(text, 64); err == nil {
		return Number(f)
	}
	return String(text)
}

// DecodeBlob converts a binary form field into a bytes Value.
func DecodeBlob(b []byte) Value {
	return Bytes(b)
}

// WireValue is the JSON shape of one result value.
type WireValue struct {
	Type  string `json:"type"`
	Value any    `json:"value,omitempty"`
	Path  string `json:"path,omitempty"`
}

// MarshalJSON keeps "value" present for zero numbers and empty strings,
// which omitempty would otherwise drop.
func (w WireValue) MarshalJSON() ([]byte, error) {
	if w.Path != "" {
		return json.Marshal(struct {
			Type string `json:"type"`
			Path string `json:"path"`
		}{w.Type, w.Path})
	}
	return json.Marshal(struct {
		Type  string `json:"type"`
		Value any    `json:"value"`
	}{w.Type, w.Value})
}

// EncodeValues converts handler results into their wire form. Bytes are
// moved into store and replaced by a retrieval path rooted at baseURL.
func EncodeValues(values []Value, store *ByteStore, baseURL string) []WireValue {
	out := make([]WireValue, 0, len(values))
	for _, v := range values {
		switch v.typ {
		case ValueNumber:
			out = append(out, WireValue{Type: "number", Value: v.num})
		case ValueBytes:
			id := store.Insert(v.blob)
			out = append(out, WireValue{Type: "bytes", Path: baseURL + RetrievePath + "?id=" + id})
		case ValueArray:
			elems := v.arr
			if elems == nil {
				elems = []any{}
			}
			out = append(out, WireValue{Type: "array", Value: elems})
		default:
			out = append(out, WireValue{Type: "string", Value: v.str})
		}
	}
	return out
}
