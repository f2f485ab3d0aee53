// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"sort"
	"strconv"
)

// maxFormMemory bounds the in-memory part of a multipart body; larger file
// parts spill to temporary files.
const maxFormMemory = 32 << 20

type indexedValue struct {
	index int
	value Value
}

// decodeArgs reads positional arguments from a multipart or urlencoded body.
// Field names are the stringified argument index; other names are ignored.
// A request without a body has no arguments.
func decodeArgs(r *http.Request) ([]Value, error) {
	if r.Body == nil || r.Body == http.NoBody || r.ContentLength == 0 {
		return nil, nil
	}
	ct := r.Header.Get("Content-Type")
	if ct == "" {
		return nil, nil
	}
	mediaType, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return nil, fmt.Errorf("parsing content type: %w", err)
	}

	var fields []indexedValue
	switch mediaType {
	case "multipart/form-data":
		if err := r.ParseMultipartForm(maxFormMemory); err != nil {
			return nil, fmt.Errorf("parsing multipart body: %w", err)
		}
		defer r.MultipartForm.RemoveAll()
		fields = textFields(r.MultipartForm.Value)
		for name, headers := range r.MultipartForm.File {
			idx, ok := fieldIndex(name)
			if !ok || len(headers) == 0 {
				continue
			}
			blob, err := readFilePart(headers[0])
			if err != nil {
				return nil, fmt.Errorf("reading argument %d: %w", idx, err)
			}
			fields = append(fields, indexedValue{idx, DecodeBlob(blob)})
		}
	case "application/x-www-form-urlencoded":
		if err := r.ParseForm(); err != nil {
			return nil, fmt.Errorf("parsing form body: %w", err)
		}
		fields = textFields(r.PostForm)
	default:
		return nil, nil
	}

	sort.Slice(fields, func(i, j int) bool { return fields[i].index < fields[j].index })
	args := make([]Value, len(fields))
	for i, f := range fields {
		args[i] = f.value
	}
	return args, nil
}

func textFields(form map[string][]string) []indexedValue {
	fields := make([]indexedValue, 0, len(form))
	for name, vals := range form {
		idx, ok := fieldIndex(name)
		if !ok || len(vals) == 0 {
			continue
		}
		fields = append(fields, indexedValue{idx, DecodeField(vals[0])})
	}
	return fields
}

func fieldIndex(name string) (int, bool) {
	idx, err := strconv.Atoi(name)
	if err != nil || idx < 0 {
		return 0, false
	}
	return idx, true
}

func readFilePart(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

type resultEnvelope struct {
	Result []WireValue `json:"result"`
}

type errorEnvelope struct {
	Error string `json:"error"`
}

// marshalResult encodes values as {"result":[...]}.
func marshalResult(values []Value, store *ByteStore, baseURL string) ([]byte, error) {
	return json.Marshal(resultEnvelope{Result: EncodeValues(values, store, baseURL)})
}

// marshalError encodes err as {"error":"<code>"}.
func marshalError(err error) []byte {
	body, mErr := json.Marshal(errorEnvelope{Error: errorCode(err)})
	if mErr != nil {
		return []byte(`{"error":"internal error"}`)
	}
	return body
}
