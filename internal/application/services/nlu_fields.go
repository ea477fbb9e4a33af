package services

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// nluFields is a decoded collaborator object whose members are checked one by one
type nluFields map[string]json.RawMessage

func decodeNLUFields(raw json.RawMessage) (nluFields, bool) {
	if len(raw) == 0 {
		return nil, false
	}
	var f nluFields
	if err := json.Unmarshal(raw, &f); err != nil || f == nil {
		return nil, false
	}
	return f, true
}

func (f nluFields) str(key string) (string, bool) {
	raw, ok := f[key]
	if !ok {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	s = strings.TrimSpace(s)
	return s, s != ""
}

// number accepts JSON numbers and numeric strings such as "$200"
func (f nluFields) number(key string) (float64, bool) {
	raw, ok := f[key]
	if !ok {
		return 0, false
	}
	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return 0, false
		}
		return n, true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, false
	}
	if m := numberPattern.FindString(s); m != "" {
		if v, err := strconv.ParseFloat(strings.ReplaceAll(m, ",", ""), 64); err == nil {
			return v, true
		}
	}
	return 0, false
}

func (f nluFields) integer(key string) (int, bool) {
	n, ok := f.number(key)
	if !ok {
		return 0, false
	}
	return int(math.Round(n)), true
}

func (f nluFields) boolean(key string) (bool, bool) {
	raw, ok := f[key]
	if !ok {
		return false, false
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err != nil {
		return false, false
	}
	return b, true
}

// strings keeps the non-empty string members of an array and drops the rest
func (f nluFields) strings(key string) []string {
	raw, ok := f[key]
	if !ok {
		return nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		var single string
		if json.Unmarshal(raw, &single) == nil && strings.TrimSpace(single) != "" {
			return []string{strings.TrimSpace(single)}
		}
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		var s string
		if json.Unmarshal(item, &s) != nil {
			continue
		}
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// objects keeps the object members of an array and drops the rest
func (f nluFields) objects(key string) []nluFields {
	raw, ok := f[key]
	if !ok {
		return nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil
	}
	out := make([]nluFields, 0, len(items))
	for _, item := range items {
		if obj, ok := decodeNLUFields(item); ok {
			out = append(out, obj)
		}
	}
	return out
}

func (f nluFields) object(key string) (nluFields, bool) {
	raw, ok := f[key]
	if !ok {
		return nil, false
	}
	return decodeNLUFields(raw)
}

// appendUnique appends value unless an equal entry ignoring case is present
func appendUnique(list []string, value string) []string {
	value = strings.TrimSpace(value)
	if value == "" {
		return list
	}
	for _, existing := range list {
		if strings.EqualFold(existing, value) {
			return list
		}
	}
	return append(list, value)
}
