package normalize

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/cloudunify/internal/ingest/domain"
)

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999Z0700",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999Z0700",
	"2006-01-02 15:04:05.999999999 -0700 MST",
}

// naive layouts carry no zone and are read as UTC
var naiveLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
	time.DateOnly,
}

var missingTokens = map[string]struct{}{
	"":     {},
	"nan":  {},
	"null": {},
	"none": {},
	"n/a":  {},
}

// Keys folds raw item keys: trimmed, lower-cased, inner whitespace collapsed to "_".
// When several keys fold to the same name, a present value beats a missing one, then a key
// already in folded form wins, then the lexically smallest key.
func Keys(raw map[string]any) map[string]any {
	keys := make([]string, 0, len(raw))
	for key := range raw {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	out := make(map[string]any, len(raw))
	exact := make(map[string]bool, len(raw))
	for _, key := range keys {
		value := raw[key]
		folded := strings.Join(strings.Fields(strings.ToLower(key)), "_")
		if folded == "" {
			continue
		}
		current, exists := out[folded]
		if exists {
			switch {
			case isMissing(value):
				continue
			case !isMissing(current) && (exact[folded] || key != folded):
				continue
			}
		}
		out[folded] = value
		exact[folded] = key == folded
	}
	return out
}

// first returns the first present, non-blank value among the aliases.
func first(row map[string]any, aliases ...string) (any, bool) {
	for _, alias := range aliases {
		value, ok := row[alias]
		if !ok || isMissing(value) {
			continue
		}
		return value, true
	}
	return nil, false
}

func isMissing(value any) bool {
	switch v := value.(type) {
	case nil:
		return true
	case string:
		_, missing := missingTokens[strings.ToLower(strings.TrimSpace(v))]
		return missing
	case float64:
		return math.IsNaN(v)
	case float32:
		return math.IsNaN(float64(v))
	default:
		return false
	}
}

// Text renders a scalar as trimmed text. Whole floats lose their fraction ("12", not "12.0").
func Text(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case json.Number:
		return v.String()
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case bool:
		return strconv.FormatBool(v)
	case time.Time:
		return v.UTC().Format(time.RFC3339Nano)
	case decimal.Decimal:
		return v.String()
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

func text(row map[string]any, aliases ...string) string {
	value, ok := first(row, aliases...)
	if !ok {
		return ""
	}
	return Text(value)
}

// Decimal parses a numeric field. Blank, absent and NaN mean "no value"; other non-numbers are errors.
func Decimal(field string, value any) (*decimal.Decimal, error) {
	if isMissing(value) {
		return nil, nil
	}

	var (
		d   decimal.Decimal
		err error
	)
	switch v := value.(type) {
	case decimal.Decimal:
		d = v
	case float64:
		if math.IsInf(v, 0) {
			return nil, domain.Invalid(field, "must be a finite number")
		}
		d = decimal.NewFromFloat(v)
	case float32:
		d = decimal.NewFromFloat32(v)
	case int:
		d = decimal.NewFromInt(int64(v))
	case int64:
		d = decimal.NewFromInt(v)
	case json.Number:
		d, err = decimal.NewFromString(v.String())
	case string:
		d, err = decimal.NewFromString(strings.TrimSpace(v))
	default:
		return nil, domain.Invalid(field, "must be a number (got %T)", value)
	}
	if err != nil {
		return nil, domain.Invalid(field, "must be a number (got %q)", Text(value))
	}
	return &d, nil
}

// Timestamp parses ISO-8601 values with or without zone; zone-less values are UTC.
func Timestamp(field string, value any) (time.Time, bool, error) {
	if isMissing(value) {
		return time.Time{}, false, nil
	}
	if t, ok := value.(time.Time); ok {
		return t.UTC(), true, nil
	}
	raw, ok := value.(string)
	if !ok {
		return time.Time{}, false, domain.Invalid(field, "must be an ISO-8601 timestamp (got %T)", value)
	}
	raw = strings.TrimSpace(raw)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), true, nil
		}
	}
	for _, layout := range naiveLayouts {
		if t, err := time.ParseInLocation(layout, raw, time.UTC); err == nil {
			return t, true, nil
		}
	}
	return time.Time{}, false, domain.Invalid(field, "must be an ISO-8601 timestamp (got %q)", raw)
}

// Date parses YYYY-MM-DD, or a timestamp truncated to its UTC calendar day.
func Date(field string, value any) (time.Time, bool, error) {
	t, ok, err := Timestamp(field, value)
	if err != nil {
		return time.Time{}, false, domain.Invalid(field, "must be a date in YYYY-MM-DD form (got %q)", Text(value))
	}
	if !ok {
		return time.Time{}, false, nil
	}
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), true, nil
}

// Tags accepts a mapping, a list of "k:v" strings, a JSON object string, or "k:v" pairs
// separated by "," or ";". A bare word becomes word:"true".
func Tags(field string, value any) (map[string]any, error) {
	out := map[string]any{}
	if isMissing(value) {
		return out, nil
	}

	switch v := value.(type) {
	case map[string]any:
		for key, val := range v {
			if key = strings.TrimSpace(key); key != "" {
				out[key] = Text(val)
			}
		}
	case map[string]string:
		for key, val := range v {
			if key = strings.TrimSpace(key); key != "" {
				out[key] = strings.TrimSpace(val)
			}
		}
	case []any:
		for _, item := range v {
			addTagPair(out, Text(item))
		}
	case []string:
		for _, item := range v {
			addTagPair(out, item)
		}
	case string:
		raw := strings.TrimSpace(v)
		if strings.HasPrefix(raw, "{") {
			var decoded map[string]any
			if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
				return nil, domain.Invalid(field, "must be a mapping or key:value list")
			}
			return Tags(field, decoded)
		}
		for _, pair := range splitList(raw) {
			addTagPair(out, pair)
		}
	default:
		return nil, domain.Invalid(field, "must be a mapping or key:value list (got %T)", value)
	}
	return out, nil
}

func addTagPair(out map[string]any, pair string) {
	pair = strings.TrimSpace(pair)
	if pair == "" {
		return
	}
	key, val, found := strings.Cut(pair, ":")
	key = strings.TrimSpace(key)
	if key == "" {
		return
	}
	if !found {
		out[key] = "true"
		return
	}
	out[key] = strings.TrimSpace(val)
}

// ActionItems accepts a list or a "," / ";" separated string. Empty parts are dropped.
func ActionItems(field string, value any) ([]string, error) {
	switch v := value.(type) {
	case nil:
		return []string{}, nil
	case []string:
		return compact(v), nil
	case []any:
		items := make([]string, 0, len(v))
		for _, item := range v {
			items = append(items, Text(item))
		}
		return compact(items), nil
	case string:
		raw := strings.TrimSpace(v)
		if strings.HasPrefix(raw, "[") {
			var decoded []any
			if err := json.Unmarshal([]byte(raw), &decoded); err == nil {
				return ActionItems(field, decoded)
			}
		}
		return compact(splitList(raw)), nil
	default:
		return nil, domain.Invalid(field, "must be a list of strings (got %T)", value)
	}
}

func splitList(raw string) []string {
	return strings.FieldsFunc(raw, func(r rune) bool { return r == ',' || r == ';' })
}

func compact(values []string) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		if value = strings.TrimSpace(value); value != "" {
			out = append(out, value)
		}
	}
	return out
}

// Provider maps a provider token through the canonical names and the alias table.
// An absent token returns "" without error.
func Provider(field string, value any, aliases map[string]string) (string, error) {
	token := strings.ToLower(Text(value))
	if isMissing(token) {
		return "", nil
	}
	for _, p := range domain.Providers {
		if token == p {
			return p, nil
		}
	}
	if target, ok := aliases[token]; ok {
		return target, nil
	}
	return "", domain.Invalid(field, "must be one of %s (got %q)", strings.Join(domain.Providers, ", "), Text(value))
}

// ProviderFromName finds a provider slug inside a file name or label.
func ProviderFromName(name string) string {
	lower := strings.ToLower(name)
	for _, p := range domain.Providers {
		if strings.Contains(lower, p) {
			return p
		}
	}
	return ""
}

// Priority folds case; unknown or absent values become medium.
func Priority(value any) string {
	token := strings.ToLower(Text(value))
	switch token {
	case domain.PriorityLow, domain.PriorityMedium, domain.PriorityHigh, domain.PriorityCritical:
		return token
	default:
		return domain.PriorityMedium
	}
}
