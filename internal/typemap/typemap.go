// Package typemap converts values between SOR field types and grid cell
// values, in both directions. Every conversion reports per-value errors
// and warnings instead of failing the whole record; the pipelines
// aggregate them into the run report.
package typemap

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/cases"

	"github.com/gridsync/gridsync/internal/sor"
)

// Result is the outcome of converting one value. A conversion with
// errors yields no usable value; warnings accompany a usable (possibly
// degraded) value.
type Result struct {
	Value    any
	Errors   []string
	Warnings []string
}

func errorf(format string, args ...any) Result {
	return Result{Errors: []string{fmt.Sprintf(format, args...)}}
}

func warnf(value any, format string, args ...any) Result {
	return Result{Value: value, Warnings: []string{fmt.Sprintf(format, args...)}}
}

// fold is a Unicode case folder used for option and name matching.
var fold = cases.Fold()

// dateOnlyLayouts and dateTimeLayouts are tried in order when parsing
// grid cells back into SOR date values. Users paste dates in whatever
// form their locale produces.
var (
	dateTimeLayouts = []string{
		time.RFC3339,
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
		"01/02/2006 15:04:05",
		"01/02/2006 15:04",
		"1/2/2006 15:04",
	}
	dateOnlyLayouts = []string{
		"2006-01-02",
		"01/02/2006",
		"1/2/2006",
		"2006/01/02",
		"Jan 2, 2006",
		"2 Jan 2006",
	}
)

// ToGrid converts a SOR field value into its grid cell representation.
// Linked-record values are expected to already be resolved to display
// names by the caller.
func ToGrid(field sor.Field, value any) Result {
	if value == nil {
		return Result{Value: ""}
	}

	switch field.Type {
	case sor.FieldText, sor.FieldLongText, sor.FieldEmail, sor.FieldURL, sor.FieldPhone:
		return Result{Value: Stringify(value)}

	case sor.FieldNumber, sor.FieldCurrency, sor.FieldPercent, sor.FieldDuration, sor.FieldRating:
		n, ok := asNumber(value)
		if !ok {
			return errorf("field %q: expected a number, got %T", field.Name, value)
		}

		return Result{Value: n}

	case sor.FieldCheckbox:
		if b, ok := value.(bool); ok && b {
			return Result{Value: "TRUE"}
		}

		return Result{Value: "FALSE"}

	case sor.FieldDate, sor.FieldDateTime:
		s := Stringify(value)

		t, err := parseAnyTime(s)
		if err != nil {
			return warnf(s, "field %q: unparseable date %q passed through", field.Name, s)
		}

		if field.Type == sor.FieldDate {
			return Result{Value: t.UTC().Format("2006-01-02")}
		}

		return Result{Value: t.UTC().Format(time.RFC3339)}

	case sor.FieldSingleSelect:
		return Result{Value: Stringify(value)}

	case sor.FieldMultipleSelects, sor.FieldLinkedRecords:
		return Result{Value: joinList(value, ", ")}

	case sor.FieldAttachments:
		return Result{Value: joinAttachmentURLs(value)}

	case sor.FieldCollaborator, sor.FieldCollaborators:
		return Result{Value: joinList(value, ", ")}

	case sor.FieldBarcode:
		if m, ok := value.(map[string]any); ok {
			return Result{Value: Stringify(m["text"])}
		}

		return Result{Value: Stringify(value)}

	default:
		// Computed fields and anything unrecognized render best-effort.
		return Result{Value: Stringify(value)}
	}
}

// ToSor converts a grid cell back into a value writable to the SOR
// field. Read-only and unsupported field types yield no value plus a
// warning; the caller drops them from the write.
func ToSor(field sor.Field, cell any) Result {
	if field.Type.ReadOnly() {
		return warnf(nil, "field %q is read-only (%s); value dropped", field.Name, field.Type)
	}

	s := strings.TrimSpace(Stringify(cell))

	switch field.Type {
	case sor.FieldText, sor.FieldLongText, sor.FieldEmail, sor.FieldURL, sor.FieldPhone:
		return Result{Value: s}

	case sor.FieldNumber, sor.FieldCurrency, sor.FieldPercent, sor.FieldDuration, sor.FieldRating:
		if s == "" {
			return Result{Value: nil}
		}

		if n, ok := asNumber(cell); ok {
			return Result{Value: n}
		}

		n, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", ""), 64)
		if err != nil || math.IsNaN(n) || math.IsInf(n, 0) {
			return errorf("field %q: %q is not a number", field.Name, s)
		}

		return Result{Value: n}

	case sor.FieldCheckbox:
		if b, ok := cell.(bool); ok {
			return Result{Value: b}
		}

		switch strings.ToUpper(s) {
		case "TRUE", "1", "YES":
			return Result{Value: true}
		case "FALSE", "0", "NO", "":
			return Result{Value: false}
		default:
			return errorf("field %q: %q is not a checkbox value", field.Name, s)
		}

	case sor.FieldDate, sor.FieldDateTime:
		if s == "" {
			return Result{Value: nil}
		}

		t, err := parseAnyTime(s)
		if err != nil {
			return errorf("field %q: cannot parse %q as a date", field.Name, s)
		}

		if field.Type == sor.FieldDate {
			return Result{Value: t.UTC().Format("2006-01-02")}
		}

		return Result{Value: t.UTC().Format(time.RFC3339)}

	case sor.FieldSingleSelect:
		if s == "" {
			return Result{Value: nil}
		}

		name, ok := matchChoice(field, s)
		if !ok {
			return errorf("field %q: invalid option %q (allowed: %s)",
				field.Name, s, strings.Join(choiceNames(field), ", "))
		}

		return Result{Value: name}

	case sor.FieldMultipleSelects:
		if s == "" {
			return Result{Value: nil}
		}

		var (
			res      Result
			selected []string
		)

		for _, part := range strings.Split(s, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}

			name, ok := matchChoice(field, part)
			if !ok {
				res.Warnings = append(res.Warnings,
					fmt.Sprintf("field %q: unknown option %q dropped", field.Name, part))
				continue
			}

			selected = append(selected, name)
		}

		res.Value = selected

		return res

	case sor.FieldLinkedRecords:
		if s == "" {
			return Result{Value: nil}
		}

		var names []string
		for _, part := range strings.Split(s, ",") {
			if part = strings.TrimSpace(part); part != "" {
				names = append(names, part)
			}
		}

		// The pipeline resolves these display names to record IDs.
		return Result{Value: names}

	case sor.FieldAttachments, sor.FieldCollaborator, sor.FieldCollaborators, sor.FieldBarcode:
		return warnf(nil, "field %q: %s cannot be written from the grid; value dropped", field.Name, field.Type)

	default:
		return warnf(nil, "field %q: unsupported type %s; value dropped", field.Name, field.Type)
	}
}

// matchChoice finds the canonical option name for a user-typed value,
// matching case-insensitively.
func matchChoice(field sor.Field, input string) (string, bool) {
	if field.Options == nil {
		return input, true
	}

	folded := fold.String(input)
	for _, choice := range field.Options.Choices {
		if fold.String(choice.Name) == folded {
			return choice.Name, true
		}
	}

	return "", false
}

func choiceNames(field sor.Field) []string {
	if field.Options == nil {
		return nil
	}

	names := make([]string, 0, len(field.Options.Choices))
	for _, c := range field.Options.Choices {
		names = append(names, c.Name)
	}

	return names
}

// Stringify renders an arbitrary API value as the text a cell would
// show. Slices join with ", "; maps prefer name-ish keys.
func Stringify(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case bool:
		if v {
			return "TRUE"
		}

		return "FALSE"
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case []any:
		return joinList(v, ", ")
	case []string:
		return strings.Join(v, ", ")
	case map[string]any:
		for _, key := range []string{"name", "text", "url", "email", "id"} {
			if s, ok := v[key].(string); ok && s != "" {
				return s
			}
		}

		return fmt.Sprint(v)
	default:
		return fmt.Sprint(v)
	}
}

func joinList(value any, sep string) string {
	switch v := value.(type) {
	case []string:
		return strings.Join(v, sep)
	case []any:
		parts := make([]string, 0, len(v))
		for _, item := range v {
			parts = append(parts, Stringify(item))
		}

		return strings.Join(parts, sep)
	default:
		return Stringify(value)
	}
}

func joinAttachmentURLs(value any) string {
	items, ok := value.([]any)
	if !ok {
		return Stringify(value)
	}

	parts := make([]string, 0, len(items))

	for _, item := range items {
		if m, ok := item.(map[string]any); ok {
			if u, ok := m["url"].(string); ok {
				parts = append(parts, u)
				continue
			}
		}

		parts = append(parts, Stringify(item))
	}

	return strings.Join(parts, ",")
}

func asNumber(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, false
		}

		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}

func parseAnyTime(s string) (time.Time, error) {
	for _, layout := range dateTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}

	for _, layout := range dateOnlyLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}

	return time.Time{}, fmt.Errorf("typemap: unrecognized date format %q", s)
}
