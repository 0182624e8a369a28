package filter

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

// numericPattern matches unsigned integers and decimals ("42", "3.5").
// Signs and exponents fall through to the JSON branch.
var numericPattern = regexp.MustCompile(`^\d+(\.\d+)?$`)

// ParseValue coerces a raw declarative value into a typed scalar.
// PRE: none
// POST: "" stays "", numeric strings become float64, valid JSON becomes its
// decoded value, anything else becomes the trimmed string
// INVARIANT: ParseValue(Stringify(ParseValue(x))) equals ParseValue(x)
func ParseValue(raw string) any {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ""
	}
	if numericPattern.MatchString(s) {
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
	}
	if gjson.Valid(s) {
		return gjson.Parse(s).Value()
	}
	return s
}

// ParseAttr is ParseValue for an attribute that may be absent.
// An absent attribute yields nil.
func ParseAttr(raw string, present bool) any {
	if !present {
		return nil
	}
	return ParseValue(raw)
}

// Stringify renders a value the way list membership compares it.
// Numbers use the shortest decimal form, nil is "null", and structured
// values are rendered as JSON.
func Stringify(v any) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case bool:
		return strconv.FormatBool(x)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

// Equal reports whether two values are the same list member.
func Equal(a, b any) bool {
	return Stringify(a) == Stringify(b)
}
