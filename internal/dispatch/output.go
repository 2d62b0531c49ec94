package dispatch

import (
	"fmt"
	"sort"
	"strings"
)

// Personalize prefixes msg with the user's known data as "key: value"
// lines, sorted by key. Empty data leaves msg untouched.
func Personalize(userData map[string]string, msg string) string {
	if len(userData) == 0 {
		return msg
	}
	keys := make([]string, 0, len(userData))
	for k := range userData {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString("Información del usuario:\n")
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%s: %s", k, userData[k])
	}
	b.WriteString("\n\nMensaje del usuario: ")
	b.WriteString(msg)
	return b.String()
}

// outputKeys are looked up, in order, in mapping-shaped results.
var outputKeys = []string{"final_output", "output", "text"}

// ExtractOutput turns any agent result into text. A typed final output wins,
// then a known mapping key, then the value's string form.
func ExtractOutput(result any) string {
	switch v := result.(type) {
	case nil:
		return ""
	case interface{ FinalOutputText() string }:
		return v.FinalOutputText()
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	case map[string]any:
		for _, k := range outputKeys {
			if out, ok := v[k]; ok && out != nil {
				return ExtractOutput(out)
			}
		}
	case map[string]string:
		for _, k := range outputKeys {
			if out, ok := v[k]; ok {
				return out
			}
		}
	}
	return fmt.Sprint(result)
}
