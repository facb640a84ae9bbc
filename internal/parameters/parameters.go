package parameters

import (
	"strings"
)

// Parse parses a comma-separated list of key=value elements into a map,
// e.g. "author=app/some-bot,limit=50". Values may be single or double
// quoted. Elements without a "=" are dropped.
func Parse(paramsStr string) map[string]string {
	params := make(map[string]string)
	for _, param := range strings.Split(paramsStr, ",") {
		kv := strings.SplitN(param, "=", 2)
		if len(kv) != 2 {
			continue
		}
		key := strings.TrimSpace(kv[0])
		value := unquote(kv[1])
		params[key] = value
	}
	return params
}

func unquote(value string) string {
	for _, quote := range []string{`'`, `"`} {
		if len(value) >= 2 && strings.HasPrefix(value, quote) && strings.HasSuffix(value, quote) {
			return value[1 : len(value)-1]
		}
	}
	return value
}
