package cache

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"
)

// KeyPrefix is prepended to every cache key string.
const KeyPrefix = "mkt"

// Key represents a unique identifier for a cached payload.
type Key struct {
	// Namespace is the operation the payload belongs to (e.g., "chart-data")
	Namespace string

	// Params are scalar parameters (e.g., {"address": "0xabc", "timeframe": "1D"})
	Params map[string]string

	// Lists are ordered multi-value parameters (e.g., {"preferredBaseTokens": ["WETH", "USDC"]}).
	// Value order is significant and preserved.
	Lists map[string][]string

	// Date pins once-daily data to a UTC calendar day. Zero means no date component.
	Date time.Time
}

// String generates a deterministic cache key string.
// Format: mkt:namespace:param1=val1:param2=val2:list[]=a,b:date=2006-01-02
//
// Example:
//
//	mkt:chart-data:address=0xabc:network=base:timeframe=1D:preferredBaseTokens[]=WETH,USDC
//
// Values are query-escaped so separators inside values cannot make two
// different parameter sets render to the same string.
func (k Key) String() string {
	parts := []string{KeyPrefix}

	if ns := strings.Trim(k.Namespace, ":"); ns != "" {
		parts = append(parts, ns)
	}

	// Scalar params (sorted for determinism)
	if len(k.Params) > 0 {
		names := make([]string, 0, len(k.Params))
		for name := range k.Params {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			parts = append(parts, fmt.Sprintf("%s=%s", name, url.QueryEscape(k.Params[name])))
		}
	}

	// List params (names sorted, values in given order)
	if len(k.Lists) > 0 {
		names := make([]string, 0, len(k.Lists))
		for name, values := range k.Lists {
			if len(values) == 0 {
				continue
			}
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			values := k.Lists[name]
			escaped := make([]string, len(values))
			for i, v := range values {
				escaped[i] = url.QueryEscape(v)
			}
			parts = append(parts, fmt.Sprintf("%s[]=%s", name, strings.Join(escaped, ",")))
		}
	}

	if !k.Date.IsZero() {
		parts = append(parts, "date="+k.Date.UTC().Format(time.DateOnly))
	}

	return strings.Join(parts, ":")
}
