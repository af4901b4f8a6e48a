package pipeline

import (
	"fmt"
	"strconv"
	"strings"
)

// BuildNiceName derives a unique display name for an operation's output
// layer from the input layer's name and the operation suffix. Repeated
// application of the same operation appends a bracketed version counter:
//
//	raw          + dtWS -> raw_dtWS
//	raw_dtWS     + dtWS -> raw_dtWS[1]
//	raw_dtWS[1]  + dtWS -> raw_dtWS[2]
//	raw_GASP     + dtWS -> raw_GASP_dtWS
//
// This keeps output keys distinct in the pipeline DAG without the
// recorder itself enforcing uniqueness.
func BuildNiceName(base, suffix string) string {
	idx := strings.LastIndex(base, "_")
	if idx == -1 {
		return base + "_" + suffix
	}
	prefix, oldSuffix := base[:idx], base[idx+1:]
	newSuffix, version := findVersion(oldSuffix, suffix)
	return prefix + "_" + newSuffix + version
}

// findVersion returns the suffix to append and its bracketed version
// counter. When the old suffix already carries the operation suffix, the
// counter increments; otherwise the operation suffix is added fresh.
func findVersion(oldSuffix, newSuffix string) (string, string) {
	idx := strings.Index(oldSuffix, newSuffix)
	if idx == -1 {
		return oldSuffix + "_" + newSuffix, ""
	}
	vIdx := idx + len(newSuffix)
	head, tail := oldSuffix[:vIdx], oldSuffix[vIdx:]
	version := 0
	if len(tail) >= 2 && tail[0] == '[' && tail[len(tail)-1] == ']' {
		if n, err := strconv.Atoi(tail[1 : len(tail)-1]); err == nil {
			version = n
		}
	}
	return head, fmt.Sprintf("[%d]", version+1)
}
