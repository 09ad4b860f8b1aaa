// Package canonhash produces a stable, order-independent SHA-256 digest of
// any JSON-shaped Go value (the result of json.Unmarshal into interface{},
// or plain maps/slices/scalars built by hand). Map keys are sorted before
// hashing so the digest never depends on map iteration or construction
// order, only on content.
package canonhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"

	"github.com/opal-lang/tenantctl/internal/invariant"
)

// Sum returns the lowercase hex SHA-256 digest of the canonical
// serialization of v. Two values that are structurally equal after
// recursive key-sorting (maps) — with array order preserved — hash
// identically regardless of how they were constructed.
func Sum(v any) string {
	h := sha256.New()
	write(h, v)
	return hex.EncodeToString(h.Sum(nil))
}

// writer is the minimal surface canonhash needs from hash.Hash.
type writer interface {
	Write(p []byte) (int, error)
}

// write serializes v into h in canonical form. Objects have their keys
// sorted lexicographically (recursively); arrays preserve input order;
// scalars serialize the way encoding/json would render them.
func write(h writer, v any) {
	switch val := v.(type) {
	case nil:
		_, _ = h.Write([]byte("null"))
	case map[string]any:
		writeObject(h, val)
	case map[string]string:
		obj := make(map[string]any, len(val))
		for k, s := range val {
			obj[k] = s
		}
		writeObject(h, obj)
	case []any:
		writeArray(h, val)
	case []string:
		arr := make([]any, len(val))
		for i, s := range val {
			arr[i] = s
		}
		writeArray(h, arr)
	case string:
		fmt.Fprintf(h, "s:%q", val)
	case bool:
		fmt.Fprintf(h, "b:%t", val)
	case float64:
		fmt.Fprintf(h, "n:%v", val)
	case float32:
		fmt.Fprintf(h, "n:%v", float64(val))
	case int:
		fmt.Fprintf(h, "n:%d", val)
	case int64:
		fmt.Fprintf(h, "n:%d", val)
	default:
		// Fall back to a stable field-order struct render for anything
		// the caller built by hand (e.g. a tagged struct passed directly
		// rather than through a map). Preconditions keep this path out of
		// the hot loop: canonhash.Sum is meant to be fed map/slice/scalar
		// trees built by the plan manager, not arbitrary structs.
		invariant.Precondition(v != nil, "canonhash: unreachable nil in default branch")
		fmt.Fprintf(h, "v:%#v", val)
	}
}

func writeObject(h writer, obj map[string]any) {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	_, _ = h.Write([]byte("{"))
	for i, k := range keys {
		if i > 0 {
			_, _ = h.Write([]byte(","))
		}
		fmt.Fprintf(h, "%q:", k)
		write(h, obj[k])
	}
	_, _ = h.Write([]byte("}"))
}

func writeArray(h writer, arr []any) {
	_, _ = h.Write([]byte("["))
	for i, el := range arr {
		if i > 0 {
			_, _ = h.Write([]byte(","))
		}
		write(h, el)
	}
	_, _ = h.Write([]byte("]"))
}
