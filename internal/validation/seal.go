package validation

import (
	"encoding/json"
	"strings"

	"github.com/zeebo/blake3"
)

// seal is a content digest of a validated value. Layers get the value by copy, but maps,
// slices and pointers inside it are still shared, so the digest is rechecked after each layer.
type seal struct {
	sum [32]byte
	ok  bool
}

func sealOf(v any) seal {
	h := blake3.New()
	if err := json.NewEncoder(h).Encode(v); err != nil {
		return seal{}
	}
	var s seal
	copy(s.sum[:], h.Sum(nil))
	s.ok = true
	return s
}

// broken reports whether v no longer matches the seal. A value that encoded when sealed but
// no longer encodes has been changed. Values that never encoded are not tracked.
func (s seal) broken(v any) bool {
	if !s.ok {
		return false
	}
	now := sealOf(v)
	return !now.ok || now.sum != s.sum
}

var mutationPatterns = []string{
	"read only",
	"read-only",
	"not extensible",
	"cannot assign",
	"cannot add",
	"cannot delete",
	"assignment to entry in nil map",
}

// isMutationPanic matches panic messages raised by attempted writes to protected values.
func isMutationPanic(v any) bool {
	var msg string
	switch x := v.(type) {
	case error:
		msg = x.Error()
	case string:
		msg = x
	default:
		return false
	}
	msg = strings.ToLower(msg)
	for _, p := range mutationPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}
