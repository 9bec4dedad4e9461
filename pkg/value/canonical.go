package value

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
)

// Canonicalize serializes v so that deeply equal values always produce the
// same bytes: object members are emitted in ascending key order, arrays keep
// their element order, numbers use the shortest round-trip form and no
// insignificant whitespace is written. Absent encodes as null.
func Canonicalize(v Value) string {
	var sb strings.Builder
	writeCanonical(&sb, v)
	return sb.String()
}

func writeCanonical(sb *strings.Builder, v Value) {
	switch v.kind {
	case KindAbsent, KindNull:
		sb.WriteString("null")
	case KindBool:
		if v.b {
			sb.WriteString("true")
		} else {
			sb.WriteString("false")
		}
	case KindNumber:
		// Finite by construction, so Marshal cannot fail.
		b, _ := json.Marshal(v.n)
		sb.Write(b)
	case KindString:
		writeString(sb, v.s)
	case KindArray:
		sb.WriteByte('[')
		for i, e := range v.arr {
			if i > 0 {
				sb.WriteByte(',')
			}
			writeCanonical(sb, e)
		}
		sb.WriteByte(']')
	case KindObject:
		sb.WriteByte('{')
		for i, k := range v.Keys() {
			if i > 0 {
				sb.WriteByte(',')
			}
			writeString(sb, k)
			sb.WriteByte(':')
			writeCanonical(sb, v.obj[k])
		}
		sb.WriteByte('}')
	}
}

func writeString(sb *strings.Builder, s string) {
	b, _ := json.Marshal(s)
	sb.Write(b)
}

// HashBytes returns the hex-encoded SHA-256 digest of data.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Hash returns the hex-encoded SHA-256 digest of the canonical form of v.
func Hash(v Value) string {
	return HashBytes([]byte(Canonicalize(v)))
}
