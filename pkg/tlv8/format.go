package tlv8

import (
	"fmt"
	"strings"
)

// Format renders a message for trace logs. Values of item types that carry
// secret-dependent material are shown by length only.
func Format(data []byte) string {
	items, err := Parse(data)
	if err != nil {
		return fmt.Sprintf("<malformed tlv8: %v>", err)
	}

	var sb strings.Builder
	for i, it := range items {
		if i > 0 {
			sb.WriteString(", ")
		}
		switch it.Type {
		case TypeState, TypeMethod, TypeRetryDelay:
			v, _ := Items{it}.GetUint(it.Type)
			fmt.Fprintf(&sb, "%s=%d", it.Type, v)
		case TypeError:
			if len(it.Value) == 1 {
				fmt.Fprintf(&sb, "%s=%s", it.Type, ErrorCode(it.Value[0]))
			} else {
				fmt.Fprintf(&sb, "%s=<%d bytes>", it.Type, len(it.Value))
			}
		case TypeIdentifier:
			fmt.Fprintf(&sb, "%s=%q", it.Type, it.Value)
		default:
			fmt.Fprintf(&sb, "%s=<%d bytes>", it.Type, len(it.Value))
		}
	}
	return sb.String()
}
