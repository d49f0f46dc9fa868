package queue

import (
	"fmt"
	"strings"
)

// qualifiedStructName names a payload type as package.Type.
func qualifiedStructName(v any) string {
	return strings.TrimLeft(fmt.Sprintf("%T", v), "*")
}
