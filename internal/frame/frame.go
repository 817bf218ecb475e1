package frame

import (
	"strings"
)

// MaxNameLength is the longest cleaned name kept in full. Longer names are
// reduced to their last two dot separated components.
const MaxNameLength = 60

// CleanName turns a raw stack frame line such as
// "com.example.MyClass.myMethod(MyClass.java:42)" into a display name by
// dropping the trailing location info.
func CleanName(line string) string {
	name := strings.TrimSpace(line)
	if strings.HasSuffix(name, ")") {
		if i := strings.IndexByte(name, '('); i >= 0 {
			name = strings.TrimSpace(name[:i])
		}
	}
	if len(name) > MaxNameLength {
		parts := strings.Split(name, ".")
		if len(parts) > 2 {
			name = strings.Join(parts[len(parts)-2:], ".")
		}
	}
	return name
}
