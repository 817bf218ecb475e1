package packageutil

import "strings"

var (
	androidPackagePrefixes = []string{
		"android.",
		"androidx.",
		"com.android.",
		"com.google.android.",
		"com.motorola.",
		"dalvik.",
		"java.",
		"javax.",
		"jdk.internal.",
		"kotlin.",
		"kotlinx.",
		"libcore.",
		"retrofit2.",
		"sun.",
	}
)

// IsAndroidApplicationFrame reports whether a Java frame such as
// "at com.example.Main.run(Main.java:10)" belongs to the application rather
// than to the platform or a well known library.
func IsAndroidApplicationFrame(frame string) bool {
	name := strings.TrimPrefix(strings.TrimSpace(frame), "at ")
	if name == "" {
		return false
	}
	for _, p := range androidPackagePrefixes {
		if strings.HasPrefix(name, p) {
			return false
		}
	}
	return true
}
