package emulation

import "strings"

var nameReplacer = strings.NewReplacer(" ", "-", "_", "-", "/", "-", ":", "-", ".", "-")

// CleanName lowercases name and replaces the characters that pod, namespace and scenario
// names cannot carry.
func CleanName(name string) string {
	return strings.ToLower(nameReplacer.Replace(name))
}
