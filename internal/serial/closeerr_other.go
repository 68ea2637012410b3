//go:build !unix

package serial

import "strings"

// Without errno values to compare, match the messages Windows and the
// fallback drivers produce for an invalidated handle.
func isBadDescriptor(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "bad file descriptor") || strings.Contains(msg, "handle is invalid")
}
