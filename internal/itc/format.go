package itc

import "fmt"

// sprintfSigned and sprintfUnsigned apply a single numeric argument to
// a pre-registered format string. spec.md's no-load-string mode only
// ever carries one 32-bit word per write, so multi-argument formats
// are out of scope; ArgCount beyond 1 is accepted at registration but
// rendered as-is with the sole argument applied to the first verb.
func sprintfSigned(format string, v int32) string {
	return fmt.Sprintf(format, v)
}

func sprintfUnsigned(format string, v uint32) string {
	return fmt.Sprintf(format, v)
}
