// Package serial provides direct termios/ioctl control of a Linux serial
// device, independent of any Nexus-specific semantics. The SWT server
// (internal/swt) is the only consumer in this module: it opens the trace
// cable with OpenLink and treats the returned *Port as a plain
// io.ReadWriteCloser.
package serial
