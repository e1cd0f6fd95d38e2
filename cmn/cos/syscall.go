package cos

import "syscall"

const (
	syscallErrConnRefused = syscall.ECONNREFUSED
	syscallErrConnReset   = syscall.ECONNRESET
	syscallErrBrokenPipe  = syscall.EPIPE
)
