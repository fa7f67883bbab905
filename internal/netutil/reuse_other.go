//go:build !unix

package netutil

import "syscall"

func reuseAddr(_, _ string, _ syscall.RawConn) error { return nil }
