//go:build !unix

package discovery

import "syscall"

func socketControl(network, address string, raw syscall.RawConn) error {
	return nil
}
