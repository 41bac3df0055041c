//go:build !unix

package tcp

import "net"

func listenTCP(ep *net.TCPAddr) (net.Listener, error) {
	return net.Listen("tcp", ep.String())
}
