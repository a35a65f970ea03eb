package main

import (
	"fmt"
	"net"
	"strconv"
)

func splitMulticastAddr(addr string) (group string, port int, err error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, err
	}
	port, err = strconv.Atoi(portStr)
	if err != nil {
		return "", 0, fmt.Errorf("invalid port %q: %w", portStr, err)
	}
	return host, port, nil
}

func main() {
	Execute()
}
