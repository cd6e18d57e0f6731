package main

import (
	"bufio"
	"net/netip"
	"os"

	"github.com/pkg/errors"
)

var errTimeout = errors.New("query timed out")

// saveNodes writes every known node's endpoint to path, one
// "A.B.C.D:port" per line. This is the only persistence format the
// core's design allows the driver to use.
func (c *crawler) saveNodes(path string) error {
	c.tableMu.Lock()
	nodes := c.table.AllNodes()
	c.tableMu.Unlock()

	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "create node list")
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for _, n := range nodes {
		for _, addr := range n.Addresses {
			if _, err := w.WriteString(addr.String() + "\n"); err != nil {
				return errors.Wrap(err, "write node list")
			}
		}
	}
	return w.Flush()
}

// loadNodes reads a flat node list previously written by saveNodes and
// returns its endpoints, skipping lines that do not parse. It does not
// touch the routing table: the file carries no node ID, only an endpoint,
// so the caller pings each entry and lets the response path insert it.
func (c *crawler) loadNodes(path string) ([]netip.AddrPort, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "open node list")
	}
	defer f.Close()

	var addrs []netip.AddrPort
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		addr, err := netip.ParseAddrPort(line)
		if err != nil {
			continue
		}
		addrs = append(addrs, addr)
	}
	return addrs, scanner.Err()
}
