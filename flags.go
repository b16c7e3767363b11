package mpi

import (
	"flag"
	"fmt"
	"strings"
	"time"
)

// Flags configuring Network. flag.Parse() must be called for them to take
// effect, and an explicitly set Network field wins over its flag.
var (
	FlagAddr        string
	FlagAllAddrs    AddrsFlag
	FlagInitTimeout time.Duration
	FlagProtocol    string
	FlagPassword    string
	FlagCompressMin int
)

// AddrsFlag collects a comma separated list of addresses. It implements
// flag.Value.
type AddrsFlag []string

func (m *AddrsFlag) String() string {
	return fmt.Sprint(*m)
}

func (m *AddrsFlag) Set(value string) error {
	for _, str := range strings.Split(value, ",") {
		*m = append(*m, str)
	}
	return nil
}

func init() {
	flag.StringVar(&FlagAddr, "mpi-addr", "", "address of the local running process")
	flag.Var(&FlagAllAddrs, "mpi-alladdr", "addresses of all of the processes as comma separated values")
	flag.DurationVar(&FlagInitTimeout, "mpi-inittimeout", 0, "duration to wait before timeout in init")
	flag.StringVar(&FlagProtocol, "mpi-protocol", "tcp", "communication protocol to use")
	flag.StringVar(&FlagPassword, "mpi-password", "", "shared secret checked during connection handshakes")
	flag.IntVar(&FlagCompressMin, "mpi-compressmin", 4096, "frame payload size in bytes at which compression kicks in")
}
