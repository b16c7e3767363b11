/*
mpirun is a helper for launching mpi jobs on a local machine.

Since Go is good at shared memory, generally programs should use Go's
primitives rather than message passing in a shared-memory environment (or the
Mesh runtime, which needs no launcher at all). Running separate processes
locally is still helpful for debugging and prototyping the Network runtime.

mpirun takes the number of processes to launch and the command to run. Any
additional arguments are passed through to the program. Shared memory
parallelism should be set in the program itself using runtime.GOMAXPROCS.

Instructions:
	go install github.com/clusterkit/mpi/cmd/mpirun
	mpirun 8 programname -otherflag=value
*/
package main

import (
	"log"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
)

func main() {
	if len(os.Args) < 3 {
		log.Fatal("usage: mpirun nprocs executable [args...]")
	}
	nNodes, err := strconv.Atoi(os.Args[1])
	if err != nil {
		log.Fatal("error parsing nprocs: ", err)
	}
	if nNodes < 1 {
		log.Fatal("number of processes must be positive")
	}

	execName := os.Args[2]
	otherArgs := os.Args[3:]

	// Use local host ports
	baseport := 5000
	ports := make([]string, nNodes)
	for i := range ports {
		ports[i] = ":" + strconv.Itoa(baseport+i)
	}

	launch(execName, ports, otherArgs)
}

// launch runs one copy of the command per port, each told its own address and
// the full address list.
func launch(execName string, ports []string, args []string) {
	portlist := strings.Join(ports, ",")
	wg := &sync.WaitGroup{}
	for _, port := range ports {
		wg.Add(1)
		go func(port string) {
			defer wg.Done()
			a := append(append([]string{}, args...),
				"-mpi-addr", port, "-mpi-alladdr", portlist)
			cmd := exec.Command(execName, a...)
			cmd.Stdin = os.Stdin
			cmd.Stdout = os.Stdout
			cmd.Stderr = os.Stderr
			if err := cmd.Run(); err != nil {
				log.Print(port, ": ", err)
			}
		}(port)
	}
	wg.Wait()
}
