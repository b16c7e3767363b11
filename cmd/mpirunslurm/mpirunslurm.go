/*
mpirunslurm launches mpi jobs inside a slurm allocation. To use, first
allocate nodes with salloc, then call
	mpirunslurm ncores programname otherargs
For example,
	salloc -N6 -c12
	mpirunslurm 12 transpose

Note that this syntax differs from that of mpirun: ncores is the number of
cores given to each distributed process, not the number of processes. One
process is launched per allocated node with srun, pinned to that node so the
address handed to the process matches the host it runs on.
*/
package main

import (
	"fmt"
	"log"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
)

func main() {
	if len(os.Args) < 3 {
		log.Fatal("usage: mpirunslurm ncores executable [args...]")
	}
	nCores, err := strconv.Atoi(os.Args[1])
	if err != nil {
		log.Fatal("error parsing ncores: ", err)
	}
	if nCores < 1 {
		log.Fatal("number of cores must be positive")
	}
	execName := os.Args[2]
	otherArgs := os.Args[3:]

	nodes, err := expandNodelist(os.Getenv("SLURM_JOB_NODELIST"))
	if err != nil {
		log.Fatal("error parsing SLURM_JOB_NODELIST: ", err)
	}
	if len(nodes) == 0 {
		log.Fatal("no nodes in SLURM_JOB_NODELIST; run inside an allocation")
	}

	addrs := make([]string, len(nodes))
	for i, node := range nodes {
		addrs[i] = node + ":5000"
	}
	addrlist := strings.Join(addrs, ",")

	wg := &sync.WaitGroup{}
	for i, node := range nodes {
		wg.Add(1)
		go func(i int, node string) {
			defer wg.Done()
			a := []string{"-N1", "-w", node, "-c", strconv.Itoa(nCores), execName}
			a = append(a, otherArgs...)
			a = append(a, "-mpi-addr", addrs[i], "-mpi-alladdr", addrlist)
			cmd := exec.Command("srun", a...)
			cmd.Stdout = os.Stdout
			cmd.Stderr = os.Stderr
			if err := cmd.Run(); err != nil {
				log.Print(node, ": ", err)
			}
		}(i, node)
	}
	wg.Wait()
}

// expandNodelist expands slurm's compressed node list syntax, for example
// "n[1-3,7],head" becomes n1 n2 n3 n7 head. Numeric zero padding inside a
// range is preserved.
func expandNodelist(list string) ([]string, error) {
	var nodes []string
	for _, group := range splitGroups(list) {
		open := strings.Index(group, "[")
		if open < 0 {
			nodes = append(nodes, group)
			continue
		}
		prefix := group[:open]
		body := strings.TrimSuffix(group[open+1:], "]")
		for _, part := range strings.Split(body, ",") {
			bounds := strings.SplitN(part, "-", 2)
			if len(bounds) == 1 {
				nodes = append(nodes, prefix+bounds[0])
				continue
			}
			lo, err := strconv.Atoi(bounds[0])
			if err != nil {
				return nil, err
			}
			hi, err := strconv.Atoi(bounds[1])
			if err != nil {
				return nil, err
			}
			if hi < lo {
				return nil, fmt.Errorf("descending node range %q", part)
			}
			width := len(bounds[0])
			for n := lo; n <= hi; n++ {
				nodes = append(nodes, fmt.Sprintf("%s%0*d", prefix, width, n))
			}
		}
	}
	return nodes, nil
}

// splitGroups splits a node list on the commas that sit outside brackets.
func splitGroups(list string) []string {
	if list == "" {
		return nil
	}
	var groups []string
	depth, start := 0, 0
	for i, r := range list {
		switch r {
		case '[':
			depth++
		case ']':
			depth--
		case ',':
			if depth == 0 {
				groups = append(groups, list[start:i])
				start = i + 1
			}
		}
	}
	groups = append(groups, list[start:])
	return groups
}
