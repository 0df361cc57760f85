// Command memctl inspects the host's memory configuration and exercises
// the memkit allocator stack with synthetic workloads.
package main

func main() {
	execute()
}
