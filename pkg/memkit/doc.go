// Package memkit assembles the allocator stack into one System for an
// embedding application.
//
// A System owns, in initialization order:
//
//   - the memory manager (address space, JS heap blocks, commit budget),
//   - the bootstrap buffer and the shared MemoryAllocator built on it,
//   - the arena slot table for isolated script heaps,
//   - the object pool registry,
//   - the graphics allocator.
//
// Close tears them down in reverse order.
//
// Allocation entry points on System apply the low-memory recovery ladder:
// try, run the low-memory response, try again, then let the manager's
// allocation-can-fail flag and OOM handler decide.
//
// Example:
//
//	cfg, err := memkit.LoadConfig()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	sys, err := memkit.New(platform.Default(), cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer sys.Close()
//
//	arena, _ := sys.NewScriptArena()
//	ref, b, err := arena.Malloc(256)
//
// Like the components it wraps, a System is not safe for concurrent use.
package memkit
