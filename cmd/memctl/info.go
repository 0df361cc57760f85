package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/joshuapare/memkit/memory/manager"
	"github.com/joshuapare/memkit/pkg/memkit"
)

func init() {
	rootCmd.AddCommand(newInfoCmd())
}

func newInfoCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "info",
		Short: "Report page size, physical memory and the effective configuration",
		Long: `The info command shows what memkit sees on this host: the page size,
installed and available physical memory, the low-memory threshold, and the
configuration after MEMKIT_* overrides.

Example:
  memctl info
  memctl info --constrained --json
  MEMKIT_COMMIT_LIMIT=67108864 memctl info`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInfo()
		},
	}
	return cmd
}

// HostInfo is the info command's result.
type HostInfo struct {
	PageSize           int           `json:"page_size"`
	TotalPhysical      uint64        `json:"total_physical"`
	AvailablePhysical  uint64        `json:"available_physical"`
	LowMemoryThreshold uint64        `json:"low_memory_threshold"`
	LowMemory          bool          `json:"low_memory"`
	Config             memkit.Config `json:"config"`
}

func gatherInfo() (HostInfo, error) {
	cfg, err := loadConfig()
	if err != nil {
		return HostInfo{}, err
	}
	m := manager.New(newVM(), cfg.ManagerConfig())
	if err := m.Initialize(); err != nil {
		return HostInfo{}, fmt.Errorf("failed to initialize memory manager: %w", err)
	}
	defer func() { _ = m.ReleaseAllMemory() }()

	return HostInfo{
		PageSize:           m.PageSize(),
		TotalPhysical:      m.TotalPhysicalMemory(),
		AvailablePhysical:  m.AvailablePhysicalMemory(),
		LowMemoryThreshold: m.LowPhysicalMemoryThreshold(),
		LowMemory:          m.IsLowMemory(),
		Config:             cfg,
	}, nil
}

func runInfo() error {
	info, err := gatherInfo()
	if err != nil {
		return err
	}
	if jsonOut {
		return printJSON(info)
	}

	printInfo("\nHost:\n")
	printInfo("  Page size:          %d bytes\n", info.PageSize)
	printInfo("  Physical memory:    %d bytes\n", info.TotalPhysical)
	printInfo("  Available:          %d bytes\n", info.AvailablePhysical)
	printInfo("  Low-memory floor:   %d bytes\n", info.LowMemoryThreshold)
	if info.LowMemory {
		printInfo("  Status:             LOW MEMORY\n")
	} else {
		printInfo("  Status:             ok\n")
	}

	c := info.Config
	printInfo("\nConfiguration:\n")
	if c.CommitLimit > 0 {
		printInfo("  Commit limit:       %d bytes\n", c.CommitLimit)
	} else {
		printInfo("  Commit limit:       unlimited\n")
	}
	printInfo("  Bootstrap:          %d bytes\n", c.BootstrapSize)
	printInfo("  Arena reserve:      %d bytes\n", c.ArenaReserve)
	printInfo("  JS block cache:     %d bytes\n", c.JSBlockCacheSize)
	printInfo("  Size classes:       %s\n", c.SizeClasses)
	printInfo("  Allocation can fail: %t\n", c.AllocationCanFail)
	printVerbose("  Arena growth:       %d bytes\n", c.ArenaGrowth)
	printVerbose("  Pool chunk bytes:   %d\n", c.PoolChunkBytes)
	printVerbose("  Prefault:           %t\n", c.Prefault)
	return nil
}
