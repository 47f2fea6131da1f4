/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/coldtree/coldtree/pkg/alloc"
	"github.com/coldtree/coldtree/pkg/btree"
	"github.com/coldtree/coldtree/pkg/di"
)

var btreeNames = map[string]btree.ID{
	"extents": btree.Extents,
	"inodes":  btree.Inodes,
	"dirents": btree.Dirents,
	"xattrs":  btree.Xattrs,
	"alloc":   btree.Alloc,
}

// compactCmd rewrites a single btree's root node onto a freshly allocated
// location, exercising the update engine's Rewrite path from the
// command line. There's no real disk-backed write path wired up here (the
// out-of-scope writer that normally reports completion back via
// NodeWriteCompleted), so this command plays that role itself once
// Rewrite returns, the same way a test's fakeJournal/fakeNodeCache would.
var compactCmd = &cobra.Command{
	Use:   "compact <btree>",
	Short: "Rewrite a btree's root node onto a fresh allocation",
	Long: `Compact consolidates a single btree's root node by rewriting it to a
freshly allocated location without changing its key set. This is
the same topology operation the background GC/reclaim path uses to move
a node off a device being evacuated, exposed here as a one-shot manual
trigger.

Examples:
  coldctl compact extents --data-dir ./data
  coldctl compact inodes --data-dir ./data --device-sectors 1048576`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		name := args[0]
		id, ok := btreeNames[name]
		if !ok {
			cmd.Printf("Error: unknown btree %q (want one of extents, inodes, dirents, xattrs, alloc)\n", name)
			os.Exit(1)
		}

		dataDir, _ := cmd.Flags().GetString("data-dir")
		deviceSectors, _ := cmd.Flags().GetUint64("device-sectors")

		if container == nil {
			cmd.Printf("Error: dependency container not initialized\n")
			os.Exit(1)
		}

		fs, err := container.BuildFilesystem(di.BtreeConfig{
			DataDir:       dataDir,
			Devices:       []alloc.Device{{ID: 1, TotalSectors: deviceSectors}},
			NodeCacheSize: 256,
		})
		if err != nil {
			cmd.Printf("Error opening btree engine: %v\n", err)
			os.Exit(1)
		}
		defer container.Close()

		ctx := context.Background()

		root, ok := fs.Roots.Get(id)
		if !ok {
			cmd.Printf("%s has no root yet; nothing to compact\n", name)
			return
		}

		n, err := fs.NodeCache.Get(root.Node)
		if err != nil {
			cmd.Printf("Error: root node %d not resident in cache: %v\n", root.Node, err)
			os.Exit(1)
		}
		defer fs.NodeCache.Put(n)

		u, err := fs.StartReclaimUpdate(ctx, id, 4096)
		if err != nil {
			cmd.Printf("Error starting update: %v\n", err)
			os.Exit(1)
		}

		started := time.Now()
		fresh, err := fs.Rewrite(ctx, u, nil, n)
		if err != nil {
			cmd.Printf("Error rewriting root: %v\n", err)
			os.Exit(1)
		}

		if err := fs.NodeWriteCompleted(u, fresh, started); err != nil {
			cmd.Printf("Error finalizing rewrite: %v\n", err)
			os.Exit(1)
		}

		cmd.Printf("✅ Compacted %s: root %d -> %d (%d keys)\n", name, root.Node, fresh.ID(), fresh.KeyCount())
	},
}

func init() {
	rootCmd.AddCommand(compactCmd)

	compactCmd.Flags().String("data-dir", "./data", "Data directory holding the btree engine's state")
	compactCmd.Flags().Uint64("device-sectors", 1<<20, "Total sectors on the (single) backing device the allocator tracks")
}
