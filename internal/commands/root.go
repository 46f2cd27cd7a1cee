// Package commands wires the pipeline stages into the bagrunner CLI. Command
// bodies stay thin: parse flags, build the storage handler, call into the
// stage packages.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/borrob/3dbag-runner/internal/storage"
	"github.com/borrob/3dbag-runner/internal/version"
)

// NewRootCmd builds the bagrunner command tree.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "bagrunner",
		Short:         "3DBAG pipeline stages: partition, split, index and extract",
		Version:       version.String(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("tmp-dir", "", "directory for temporary downloads (default: OS temp)")

	root.AddCommand(
		newSplitLazCmd(),
		newPartitionCmd(),
		newHeightDBCmd(),
		newSplitGpkgCmd(),
		newLazIndexCmd(),
	)
	return root
}

func handlerFrom(cmd *cobra.Command) *storage.Handler {
	tmpDir, _ := cmd.Flags().GetString("tmp-dir")
	return storage.NewHandler(tmpDir)
}
