// Copyright 2025 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cmd

import (
	"encoding/hex"
	"fmt"
	"os"

	"github.com/blockvault/bfs/fs"
	"github.com/blockvault/bfs/internal/blockdev"
	"github.com/blockvault/bfs/internal/layout"
	"github.com/blockvault/bfs/internal/secassoc"
	"github.com/spf13/cobra"
)

var (
	mkfsNumInodes uint64
	mkfsNumBlocks uint64
)

var mkfsCmd = &cobra.Command{
	Use:   "mkfs <device-path>",
	Short: "Format a block device image with a fresh bfs volume.",
	Args:  cobra.ExactArgs(1),
	RunE:  runMkfs,
}

func init() {
	mkfsCmd.Flags().Uint64Var(&mkfsNumInodes, "inodes", 1024, "Number of inodes to allocate in the inode table.")
	mkfsCmd.Flags().Uint64Var(&mkfsNumBlocks, "blocks", 65536, "Total number of blocks in the device image, metadata regions included.")
}

func runMkfs(cmd *cobra.Command, args []string) error {
	devPath := args[0]

	saKey, err := hex.DecodeString(MountConfig.SecAssoc.FsSaKey)
	if err != nil {
		return fmt.Errorf("decoding fs-sa-key: %w", err)
	}
	sa, err := secassoc.New(saKey)
	if err != nil {
		return fmt.Errorf("building security association: %w", err)
	}

	totalBlocks := int64(layout.New(mkfsNumInodes, mkfsNumBlocks).NumBlocks)
	dev, err := blockdev.Open(devPath, layout.BlockSize, totalBlocks)
	if err != nil {
		return fmt.Errorf("opening device image: %w", err)
	}
	defer dev.Close()

	if err := fs.Format(dev, sa, mkfsNumInodes, mkfsNumBlocks); err != nil {
		return fmt.Errorf("formatting volume: %w", err)
	}

	fmt.Fprintf(os.Stdout, "formatted %s: %d inodes, %d blocks\n", devPath, mkfsNumInodes, mkfsNumBlocks)
	return nil
}
