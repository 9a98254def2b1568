// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"
	"path/filepath"

	"github.com/AleutianAI/ferrule/services/workspace/config"
	"github.com/spf13/cobra"
)

func newConfigCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Create or inspect the ferrule configuration",
	}
	cmd.AddCommand(newConfigInitCmd(opts), newConfigShowCmd(opts))
	return cmd
}

func newConfigInitCmd(opts *rootOptions) *cobra.Command {
	var (
		force     bool
		workspace bool
	)
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default configuration file",
		Long: `Write the default configuration (legacy mode, no on-save action).

Without --config the file goes to the user config directory, or to
<workspace>/.ferrule.yaml with --in-workspace.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := opts.configPath
			if path == "" && workspace {
				root := opts.workspace
				if root == "" {
					root = "."
				}
				path = filepath.Join(root, config.WorkspaceConfigName)
			}
			written, err := config.WriteDefault(path, force)
			if err != nil {
				return err
			}
			fmt.Fprintf(opts.stdout, "Wrote %s\n", written)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite an existing file")
	cmd.Flags().BoolVar(&workspace, "in-workspace", false, "write "+config.WorkspaceConfigName+" in the workspace root")
	return cmd
}

func newConfigShowCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := opts.load()
			if err != nil {
				return err
			}
			data, err := config.Marshal(ws.cfg)
			if err != nil {
				return err
			}
			fmt.Fprintf(opts.stdout, "# %s\n", ws.path)
			_, err = opts.stdout.Write(data)
			return err
		},
	}
}
