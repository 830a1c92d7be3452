package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

func newBlobCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "blob",
		Short: "Store and read binary objects",
	}
	cmd.AddCommand(newBlobPutCmd(g), newBlobGetCmd(g))
	return cmd
}

func newBlobPutCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "put FILE",
		Short: "Store a file and print its object ID",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.run(cmd, func(ctx context.Context, a *app) error {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				id, err := a.blobs.Write(ctx, f)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), id)
				return err
			})
		},
	}
}

func newBlobGetCmd(g *globalFlags) *cobra.Command {
	var outPath string
	cmd := &cobra.Command{
		Use:   "get ID",
		Short: "Write the content of an object",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.run(cmd, func(ctx context.Context, a *app) error {
				var w io.Writer = cmd.OutOrStdout()
				if outPath != "" {
					f, err := os.Create(outPath)
					if err != nil {
						return err
					}
					defer f.Close()
					w = f
				}
				for data, err := range a.blobs.Chunks(ctx, args[0]) {
					if err != nil {
						return err
					}
					if _, err := w.Write(data); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&outPath, "output", "o", "", "write to this file instead of stdout")
	return cmd
}
