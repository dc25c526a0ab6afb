// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

// Binary kgectl is the operator CLI for the knowledge graph archive:
// uploads, URL ingestion, catalog listing and download link minting.
package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/cheggaaa/pb"
	"github.com/fatih/color"
	"github.com/google/kge-archive/internal/httpx"
	"github.com/google/kge-archive/internal/objstore"
	"github.com/google/kge-archive/pkg/catalog"
	"github.com/google/kge-archive/pkg/transfer"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var (
	bucket = flag.String("bucket", "", "archive bucket name")
	root   = flag.String("root", "kge-data", "archive key prefix within the bucket")
	ttl    = flag.Duration("ttl", time.Hour, "lifetime of minted download URLs")
)

var (
	yellow = color.New(color.FgYellow).SprintFunc()
	green  = color.New(color.FgGreen).SprintFunc()
	cyan   = color.New(color.FgCyan).SprintFunc()
)

var rootCmd = &cobra.Command{
	Use:   "kgectl [subcommand]",
	Short: "Operator CLI for the knowledge graph exchange archive",
}

func newStore(cmd *cobra.Command) (objstore.Store, error) {
	if *bucket == "" {
		return nil, errors.New("-bucket is required")
	}
	return objstore.NewGCS(cmd.Context(), *bucket)
}

func newEngine(store objstore.Store) *transfer.Engine {
	client := &httpx.WithUserAgent{BasicClient: http.DefaultClient, UserAgent: "kgectl"}
	return transfer.NewEngine(store, client, nil, transfer.Config{Bucket: *bucket, Root: *root})
}

func startBar(total int64) *pb.ProgressBar {
	bar := pb.New64(total)
	bar.Output = os.Stderr
	bar.SetUnits(pb.U_BYTES)
	bar.Start()
	return bar
}

var uploadCmd = &cobra.Command{
	Use:   "upload <file> <kg_id> <fileset_version>",
	Short: "Upload a local file into a file set, routed by its name.",
	Args:  cobra.ExactArgs(3),
	// Silence errors because we will print the error ourselves in main.
	SilenceErrors: true,
	SilenceUsage:  true,
	RunE: func(cmd *cobra.Command, args []string) error {
		local, kgID, version := args[0], args[1], args[2]
		store, err := newStore(cmd)
		if err != nil {
			return err
		}
		f, err := os.Open(local)
		if err != nil {
			return errors.Wrap(err, "opening file")
		}
		defer f.Close()
		info, err := f.Stat()
		if err != nil {
			return errors.Wrap(err, "sizing file")
		}
		bar := startBar(info.Size())
		file, err := newEngine(store).Upload(cmd.Context(), kgID, version,
			&transfer.FileUpload{Name: filepath.Base(local), Content: f},
			func(d int64) { bar.Add64(d) })
		bar.Finish()
		if err != nil {
			return errors.Wrap(err, "uploading")
		}
		fmt.Fprintln(cmd.OutOrStdout(), green("uploaded"), file.ObjectKey, cyan(fmt.Sprintf("(%s, %d bytes)", file.Type, file.Size)))
		return nil
	},
}

var ingestCmd = &cobra.Command{
	Use:           "ingest <url> <kg_id> <fileset_version> [<name>]",
	Short:         "Stream a remote resource into a file set without a local copy.",
	Args:          cobra.RangeArgs(3, 4),
	SilenceErrors: true,
	SilenceUsage:  true,
	RunE: func(cmd *cobra.Command, args []string) error {
		url, kgID, version := args[0], args[1], args[2]
		store, err := newStore(cmd)
		if err != nil {
			return err
		}
		engine := newEngine(store)
		size := engine.FileSizeOfURL(cmd.Context(), url)
		switch size {
		case transfer.SizeInvalidURL:
			return errors.Errorf("%q is not a usable http(s) URL", url)
		case transfer.SizeUnreachable:
			fmt.Fprintln(cmd.OutOrStderr(), yellow("NOTE:"), "source did not answer the size probe; ingesting anyway")
			size = 0
		case transfer.SizeNoLength:
			fmt.Fprintln(cmd.OutOrStderr(), yellow("NOTE:"), "source does not advertise a size")
			size = 0
		}
		req := &transfer.URLUpload{URL: url}
		if len(args) == 4 {
			req.Name = args[3]
		}
		bar := startBar(size)
		file, err := engine.Upload(cmd.Context(), kgID, version, req, func(d int64) { bar.Add64(d) })
		bar.Finish()
		if err != nil {
			return errors.Wrap(err, "ingesting")
		}
		fmt.Fprintln(cmd.OutOrStdout(), green("ingested"), file.ObjectKey, cyan(fmt.Sprintf("(%d bytes)", file.Size)))
		return nil
	},
}

var catalogCmd = &cobra.Command{
	Use:           "catalog [<kg_id>]",
	Short:         "List knowledge graphs, their file set versions and members.",
	Args:          cobra.MaximumNArgs(1),
	SilenceErrors: true,
	SilenceUsage:  true,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := newStore(cmd)
		if err != nil {
			return err
		}
		cat, err := catalog.Load(cmd.Context(), store, *root)
		if err != nil {
			return errors.Wrap(err, "loading catalog")
		}
		ids := cat.KnowledgeGraphs()
		if len(args) == 1 {
			ids = []string{args[0]}
		}
		out := cmd.OutOrStdout()
		for _, id := range ids {
			kg, ok := cat.Graph(id)
			if !ok {
				return errors.Errorf("unknown knowledge graph %q", id)
			}
			fmt.Fprintln(out, green(id))
			for _, version := range kg.Versions() {
				fs, _ := kg.FileSet(version)
				fmt.Fprintf(out, "  %s %s (%d bytes)\n", cyan(version), fs.Status, fs.TotalSize())
				for _, f := range fs.Files() {
					fmt.Fprintf(out, "    %-22s %-12d %s\n", f.Type, f.Size, f.Name)
				}
			}
		}
		return nil
	},
}

var presignCmd = &cobra.Command{
	Use:           "presign <object-key>",
	Short:         "Mint a time-limited download URL for an archive object.",
	Args:          cobra.ExactArgs(1),
	SilenceErrors: true,
	SilenceUsage:  true,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := newStore(cmd)
		if err != nil {
			return err
		}
		u, err := store.SignedURL(args[0], *ttl)
		if err != nil {
			return errors.Wrap(err, "signing URL")
		}
		fmt.Fprintln(cmd.OutOrStdout(), u)
		return nil
	},
}

func init() {
	for _, cmd := range []*cobra.Command{uploadCmd, ingestCmd, catalogCmd, presignCmd} {
		cmd.Flags().AddGoFlag(flag.Lookup("bucket"))
		cmd.Flags().AddGoFlag(flag.Lookup("root"))
		rootCmd.AddCommand(cmd)
	}
	presignCmd.Flags().AddGoFlag(flag.Lookup("ttl"))
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		color.New(color.FgRed).Printf("Error: %v\n", err)
		os.Exit(1)
	}
}
