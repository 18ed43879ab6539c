// cafctl is an operator inspection CLI for CAF containers and the
// catalog database.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/cafpack/cafpack/internal/caf"
	"github.com/cafpack/cafpack/internal/catalog"
)

func main() {
	flag.Usage = usage
	flag.Parse()
	args := flag.Args()
	if len(args) < 1 {
		usage()
		os.Exit(1)
	}

	var err error
	switch args[0] {
	case "inspect":
		err = runInspect(args[1:])
	case "lookup":
		err = runLookup(args[1:])
	default:
		usage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "cafctl: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage:
  cafctl inspect <caf-file>
  cafctl lookup -db <catalog.db> -task <task_id> -file <file_path>`)
}

// runInspect opens a CAF container locally and prints its member list.
func runInspect(args []string) error {
	fs := flag.NewFlagSet("inspect", flag.ExitOnError)
	fs.Parse(args)
	if fs.NArg() < 1 {
		return fmt.Errorf("inspect requires a container path")
	}
	path := fs.Arg(0)

	r := caf.NewReader(path)
	if err := r.LoadIndex(); err != nil {
		return fmt.Errorf("load index: %w", err)
	}

	members, err := r.List()
	if err != nil {
		return fmt.Errorf("list members: %w", err)
	}

	fileLength, err := r.FileLength()
	if err != nil {
		return fmt.Errorf("file length: %w", err)
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"Member", "Start Byte", "End Byte", "Size"})
	var totalMemberBytes int64
	for _, member := range members {
		meta, err := r.Metadata(member)
		if err != nil {
			return fmt.Errorf("metadata %q: %w", member, err)
		}
		size := meta.EndByte - meta.StartByte
		totalMemberBytes += size
		t.AppendRow(table.Row{member, meta.StartByte, meta.EndByte, size})
	}
	t.AppendFooter(table.Row{"TOTAL", "", "", totalMemberBytes})
	t.Render()

	fmt.Printf("\nfile: %s\n", path)
	fmt.Printf("container size: %d bytes\n", fileLength)
	fmt.Printf("members: %d\n", len(members))
	return nil
}

// runLookup resolves a task/file pair against the catalog and prints
// which container holds it.
func runLookup(args []string) error {
	fs := flag.NewFlagSet("lookup", flag.ExitOnError)
	dbPath := fs.String("db", "", "path to catalog.db")
	taskID := fs.String("task", "", "task id")
	filePath := fs.String("file", "", "file path")
	fs.Parse(args)

	if *dbPath == "" || *taskID == "" || *filePath == "" {
		return fmt.Errorf("lookup requires -db, -task, and -file")
	}

	store, err := catalog.Open(*dbPath)
	if err != nil {
		return fmt.Errorf("open catalog: %w", err)
	}
	defer store.Close()

	entry, err := store.Lookup(context.Background(), *taskID, *filePath)
	if err != nil {
		return fmt.Errorf("lookup %s/%s: %w", *taskID, *filePath, err)
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"Field", "Value"})
	t.AppendRow(table.Row{"task_id", entry.TaskID})
	t.AppendRow(table.Row{"file_path", entry.FilePath})
	t.AppendRow(table.Row{"bundle_id", entry.BundleID})
	t.AppendRow(table.Row{"worker_id", entry.WorkerID})
	t.AppendRow(table.Row{"created_at", entry.CreatedAt})
	t.AppendRow(table.Row{"updated_at", entry.UpdatedAt})
	t.Render()
	return nil
}
