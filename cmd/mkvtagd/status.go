package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/mkvwatch/mkvtagd/internal/state"
)

var statusCmd = &cobra.Command{
	Use:   "status [directory]",
	Short: "Show the recorded state of every watched file",
	Long: `Status reads the .mkvtag.json side-car in the given directory
(default: the current directory) and prints one line per known file.
It never touches the files themselves and is safe to run while a
watcher is active.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringP("output", "o", "text", "output format: text, json or yaml")
}

func runStatus(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true

	dir := watchDirArg(args)
	files, err := state.Load(state.SidecarPath(dir))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Printf("no state recorded in %s\n", dir)
			return nil
		}
		return fmt.Errorf("failed to read state: %w", err)
	}

	format, _ := cmd.Flags().GetString("output")
	switch format {
	case "json":
		out, err := json.MarshalIndent(files, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	case "yaml":
		out, err := yaml.Marshal(files)
		if err != nil {
			return err
		}
		fmt.Print(string(out))
		return nil
	case "text":
		printStatusTable(files)
		return nil
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}

func printStatusTable(files map[string]*state.WatchedFile) {
	if len(files) == 0 {
		fmt.Println("no files recorded")
		return
	}
	paths := make([]string, 0, len(files))
	for p := range files {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "FILE\tSTATE\tSIZE\tATTEMPTS\tLAST ERROR")
	for _, p := range paths {
		f := files[p]
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\n",
			f.Path, f.State, f.Size, f.Attempts, f.LastError)
	}
	w.Flush()
}
