// Command mkvtagd watches a directory for finished Matroska files and
// adds track statistics tags to each one exactly once.
package main

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/mkvwatch/mkvtagd/internal/config"
)

var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "mkvtagd",
	Short: "Tag finished Matroska files with track statistics",
	Long: `mkvtagd watches a directory for Matroska (.mkv) files, waits until
each file has stopped changing, and runs mkvpropedit
--add-track-statistics-tags on it exactly once.

Processing state is persisted to a .mkvtag.json side-car in the watched
directory, so restarts resume where the previous run left off. A
.mkvtag.pid marker guards against two instances watching the same
directory.`,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the mkvtagd version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("mkvtagd %s\n", version)
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(versionCmd)
}

// newViper builds the configuration source: defaults, then an optional
// config file in the watched directory, then MKVTAG_* env vars, then
// explicit flags.
func newViper(cmd *cobra.Command) (*viper.Viper, error) {
	v := viper.New()
	config.SetDefaults(v)
	v.SetEnvPrefix(config.EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return nil, fmt.Errorf("failed to bind flags: %w", err)
	}
	return v, nil
}

// newLogger routes the daemon log to stderr and, when a log file is
// configured, additionally to a size-rotated file.
func newLogger(logFile string) *log.Logger {
	var w io.Writer = os.Stderr
	if logFile != "" {
		w = io.MultiWriter(os.Stderr, &lumberjack.Logger{
			Filename:   logFile,
			MaxSize:    10, // megabytes
			MaxBackups: 3,
			MaxAge:     28, // days
		})
	}
	return log.New(w, "[mkvtag] ", log.LstdFlags)
}

// watchDirArg resolves the optional positional directory argument,
// defaulting to the current directory like the original tool.
func watchDirArg(args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	dir, err := os.Getwd()
	if err != nil {
		return "."
	}
	return dir
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
