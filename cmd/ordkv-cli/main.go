// ordkv-cli is an interactive shell over one ordkv tree file with
// fixed-width string keys and values. It is a thin wrapper: every command
// translates directly into one Open/Set/Get call on the engine.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/chzyer/readline"
	"go.uber.org/zap"

	"github.com/ordkv/ordkv/core/bptree"
	"github.com/ordkv/ordkv/core/codec"
	"github.com/ordkv/ordkv/pkg/logger"
)

func main() {
	dbPath := flag.String("db", "ordkv.db", "path to the tree file")
	order := flag.Int("order", 32, "tree order when creating a new file")
	keySize := flag.Int("key-size", 64, "fixed key width in bytes (must match an existing file)")
	valueSize := flag.Int("value-size", 256, "fixed value width in bytes (must match an existing file)")
	logLevel := flag.String("log-level", "warn", "log level: debug, info, warn, error")
	flag.Parse()

	zlog, err := logger.New(logger.Config{Level: *logLevel, Format: "console", OutputFile: "stderr"})
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer zlog.Sync()

	tree, err := bptree.Open(*dbPath,
		codec.FixedString(*keySize), codec.Ordered[string],
		codec.FixedString(*valueSize),
		bptree.Options{Order: *order, Logger: zlog},
	)
	if err != nil {
		zlog.Fatal("failed to open tree", zap.Error(err))
	}
	defer tree.Close()

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "ordkv> ",
		HistoryFile:     historyPath(),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		zlog.Fatal("failed to start readline", zap.Error(err))
	}
	defer rl.Close()

	fmt.Printf("ordkv shell on %s (order %d). Type 'help' for commands.\n", *dbPath, tree.Order())

	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			continue
		}
		if err == io.EOF {
			return
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if done := dispatch(tree, line); done {
			return
		}
	}
}

func dispatch(tree *bptree.Tree[string, string], line string) bool {
	parts := strings.SplitN(line, " ", 3)
	switch strings.ToLower(parts[0]) {
	case "set":
		if len(parts) != 3 {
			fmt.Println("usage: set <key> <value>")
			return false
		}
		if err := tree.Set(parts[1], parts[2]); err != nil {
			fmt.Printf("error: %v\n", err)
			return false
		}
		fmt.Println("OK")
	case "get":
		if len(parts) != 2 {
			fmt.Println("usage: get <key>")
			return false
		}
		value, found, err := tree.Get(parts[1])
		if err != nil {
			fmt.Printf("error: %v\n", err)
			return false
		}
		if !found {
			fmt.Println("(absent)")
			return false
		}
		fmt.Println(value)
	case "count":
		n, err := tree.Count()
		if err != nil {
			fmt.Printf("error: %v\n", err)
			return false
		}
		fmt.Println(n)
	case "depth":
		d, err := tree.Depth()
		if err != nil {
			fmt.Printf("error: %v\n", err)
			return false
		}
		fmt.Println(d)
	case "help":
		fmt.Println("commands: set <key> <value> | get <key> | count | depth | exit")
	case "exit", "quit":
		return true
	default:
		fmt.Printf("unknown command %q, try 'help'\n", parts[0])
	}
	return false
}

func historyPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return home + "/.ordkv_history"
}
