// Command grove is a small CLI over the store: insert items and subtrees,
// read them back, list a subtree, and inspect the root hash. It has no
// proof commands.
package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"

	mh "github.com/multiformats/go-multihash"
	_ "github.com/multiformats/go-multihash/register/blake3"

	grovedb "github.com/dashpay/grovedb-sub000"
	"github.com/dashpay/grovedb-sub000/element"
	"github.com/dashpay/grovedb-sub000/query"
	"github.com/dashpay/grovedb-sub000/storage"
	"github.com/dashpay/grovedb-sub000/storage/badgerstore"
	"github.com/dashpay/grovedb-sub000/storage/memorystore"
	"github.com/dashpay/grovedb-sub000/storage/sqlitestore"
)

func main() {
	storageType := flag.String("storage", "badger", "Storage type: memory, badger or sqlite")
	dataDir := flag.String("data-dir", "./data", "Data directory for BadgerDB")
	dbPath := flag.String("db-path", "./grove.db", "Database file for SQLite")
	logLevel := flag.String("log-level", "info", "Log level: debug, info, warn, error")
	flag.Parse()

	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	store, err := openStore(*storageType, *dataDir, *dbPath, logger)
	if err != nil {
		logger.Error("failed to open storage", "error", err)
		os.Exit(1)
	}
	db := grovedb.New(store)
	defer db.Close()

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}

	if err := run(db, args); err != nil {
		logger.Error("command failed", "command", args[0], "error", err)
		os.Exit(1)
	}
}

func openStore(storageType, dataDir, dbPath string, logger *slog.Logger) (storage.Store, error) {
	switch storageType {
	case "memory":
		return memorystore.New(), nil
	case "badger":
		return badgerstore.New(&badgerstore.Config{DataDir: dataDir, Logger: logger})
	case "sqlite":
		return sqlitestore.New(&sqlitestore.Config{DBPath: dbPath})
	default:
		return nil, fmt.Errorf("unknown storage type %q", storageType)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: grove [flags] <command> [args]

commands:
  root                          print the top-level root hash
  insert-tree <path> <key>      insert an empty subtree
  insert <path> <key> <value>   insert an item
  get <path> <key>              read an element, following references
  list <path>                   list a subtree's entries in key order

paths are slash-separated key segments; the empty string is the root.`)
}

func run(db *grovedb.DB, args []string) error {
	switch args[0] {
	case "root":
		rootHash, err := db.RootHash()
		if err != nil {
			return err
		}
		// render the way index hashes are keyed elsewhere: as a BLAKE3
		// multihash
		encoded, err := mh.Encode(rootHash[:], mh.BLAKE3)
		if err != nil {
			return err
		}
		fmt.Println(hex.EncodeToString(encoded))
		return nil

	case "insert-tree":
		if len(args) != 3 {
			return fmt.Errorf("insert-tree needs <path> <key>")
		}
		return db.Insert(parsePath(args[1]), []byte(args[2]), element.NewTree(), nil)

	case "insert":
		if len(args) != 4 {
			return fmt.Errorf("insert needs <path> <key> <value>")
		}
		return db.Insert(parsePath(args[1]), []byte(args[2]), element.NewItem([]byte(args[3])), nil)

	case "get":
		if len(args) != 3 {
			return fmt.Errorf("get needs <path> <key>")
		}
		el, err := db.Get(parsePath(args[1]), []byte(args[2]))
		if err != nil {
			return err
		}
		printElement(args[2], el)
		return nil

	case "list":
		if len(args) != 2 {
			return fmt.Errorf("list needs <path>")
		}
		q := query.NewQuery()
		q.InsertAll()
		results, err := db.Query(query.NewPathQuery(parsePath(args[1]), q))
		if err != nil {
			return err
		}
		for _, result := range results {
			printElement(string(result.Key), result.Element)
		}
		return nil

	default:
		usage()
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func parsePath(raw string) [][]byte {
	if raw == "" {
		return nil
	}
	segments := strings.Split(raw, "/")
	path := make([][]byte, 0, len(segments))
	for _, segment := range segments {
		path = append(path, []byte(segment))
	}
	return path
}

func printElement(key string, el *element.Element) {
	switch el.Kind {
	case element.KindItem:
		fmt.Printf("%s = %q\n", key, el.Value)
	case element.KindSumItem:
		fmt.Printf("%s = sum(%d)\n", key, el.Sum)
	default:
		fmt.Printf("%s = <%s>\n", key, el.Kind)
	}
}
