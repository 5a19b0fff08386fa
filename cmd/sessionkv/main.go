// Copyright 2021 hardcore-os Project Authors
//
// Licensed under the Apache License, Version 2.0 (the "License")
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Command sessionkv runs one operation against a sessionkv store.
//
//	sessionkv [flags] put <key> <value>
//	sessionkv [flags] get <key>
//	sessionkv [flags] delete <key>
//	sessionkv [flags] scan [start [limit]]
//	sessionkv [flags] compact [begin [end]]
//	sessionkv [flags] stats
package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/hardcore-os/sessionkv"
	"github.com/hardcore-os/sessionkv/config"
	"github.com/hardcore-os/sessionkv/log"
	"github.com/pkg/errors"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	engineName := flag.String("engine", "", "storage engine: memory, pebble or bolt (overrides config)")
	dir := flag.String("dir", "", "data directory (overrides config)")
	logLevel := flag.String("log-level", "", "log level (overrides config)")
	cfName := flag.String("cf", "", "column family to operate on")
	flag.Usage = usage
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}
	if *engineName != "" {
		cfg.Store.Engine = *engineName
	}
	if *dir != "" {
		cfg.Store.Dir = *dir
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	if *cfName != "" {
		cfg.Store.ColumnFamilies = true
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}
	log.Init(cfg.LogOptions())

	if flag.NArg() == 0 {
		usage()
		os.Exit(2)
	}

	db, err := sessionkv.Open(cfg.StoreOptions())
	if err != nil {
		log.Root.Fatal().Err(err).Msg("open store")
	}
	err = run(db, os.Stdout, *cfName, flag.Args())
	if cerr := db.Close(); cerr != nil && err == nil {
		err = cerr
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", flag.Arg(0), err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(flag.CommandLine.Output(), `Usage: sessionkv [flags] <command> [args]

Commands:
  put <key> <value>      store a value
  get <key>              print a value
  delete <key>           remove a key
  scan [start [limit]]   print keys in [start, limit)
  compact [begin [end]]  compact a key range
  stats                  print store counters

Flags:
`)
	flag.PrintDefaults()
}

// run executes one command. cf selects a column family, creating it on
// first write.
func run(db *sessionkv.DB, out io.Writer, cf string, args []string) error {
	cmd, args := args[0], args[1:]
	var h *sessionkv.ColumnFamilyHandle
	if cf != "" {
		var err error
		if h, err = db.ColumnFamily(cf); err != nil {
			if !errors.Is(err, sessionkv.ErrColumnFamilyNotFound) || (cmd != "put" && cmd != "delete") {
				return err
			}
			if h, err = db.CreateColumnFamily(cf); err != nil {
				return err
			}
		}
	}

	switch cmd {
	case "put":
		if len(args) != 2 {
			return errors.New("usage: put <key> <value>")
		}
		return db.PutCF(h, []byte(args[0]), []byte(args[1]), nil)
	case "get":
		if len(args) != 1 {
			return errors.New("usage: get <key>")
		}
		v, err := db.GetCF(h, []byte(args[0]), nil)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(out, "%s\n", v)
		return err
	case "delete":
		if len(args) != 1 {
			return errors.New("usage: delete <key>")
		}
		return db.DeleteCF(h, []byte(args[0]), nil)
	case "scan":
		if len(args) > 2 {
			return errors.New("usage: scan [start [limit]]")
		}
		return scan(db, h, out, args)
	case "compact":
		if len(args) > 2 {
			return errors.New("usage: compact [begin [end]]")
		}
		var begin, end []byte
		if len(args) > 0 {
			begin = []byte(args[0])
		}
		if len(args) > 1 {
			end = []byte(args[1])
		}
		return db.CompactRange(begin, end)
	case "stats":
		for _, name := range []string{sessionkv.PropertyStats, sessionkv.PropertyNumContexts, sessionkv.PropertyFSAvailBytes} {
			if v, ok := db.GetProperty(name); ok {
				if _, err := fmt.Fprintf(out, "%s: %s\n", name, v); err != nil {
					return err
				}
			}
		}
		for _, h := range db.ColumnFamilies() {
			if _, err := fmt.Fprintf(out, "column family %d: %s\n", h.ID(), h.Name()); err != nil {
				return err
			}
		}
		return nil
	default:
		return errors.Errorf("unknown command %q", cmd)
	}
}

func scan(db *sessionkv.DB, h *sessionkv.ColumnFamilyHandle, out io.Writer, args []string) error {
	it, err := db.NewIteratorCF(h, nil)
	if err != nil {
		return err
	}
	defer it.Close()

	var limit []byte
	if len(args) > 1 {
		limit = []byte(args[1])
	}
	if len(args) > 0 {
		it.Seek([]byte(args[0]))
	} else {
		it.SeekToFirst()
	}
	for ; it.Valid(); it.Next() {
		if limit != nil && string(it.Key()) >= string(limit) {
			break
		}
		if _, err := fmt.Fprintf(out, "%s\t%s\n", it.Key(), it.Value()); err != nil {
			return err
		}
	}
	return it.Err()
}
