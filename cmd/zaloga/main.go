package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/matejg/zaloga/internal/client"
	"github.com/matejg/zaloga/internal/store"
)

// Connection settings persisted in the state database.
const (
	cfgServerKey    = "cfg/server"
	cfgTokenKey     = "cfg/token"
	cfgInventoryKey = "cfg/inventory"
)

func usage() {
	fmt.Fprint(os.Stdout, `Usage: zaloga <command> [args]

Commands:
  login <server> <username> <password>   authenticate and save the session
  inventory [name]                       show or set the active inventory
  scan <barcode> [delta]                 queue a scan event (default delta: 1)
  flush                                  push queued operations to the server
  pending                                show the number of queued operations
  sync                                   run one full sync cycle
  items                                  list locally cached items

State is kept in $ZALOGA_STATE (default: ~/.zaloga.sqlite3).
`)
}

func statePath() string {
	if p := os.Getenv("ZALOGA_STATE"); p != "" {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".zaloga.sqlite3"
	}
	return filepath.Join(home, ".zaloga.sqlite3")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	kv, err := client.OpenSQLiteKV(statePath())
	if err != nil {
		fatal("opening state: %v", err)
	}
	defer kv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	switch os.Args[1] {
	case "login":
		cmdLogin(ctx, kv, os.Args[2:])
	case "inventory":
		cmdInventory(kv, os.Args[2:])
	case "scan":
		cmdScan(kv, os.Args[2:])
	case "flush":
		cmdFlush(ctx, kv)
	case "pending":
		cmdPending(kv)
	case "sync":
		cmdSync(ctx, kv)
	case "items":
		cmdItems(kv)
	case "help", "-h", "-help", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		usage()
		os.Exit(1)
	}
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
	os.Exit(1)
}

// getCfg reads a setting, returning "" when unset.
func getCfg(kv client.KV, key string) string {
	value, ok, err := kv.Get(key)
	if err != nil || !ok {
		return ""
	}
	return string(value)
}

// session builds an API client from the saved login. Commands that talk to
// the server call this; queue-only commands do not need it.
func session(kv client.KV) *client.API {
	server := getCfg(kv, cfgServerKey)
	token := getCfg(kv, cfgTokenKey)
	if server == "" || token == "" {
		fatal("not logged in, run: zaloga login <server> <username> <password>")
	}
	return client.NewAPI(server, token, getCfg(kv, cfgInventoryKey))
}

func cmdLogin(ctx context.Context, kv client.KV, args []string) {
	if len(args) != 3 {
		fatal("usage: zaloga login <server> <username> <password>")
	}
	server, username, password := args[0], args[1], args[2]

	api := client.NewAPI(server, "", getCfg(kv, cfgInventoryKey))
	if err := api.Login(ctx, username, password); err != nil {
		fatal("login failed: %v", err)
	}

	if err := kv.Put(cfgServerKey, []byte(server)); err != nil {
		fatal("saving session: %v", err)
	}
	if err := kv.Put(cfgTokenKey, []byte(api.Token)); err != nil {
		fatal("saving session: %v", err)
	}
	fmt.Printf("Logged in to %s as %s.\n", server, username)
}

func cmdInventory(kv client.KV, args []string) {
	if len(args) == 0 {
		name := getCfg(kv, cfgInventoryKey)
		if name == "" {
			fmt.Println("Using the server's active inventory.")
			return
		}
		fmt.Printf("Inventory: %s\n", name)
		return
	}
	if err := kv.Put(cfgInventoryKey, []byte(args[0])); err != nil {
		fatal("saving inventory: %v", err)
	}
	fmt.Printf("Inventory set to %s.\n", args[0])
}

// cmdScan queues a scan locally. It never touches the network itself; the
// queue's own flush timer (or an explicit flush) delivers it.
func cmdScan(kv client.KV, args []string) {
	if len(args) < 1 || len(args) > 2 {
		fatal("usage: zaloga scan <barcode> [delta]")
	}
	delta := 1
	if len(args) == 2 {
		var err error
		delta, err = strconv.Atoi(args[1])
		if err != nil {
			fatal("invalid delta %q", args[1])
		}
	}

	queue := client.NewQueue(kv, session(kv))
	defer queue.Stop()

	now := time.Now().UnixMilli()
	in := store.ScanInput{
		EventID:   uuid.NewString(),
		Barcode:   args[0],
		Delta:     delta,
		ScannedAt: &now,
	}
	if err := queue.Enqueue(client.OpScan, in); err != nil {
		fatal("queueing scan: %v", err)
	}

	// Give the near-immediate flush a moment before exiting; the scan
	// stays durably queued either way.
	if err := queue.Flush(context.Background()); err != nil {
		fatal("flushing: %v", err)
	}
	reportPending(queue, "Scan queued")
}

func cmdFlush(ctx context.Context, kv client.KV) {
	queue := client.NewQueue(kv, session(kv))
	defer queue.Stop()
	if err := queue.Flush(ctx); err != nil {
		fatal("flushing: %v", err)
	}
	reportPending(queue, "Flushed")
}

func cmdPending(kv client.KV) {
	queue := client.NewQueue(kv, nil)
	n, err := queue.Pending()
	if err != nil {
		fatal("reading queue: %v", err)
	}
	fmt.Printf("%d pending operation(s).\n", n)
}

func cmdSync(ctx context.Context, kv client.KV) {
	api := session(kv)
	queue := client.NewQueue(kv, api)
	defer queue.Stop()

	syncer := client.NewSyncer(kv, api, queue)
	if err := syncer.Cycle(ctx); err != nil {
		fatal("sync: %v", err)
	}
	items, err := syncer.CachedItems()
	if err != nil {
		fatal("reading cache: %v", err)
	}
	fmt.Printf("Synced, %d item(s) cached.\n", len(items))
}

func cmdItems(kv client.KV) {
	syncer := client.NewSyncer(kv, nil, client.NewQueue(kv, nil))
	items, err := syncer.CachedItems()
	if err != nil {
		fatal("reading cache: %v", err)
	}
	if len(items) == 0 {
		fmt.Println("No cached items, run: zaloga sync")
		return
	}
	for _, item := range items {
		line := fmt.Sprintf("%-36s  %4d  %s", item.ID, item.Quantity, item.Name)
		if item.Barcode != "" {
			line += "  [" + item.Barcode + "]"
		}
		fmt.Println(line)
	}
}

func reportPending(queue *client.Queue, prefix string) {
	n, err := queue.Pending()
	if err != nil {
		fatal("reading queue: %v", err)
	}
	if n == 0 {
		fmt.Printf("%s and delivered.\n", prefix)
		return
	}
	fmt.Printf("%s, %d operation(s) still pending.\n", prefix, n)
}
