// Command things-query-debug runs one Database Reader query and dumps the
// raw JSON result, the same "run one query, print what came back" shape
// as the teacher's cmd/rawtask, adapted from Things Cloud history items to
// the local SQLite store this bridge reads from directly.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/thingsmcp/bridge/internal/config"
	"github.com/thingsmcp/bridge/internal/dbreader"
	"github.com/thingsmcp/bridge/internal/model"
	"github.com/thingsmcp/bridge/internal/validate"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: things-query-debug <get|status|search|tagged|recent|advanced> [flags]")
		os.Exit(1)
	}
	op := os.Args[1]
	fs := flag.NewFlagSet(op, flag.ExitOnError)
	id := fs.String("id", "", "entity id (get)")
	list := fs.String("list", "", "built-in list: inbox|today|upcoming|anytime|someday|logbook|trash, empty for unrestricted (status)")
	status := fs.Int("status", 0, "ZSTATUS value: 0 incomplete, 1 completed, 2 canceled (status, advanced)")
	query := fs.String("query", "", "LIKE search text (search, advanced)")
	tag := fs.String("tag", "", "tag name (tagged)")
	period := fs.String("period", "7d", "Nd/Nw/Nm lookback window (recent, advanced)")
	limit := fs.Int("limit", 20, "max rows")
	fs.Parse(os.Args[2:])

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "loading config: %v\n", err)
		os.Exit(1)
	}
	db, err := dbreader.Open(cfg.Database.Path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "opening database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	ctx := context.Background()
	var result any

	switch op {
	case "get":
		result, err = db.GetByID(ctx, *id)
	case "status":
		result, err = db.ListByStatus(ctx, model.BuiltinList(*list), *status, *limit)
	case "search":
		result, err = db.Search(ctx, *query, *limit)
	case "tagged":
		result, err = db.TaggedItems(ctx, *tag, *limit)
	case "recent":
		since, perr := parsePeriod(*period)
		if perr != nil {
			fmt.Fprintln(os.Stderr, perr)
			os.Exit(1)
		}
		result, err = db.Recent(ctx, since, *limit)
	case "advanced":
		since, perr := parsePeriod(*period)
		if perr != nil {
			fmt.Fprintln(os.Stderr, perr)
			os.Exit(1)
		}
		result, err = db.SearchAdvanced(ctx, *query, *status, &since, *limit)
	default:
		fmt.Fprintf(os.Stderr, "unknown operation %q\n", op)
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "query failed: %v\n", err)
		os.Exit(1)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		fmt.Fprintf(os.Stderr, "encoding result: %v\n", err)
		os.Exit(1)
	}
}

func parsePeriod(raw string) (time.Time, error) {
	d, err := validate.Period(raw)
	if err != nil {
		return time.Time{}, err
	}
	return time.Now().Add(-d), nil
}
