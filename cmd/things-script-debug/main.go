// Command things-script-debug prints the AppleScript/JXA source an
// operation would run, without executing it — the same "build and
// inspect, don't run" shape as the teacher's cmd/debug, adapted from
// dumping Things Cloud history items to dumping generated automation
// source.
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/thingsmcp/bridge/internal/script"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: things-script-debug <add_todo|update_todo|move|schedule> [flags]")
		os.Exit(1)
	}
	op := os.Args[1]
	fs := flag.NewFlagSet(op, flag.ExitOnError)
	id := fs.String("id", "", "target entity id (update_todo, move, schedule)")
	title := fs.String("title", "", "todo title (add_todo)")
	notes := fs.String("notes", "", "todo notes (add_todo, update_todo)")
	tags := fs.String("tags", "", "comma-separated tags (add_todo, update_todo)")
	when := fs.String("when", "", "when value (add_todo, update_todo, schedule)")
	dest := fs.String("destination", "", "move destination (move)")
	fs.Parse(os.Args[2:])

	var src string
	switch op {
	case "add_todo":
		src = addTodoScript(*title, *notes, splitTags(*tags))
	case "update_todo":
		src = updateTodoScript(*id, *notes, splitTags(*tags))
	case "move":
		src = moveScript(*id, *dest)
	case "schedule":
		frag, err := script.FormatDate(*when, time.Now(), "d")
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		body := fmt.Sprintf("set targetTodo to (to do id %s)\n%sset activation date of targetTodo to d",
			script.FormatString(*id), frag)
		src = script.BuildWrite(body, "id of targetTodo")
	default:
		fmt.Fprintf(os.Stderr, "unknown operation %q\n", op)
		os.Exit(1)
	}

	fmt.Println(src)
}

func addTodoScript(title, notes string, tags []string) string {
	body := fmt.Sprintf("set newTodo to make new to do with properties {name:%s, notes:%s}",
		script.FormatString(title), script.FormatString(notes))
	if len(tags) > 0 {
		body += fmt.Sprintf("\nset tag names of newTodo to %s", script.FormatString(script.FormatTags(tags)))
	}
	return script.BuildWrite(body, "id of newTodo")
}

func updateTodoScript(id, notes string, tags []string) string {
	body := fmt.Sprintf("set targetTodo to (to do id %s)", script.FormatString(id))
	if notes != "" {
		body += fmt.Sprintf("\nset notes of targetTodo to %s", script.FormatString(notes))
	}
	if len(tags) > 0 {
		body += fmt.Sprintf("\nset tag names of targetTodo to %s", script.FormatString(script.FormatTags(tags)))
	}
	return script.BuildWrite(body, "id of targetTodo")
}

func moveScript(id, destination string) string {
	body := fmt.Sprintf("set targetTodo to (to do id %s)\nmove targetTodo to list %s",
		script.FormatString(id), script.FormatString(destination))
	return script.BuildWrite(body, "id of targetTodo")
}

func splitTags(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}
