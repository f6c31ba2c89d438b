package cli

import (
	"context"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"

	"panelfleet/internal/config"
	"panelfleet/internal/store/sqlite"
)

// Server admin commands mutate the store only; the worker's next
// reconciliation pass picks the change up via SyncNow.
func runServers(ctx context.Context, args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: panelfleet servers add|update|remove|list")
		return 2
	}
	switch args[0] {
	case "add":
		return runServersAdd(ctx, args[1:], false)
	case "update":
		return runServersAdd(ctx, args[1:], true)
	case "remove":
		return runServersRemove(ctx, args[1:])
	case "list":
		return runServersList(ctx, args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown servers command %q\n", args[0])
		return 2
	}
}

func runServersAdd(ctx context.Context, args []string, update bool) int {
	var code, apiURL, username, password string
	name := "servers add"
	if update {
		name = "servers update"
	}
	cfg, err := config.ParseFlagsWith(name, args, func(fs *flag.FlagSet) {
		fs.StringVar(&code, "code", "", "Unique server code")
		fs.StringVar(&apiURL, "url", "", "Panel API base URL, e.g. https://1.2.3.4:2053")
		fs.StringVar(&username, "username", "", "Panel API username")
		fs.StringVar(&password, "password", "", "Panel API password")
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		return 2
	}
	if code == "" || apiURL == "" || username == "" || password == "" {
		fmt.Fprintf(os.Stderr, "%s requires --code, --url, --username, --password\n", name)
		return 2
	}

	store, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "db error:", err)
		return 1
	}
	defer func() { _ = store.Close() }()

	if update {
		if err := store.UpdateServer(ctx, code, apiURL, username, password); err != nil {
			fmt.Fprintln(os.Stderr, "update server:", err)
			return 1
		}
		fmt.Printf("server %s updated; sessions rebuild on the next worker pass\n", code)
		return 0
	}

	desc, err := store.AddServer(ctx, code, apiURL, username, password)
	if err != nil {
		fmt.Fprintln(os.Stderr, "add server:", err)
		return 1
	}
	fmt.Printf("server %s registered (%s)\n", desc.Code, desc.ID)
	return 0
}

func runServersRemove(ctx context.Context, args []string) int {
	var code string
	cfg, err := config.ParseFlagsWith("servers remove", args, func(fs *flag.FlagSet) {
		fs.StringVar(&code, "code", "", "Server code to remove")
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		return 2
	}
	if code == "" {
		fmt.Fprintln(os.Stderr, "servers remove requires --code")
		return 2
	}

	store, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "db error:", err)
		return 1
	}
	defer func() { _ = store.Close() }()

	if err := store.RemoveServer(ctx, code); err != nil {
		fmt.Fprintln(os.Stderr, "remove server:", err)
		return 1
	}
	fmt.Printf("server %s removed; sessions close on the next worker pass\n", code)
	return 0
}

func runServersList(ctx context.Context, args []string) int {
	cfg, err := config.ParseFlags("servers list", args)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		return 2
	}

	store, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "db error:", err)
		return 1
	}
	defer func() { _ = store.Close() }()

	servers, err := store.ListServers(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, "list servers:", err)
		return 1
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "CODE\tURL\tUSERNAME\tCREATED")
	for _, s := range servers {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", s.Code, s.BaseURL, s.Username, s.CreatedAt.Format("2006-01-02 15:04"))
	}
	_ = w.Flush()
	return 0
}
