package cli

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"panelfleet/internal/config"
	"panelfleet/internal/domain"
	ilog "panelfleet/internal/log"
	"panelfleet/internal/panel"
	"panelfleet/internal/registry"
	"panelfleet/internal/store/sqlite"
)

func runUser(ctx context.Context, args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: panelfleet user add|enable|disable|provision|deprovision|configs|totals")
		return 2
	}
	switch args[0] {
	case "add":
		return runUserAdd(ctx, args[1:])
	case "enable":
		return runUserSetActive(ctx, args[1:], true)
	case "disable":
		return runUserSetActive(ctx, args[1:], false)
	case "provision":
		return runUserProvision(ctx, args[1:])
	case "deprovision":
		return runUserDeprovision(ctx, args[1:])
	case "configs":
		return runUserConfigs(ctx, args[1:])
	case "totals":
		return runUserTotals(ctx, args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown user command %q\n", args[0])
		return 2
	}
}

// userFleet builds the store-backed registry shared by the one-shot user
// commands. The caller owns both and must close them.
func userFleet(cfg config.Config) (*sqlite.Store, *registry.Registry, error) {
	store, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		return nil, nil, err
	}
	logger := ilog.New(cfg.LogLevel)
	reg := registry.New(store, logger, registry.Options{
		SyncPeriod:  cfg.SyncPeriod,
		FanoutLimit: cfg.FanoutLimit,
		Panel: panel.Options{
			LoginTTL:    cfg.LoginTTL,
			InsecureTLS: cfg.InsecureTLS,
		},
	})
	return store, reg, nil
}

func parseUserFlag(raw string) (uuid.UUID, bool) {
	id, err := uuid.Parse(raw)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid --user %q: %v\n", raw, err)
		return uuid.UUID{}, false
	}
	return id, true
}

func runUserAdd(ctx context.Context, args []string) int {
	var rawID, username string
	var tgID int64
	var inactive bool
	cfg, err := config.ParseFlagsWith("user add", args, func(fs *flag.FlagSet) {
		fs.StringVar(&rawID, "user", "", "User UUID (generated when omitted)")
		fs.StringVar(&username, "username", "", "Display name")
		fs.Int64Var(&tgID, "tg-id", 0, "Telegram user id")
		fs.BoolVar(&inactive, "inactive", false, "Create without access")
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		return 2
	}
	id := uuid.New()
	if rawID != "" {
		var ok bool
		if id, ok = parseUserFlag(rawID); !ok {
			return 2
		}
	}

	store, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "db error:", err)
		return 1
	}
	defer func() { _ = store.Close() }()

	u := domain.User{ID: id, Username: username, TgUserID: tgID, Active: !inactive}
	if err := store.UpsertUser(ctx, u); err != nil {
		fmt.Fprintln(os.Stderr, "add user:", err)
		return 1
	}
	fmt.Printf("user %s (%s) saved, active=%v\n", u.DisplayName(), u.ID, u.Active)
	return 0
}

func runUserSetActive(ctx context.Context, args []string, active bool) int {
	var rawID string
	name := "user disable"
	if active {
		name = "user enable"
	}
	cfg, err := config.ParseFlagsWith(name, args, func(fs *flag.FlagSet) {
		fs.StringVar(&rawID, "user", "", "User UUID")
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		return 2
	}
	id, ok := parseUserFlag(rawID)
	if !ok {
		return 2
	}

	store, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "db error:", err)
		return 1
	}
	defer func() { _ = store.Close() }()

	if err := store.SetUserActive(ctx, id, active); err != nil {
		fmt.Fprintln(os.Stderr, name+":", err)
		return 1
	}
	fmt.Printf("user %s active=%v; access applies on the next worker pass\n", id, active)
	return 0
}

func runUserProvision(ctx context.Context, args []string) int {
	var rawID string
	cfg, err := config.ParseFlagsWith("user provision", args, func(fs *flag.FlagSet) {
		fs.StringVar(&rawID, "user", "", "User UUID")
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		return 2
	}
	id, ok := parseUserFlag(rawID)
	if !ok {
		return 2
	}

	store, reg, err := userFleet(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "db error:", err)
		return 1
	}
	defer func() { _ = store.Close() }()
	defer reg.Close()

	user, err := store.GetUser(ctx, id)
	if err != nil {
		fmt.Fprintln(os.Stderr, "load user:", err)
		return 1
	}
	if err := reg.ProvisionUser(ctx, user); err != nil {
		fmt.Fprintln(os.Stderr, "provision:", err)
		return 1
	}
	fmt.Printf("user %s provisioned across %d server(s)\n", user.DisplayName(), len(reg.ServerCodes()))
	return 0
}

func runUserDeprovision(ctx context.Context, args []string) int {
	var rawID string
	cfg, err := config.ParseFlagsWith("user deprovision", args, func(fs *flag.FlagSet) {
		fs.StringVar(&rawID, "user", "", "User UUID")
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		return 2
	}
	id, ok := parseUserFlag(rawID)
	if !ok {
		return 2
	}

	store, reg, err := userFleet(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "db error:", err)
		return 1
	}
	defer func() { _ = store.Close() }()
	defer reg.Close()

	if err := reg.DeprovisionUser(ctx, id); err != nil {
		fmt.Fprintln(os.Stderr, "deprovision:", err)
		return 1
	}
	fmt.Printf("user %s deprovisioned\n", id)
	return 0
}

func runUserConfigs(ctx context.Context, args []string) int {
	var rawID string
	cfg, err := config.ParseFlagsWith("user configs", args, func(fs *flag.FlagSet) {
		fs.StringVar(&rawID, "user", "", "User UUID")
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		return 2
	}
	id, ok := parseUserFlag(rawID)
	if !ok {
		return 2
	}

	store, reg, err := userFleet(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "db error:", err)
		return 1
	}
	defer func() { _ = store.Close() }()
	defer reg.Close()

	links, err := reg.CollectConfigs(ctx, id)
	if err != nil {
		fmt.Fprintln(os.Stderr, "collect configs:", err)
		return 1
	}
	if len(links) == 0 {
		fmt.Println("no connection links available")
		return 0
	}
	for _, link := range links {
		fmt.Println(link)
	}
	return 0
}

func runUserTotals(ctx context.Context, args []string) int {
	cfg, err := config.ParseFlags("user totals", args)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		return 2
	}

	store, reg, err := userFleet(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "db error:", err)
		return 1
	}
	defer func() { _ = store.Close() }()
	defer reg.Close()

	totals, err := reg.CollectUserTotals(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, "collect totals:", err)
		return 1
	}

	ids := make([]uuid.UUID, 0, len(totals))
	for id := range totals {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return totals[ids[i]] > totals[ids[j]] })

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "USER\tNAME\tTRAFFIC")
	for _, id := range ids {
		name := id.String()
		if u, err := store.GetUser(ctx, id); err == nil {
			name = u.DisplayName()
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", id, name, humanize.Bytes(uint64(totals[id])))
	}
	_ = w.Flush()
	return 0
}
