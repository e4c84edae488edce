package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"text/tabwriter"

	"github.com/joho/godotenv"

	"github.com/blockedby/tg-harvester/internal/config"
	"github.com/blockedby/tg-harvester/internal/database"
	"github.com/blockedby/tg-harvester/internal/logger"
	"github.com/blockedby/tg-harvester/internal/models"
	"github.com/blockedby/tg-harvester/internal/repository"
	"github.com/blockedby/tg-harvester/internal/telegram"
)

// Lists the dialogs of a logged in account with the marked ids accepted by
// PUT /api/v1/accounts/{id}/chats, plus forum topics when asked.
func main() {
	phone := flag.String("phone", "", "account phone number")
	withTopics := flag.Bool("topics", false, "list topics of forum chats")
	flag.Parse()

	if *phone == "" {
		fmt.Println("Usage: tg-chats -phone +1234567890 [-topics]")
		os.Exit(1)
	}

	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		fail("load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	acc := models.Account{PhoneNumber: *phone, APIID: cfg.TGApiID, APIHash: cfg.TGApiHash}
	selected := map[int64]bool{}
	if db, err := database.New(ctx, cfg.DatabaseURL); err == nil {
		defer db.Close()
		repo := repository.NewAccountsRepository(db.Pool)
		if existing, err := repo.GetByPhone(ctx, *phone); err == nil && existing != nil {
			acc = *existing
			ids, _ := repo.GetSelectedChats(ctx, acc.ID)
			for _, id := range ids {
				selected[id] = true
			}
		}
	}

	artifacts, err := telegram.NewArtifactStore(cfg.SessionsDir)
	if err != nil {
		fail("%v", err)
	}
	opts := telegram.DefaultManagerOptions()
	manager := telegram.NewManager(artifacts, nil, opts, logger.Nop())
	defer manager.Stop()

	sess, err := manager.Open(ctx, acc)
	if err != nil {
		fail("open session: %v (run tg-auth first)", err)
	}
	defer sess.Close()

	dialogs, err := sess.Dialogs(ctx)
	if err != nil {
		fail("list dialogs: %v", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tKIND\tSELECTED\tTITLE\tUSERNAME")
	for _, d := range dialogs {
		mark := ""
		if selected[d.ID] {
			mark = "*"
		}
		username := ""
		if d.Username != "" {
			username = "@" + d.Username
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", d.ID, d.Kind, mark, d.Title, username)
	}
	_ = w.Flush()

	if !*withTopics {
		return
	}
	for _, d := range dialogs {
		if !d.IsForum {
			continue
		}
		chat, err := sess.ResolveChat(ctx, d.ID)
		if err != nil {
			fmt.Printf("\n%s: %v\n", d.Title, err)
			continue
		}
		topics, err := sess.ListTopics(ctx, chat, cfg.TopicsLimit)
		if err != nil {
			fmt.Printf("\n%s: list topics: %v\n", d.Title, err)
			continue
		}
		fmt.Printf("\n=== %s (%d topics) ===\n", d.Title, len(topics))
		for _, t := range topics {
			flags := ""
			if t.Pinned {
				flags += " [pinned]"
			}
			if t.Closed {
				flags += " [closed]"
			}
			fmt.Printf("  %6d  %s%s\n", t.ID, t.Title, flags)
		}
	}
}

func fail(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
	os.Exit(1)
}
