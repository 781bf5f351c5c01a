package main

import (
	"campuschat/backend/internal/chat"
	"campuschat/backend/internal/config"
	"campuschat/backend/internal/profile"
	"campuschat/backend/internal/storage"
	"context"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
)

const usage = `Usage: admin <command> [args]

Commands:
  migrate                        create or update the chat tables
  delete-room <room_id>          delete a room and all of its messages
  block <blocker_id> <user_id>   stop pushes from user_id to blocker_id
  unblock <blocker_id> <user_id> lift a block
  blocks <user_id>               list the users blocked by user_id
  unread <user_id>               print the user's unread total`

func main() {
	if len(os.Args) < 2 {
		fmt.Println(usage)
		os.Exit(1)
	}

	cfg, err := config.Read(".", "./config")
	if err != nil {
		logrus.WithError(err).Fatal("read config")
	}
	log := cfg.Log.NewLogger()

	db, err := storage.OpenPostgres(cfg.DB.DSN(), 2, 1, time.Minute)
	if err != nil {
		log.WithError(err).Fatal("failed to connect database")
	}
	store := storage.NewStorageService(db, log)
	svc := chat.NewService(store, profile.NewStaticDirectory(), cfg.Chat, cfg.DB.QueryTimeout, log)

	if err := run(context.Background(), store, svc, os.Args[1:]); err != nil {
		log.WithError(err).Fatal(os.Args[1])
	}
}

func need(args []string, n int, form string) error {
	if len(args) != n {
		return fmt.Errorf("usage: admin %s", form)
	}
	return nil
}

func run(ctx context.Context, store *storage.Service, svc *chat.Service, args []string) error {
	switch args[0] {
	case "migrate":
		if err := store.Migrate(); err != nil {
			return err
		}
		fmt.Println("Migrations complete.")

	case "delete-room":
		if err := need(args, 2, "delete-room <room_id>"); err != nil {
			return err
		}
		if err := svc.ForceDeleteRoom(ctx, args[1]); err != nil {
			return err
		}
		fmt.Printf("Room %s has been deleted.\n", args[1])

	case "block":
		if err := need(args, 3, "block <blocker_id> <user_id>"); err != nil {
			return err
		}
		if err := svc.Block(ctx, args[1], args[2]); err != nil {
			return err
		}
		fmt.Printf("User %s is now blocked by %s.\n", args[2], args[1])

	case "unblock":
		if err := need(args, 3, "unblock <blocker_id> <user_id>"); err != nil {
			return err
		}
		if err := svc.Unblock(ctx, args[1], args[2]); err != nil {
			return err
		}
		fmt.Printf("User %s is no longer blocked by %s.\n", args[2], args[1])

	case "blocks":
		if err := need(args, 2, "blocks <user_id>"); err != nil {
			return err
		}
		rels, err := svc.ListBlocked(ctx, args[1])
		if err != nil {
			return err
		}
		for _, r := range rels {
			fmt.Printf("%s\t%s\n", r.BlockedID, r.CreatedAt.Format(time.RFC3339))
		}

	case "unread":
		if err := need(args, 2, "unread <user_id>"); err != nil {
			return err
		}
		n, err := svc.TotalUnreadCount(ctx, args[1])
		if err != nil {
			return err
		}
		fmt.Println(n)

	default:
		return fmt.Errorf("unknown command %q\n%s", args[0], usage)
	}
	return nil
}
