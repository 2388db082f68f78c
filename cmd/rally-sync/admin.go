package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/marcus/rally/internal/api"
	"github.com/marcus/rally/internal/serverdb"
)

func runAdmin(args []string) {
	if len(args) == 0 {
		printAdminUsage()
		os.Exit(1)
	}

	var err error
	switch args[0] {
	case "create-user":
		err = runAdminCreateUser(args[1:])
	case "create-key":
		err = runAdminCreateKey(args[1:])
	case "list-users":
		err = runAdminListUsers(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown admin command: %s\n", args[0])
		printAdminUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func printAdminUsage() {
	fmt.Fprintln(os.Stderr, `Usage: rally-sync admin <command> [flags]

Commands:
  create-user  Register a scorer account
  create-key   Create an API key for a user
  list-users   List registered users`)
}

func openDB(dbPath string) (*serverdb.ServerDB, error) {
	if dbPath == "" {
		dbPath = api.LoadConfig().ServerDBPath
	}
	store, err := serverdb.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return store, nil
}

const dbFlagUsage = "path to server.db (default: from SYNC_SERVER_DB_PATH or ./data/server.db)"

func runAdminCreateUser(args []string) error {
	fs := flag.NewFlagSet("admin create-user", flag.ExitOnError)
	email := fs.String("email", "", "user email address")
	dbPath := fs.String("db", "", dbFlagUsage)
	fs.Parse(args)

	if *email == "" {
		fs.Usage()
		return fmt.Errorf("--email is required")
	}

	store, err := openDB(*dbPath)
	if err != nil {
		return err
	}
	defer store.Close()

	u, err := store.CreateUser(context.Background(), *email)
	if err != nil {
		return err
	}
	fmt.Printf("created user %s (%s)\n", u.Email, u.ID)
	return nil
}

func runAdminCreateKey(args []string) error {
	fs := flag.NewFlagSet("admin create-key", flag.ExitOnError)
	email := fs.String("email", "", "user email address")
	name := fs.String("name", "", "key name (e.g. court-1 tablet)")
	expires := fs.Duration("expires", 0, "key lifetime (e.g. 720h); 0 never expires")
	dbPath := fs.String("db", "", dbFlagUsage)
	fs.Parse(args)

	if *email == "" {
		fs.Usage()
		return fmt.Errorf("--email is required")
	}

	store, err := openDB(*dbPath)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := context.Background()
	user, err := store.GetUserByEmail(ctx, *email)
	if err != nil {
		return err
	}
	if user == nil {
		return fmt.Errorf("user not found: %s", *email)
	}

	var expiresAt *time.Time
	if *expires > 0 {
		t := time.Now().Add(*expires).UTC()
		expiresAt = &t
	}

	plaintext, ak, err := store.GenerateAPIKey(ctx, user.ID, *name, expiresAt)
	if err != nil {
		return err
	}

	fmt.Printf("created API key for %s\n", user.Email)
	fmt.Printf("  name:    %s\n", ak.Name)
	fmt.Printf("  user id: %s\n", user.ID)
	fmt.Printf("  key:     %s\n", plaintext)
	fmt.Println("\nSave this key now -- it will not be shown again.")
	return nil
}

func runAdminListUsers(args []string) error {
	fs := flag.NewFlagSet("admin list-users", flag.ExitOnError)
	dbPath := fs.String("db", "", dbFlagUsage)
	fs.Parse(args)

	store, err := openDB(*dbPath)
	if err != nil {
		return err
	}
	defer store.Close()

	users, err := store.ListUsers(context.Background())
	if err != nil {
		return err
	}
	for _, u := range users {
		fmt.Printf("%s  %s  %s\n", u.ID, u.Email, u.CreatedAt.Format(time.RFC3339))
	}
	return nil
}
