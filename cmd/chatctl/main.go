package main

import (
	"chat-relay/auth"
	"chat-relay/contract"
	"chat-relay/domain"
	"chat-relay/infrastructure/storage"
	"chat-relay/internal"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/Netflix/go-env"
	"github.com/dgraph-io/badger/v4"
	"github.com/joho/godotenv"
	"github.com/mama165/sdk-go/logs"
)

const usage = `chatctl operates on a chat-relay Badger directory.

Usage:
  chatctl seed    -users alice=Alice,bob=Bob -conversation c1=alice,bob
  chatctl inspect -user bob [-conversation c1] [-status sent,delivered]
  chatctl view    [-addr :8090]
  chatctl token   -user alice [-ttl 24h]
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	if err := run(os.Args[1], os.Args[2:]); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(command string, args []string) error {
	_ = godotenv.Load()
	var config internal.Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	log := logs.GetLoggerFromString(config.LogLevel)

	switch command {
	case "seed":
		return seed(config, log, args)
	case "inspect":
		return inspect(config, log, args)
	case "view":
		return view(config, log, args)
	case "token":
		return token(config, args)
	default:
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("unknown command %q", command)
	}
}

func seed(config internal.Config, log *slog.Logger, args []string) error {
	flags := flag.NewFlagSet("seed", flag.ExitOnError)
	users := flags.String("users", "", "Comma separated id=name pairs")
	var conversations conversationFlags
	flags.Var(&conversations, "conversation", "id=user1,user2 (repeatable)")
	if err := flags.Parse(args); err != nil {
		return err
	}

	parsedUsers, err := parseUsers(*users)
	if err != nil {
		return err
	}

	db, err := badger.Open(badger.DefaultOptions(config.BadgerFilepath).WithLoggingLevel(badger.WARNING))
	if err != nil {
		return fmt.Errorf("database opening failed: %w", err)
	}
	defer db.Close()
	store, err := storage.NewBadgerStore(db, log)
	if err != nil {
		return err
	}
	defer store.Close()

	return seedDirectory(context.Background(), store, parsedUsers, conversations)
}

func seedDirectory(ctx context.Context, directory contract.Directory, users []domain.User, conversations conversationFlags) error {
	for _, user := range users {
		if err := directory.CreateUser(ctx, user); err != nil {
			return fmt.Errorf("create user %s: %w", user.ID, err)
		}
		fmt.Printf("user %s (%s)\n", user.ID, user.Name)
	}
	for _, c := range conversations {
		if err := directory.CreateConversation(ctx, c.ID, c.Participants); err != nil {
			return fmt.Errorf("create conversation %s: %w", c.ID, err)
		}
		fmt.Printf("conversation %s %v\n", c.ID, c.Participants)
	}
	return nil
}

func inspect(config internal.Config, log *slog.Logger, args []string) error {
	flags := flag.NewFlagSet("inspect", flag.ExitOnError)
	user := flags.String("user", "", "User whose status rows are listed")
	conversation := flags.String("conversation", "", "Optional conversation filter")
	statuses := flags.String("status", "sent,delivered,read", "Comma separated statuses")
	colours := flags.Bool("colours", true, "Colour the status column")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if *user == "" {
		return fmt.Errorf("-user is required")
	}
	parsedStatuses, err := parseStatuses(*statuses)
	if err != nil {
		return err
	}

	db, err := openReadOnly(config.BadgerFilepath)
	if err != nil {
		return err
	}
	defer db.Close()

	reader := storage.NewBadgerReader(db, log)
	ctx := context.Background()
	if *conversation != "" {
		c, err := reader.FindConversation(ctx, domain.ConversationID(*conversation))
		if err != nil {
			return err
		}
		renderConversation(os.Stdout, c)
	}

	views, err := reader.FindStatusRows(ctx, contract.StatusQuery{
		UserID:         domain.UserID(*user),
		Statuses:       parsedStatuses,
		ConversationID: domain.ConversationID(*conversation),
	})
	if err != nil {
		return err
	}
	renderStatusRows(os.Stdout, views, *colours)
	return nil
}

func view(config internal.Config, log *slog.Logger, args []string) error {
	flags := flag.NewFlagSet("view", flag.ExitOnError)
	addr := flags.String("addr", ":8090", "Listen address")
	if err := flags.Parse(args); err != nil {
		return err
	}

	db, err := openReadOnly(config.BadgerFilepath)
	if err != nil {
		return err
	}
	defer db.Close()

	stats := func() map[string]any {
		return map[string]any{
			"Status": "Viewer Mode (Read-Only)",
			"Time":   time.Now().Format(time.RFC822),
		}
	}
	mux := http.NewServeMux()
	mux.Handle("/inspect", internal.InspectHandler(storage.NewBadgerReader(db, log), stats))

	fmt.Printf("Viewer started at http://localhost%s/inspect\n", *addr)
	server := &http.Server{Addr: *addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	return server.ListenAndServe()
}

func token(config internal.Config, args []string) error {
	flags := flag.NewFlagSet("token", flag.ExitOnError)
	user := flags.String("user", "", "Token subject")
	ttl := flags.Duration("ttl", 24*time.Hour, "Token lifetime")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if *user == "" {
		return fmt.Errorf("-user is required")
	}
	if config.JwtSecret == "" {
		return fmt.Errorf("JWT_SECRET is empty")
	}
	signed, err := auth.NewTokens(config.JwtSecret).Generate(*user, []string{"user"}, *ttl)
	if err != nil {
		return err
	}
	fmt.Println(signed)
	return nil
}

// openReadOnly lets the viewer run next to a live relay holding the lock.
func openReadOnly(path string) (*badger.DB, error) {
	opts := badger.DefaultOptions(path).
		WithReadOnly(true).
		WithBypassLockGuard(true).
		WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("database opening failed: %w", err)
	}
	return db, nil
}

type conversationSeed struct {
	ID           domain.ConversationID
	Participants []domain.UserID
}

type conversationFlags []conversationSeed

func (c *conversationFlags) String() string {
	parts := make([]string, 0, len(*c))
	for _, s := range *c {
		parts = append(parts, string(s.ID))
	}
	return strings.Join(parts, ";")
}

func (c *conversationFlags) Set(value string) error {
	id, members, ok := strings.Cut(value, "=")
	if !ok || strings.TrimSpace(id) == "" {
		return fmt.Errorf("conversation must look like id=user1,user2, got %q", value)
	}
	var participants []domain.UserID
	for _, m := range strings.Split(members, ",") {
		if m = strings.TrimSpace(m); m != "" {
			participants = append(participants, domain.UserID(m))
		}
	}
	if len(participants) == 0 {
		return fmt.Errorf("conversation %s has no participant", id)
	}
	*c = append(*c, conversationSeed{ID: domain.ConversationID(strings.TrimSpace(id)), Participants: participants})
	return nil
}

func parseUsers(value string) ([]domain.User, error) {
	var users []domain.User
	for _, pair := range strings.Split(value, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		id, name, ok := strings.Cut(pair, "=")
		if !ok {
			name = id
		}
		if strings.TrimSpace(id) == "" {
			return nil, fmt.Errorf("user without id in %q", value)
		}
		users = append(users, domain.User{ID: domain.UserID(strings.TrimSpace(id)), Name: strings.TrimSpace(name)})
	}
	return users, nil
}

func parseStatuses(value string) ([]domain.Status, error) {
	var statuses []domain.Status
	for _, s := range strings.Split(value, ",") {
		if s = strings.TrimSpace(s); s == "" {
			continue
		}
		status, err := domain.ParseStatus(s)
		if err != nil {
			return nil, err
		}
		statuses = append(statuses, status)
	}
	return statuses, nil
}
