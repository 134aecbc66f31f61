// Command campactl runs maintenance tasks against the lot database:
// schema migrations, schema version and account creation.
package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"golang.org/x/term"

	"github.com/JonMunkholm/campa/internal/auth"
	"github.com/JonMunkholm/campa/internal/config"
	"github.com/JonMunkholm/campa/internal/core"
	"github.com/JonMunkholm/campa/internal/logging"
	"github.com/JonMunkholm/campa/internal/store"
)

// readPassword is replaced in tests to avoid touching the terminal.
var readPassword = term.ReadPassword

const usage = `usage: campactl <command> [flags]

commands:
  migrate       apply pending schema migrations
  version       print the applied schema version
  create-user   create an account (-email, -name, -admin)
`

func main() {
	_ = godotenv.Load()

	if err := run(context.Background(), os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "campactl:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	if len(args) == 0 {
		fmt.Fprint(out, usage)
		return errors.New("missing command")
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	switch args[0] {
	case "migrate":
		return migrate(ctx, cfg, out)
	case "version":
		return version(ctx, cfg, out)
	case "create-user":
		return createUser(ctx, cfg, args[1:], out)
	default:
		fmt.Fprint(out, usage)
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func migrate(ctx context.Context, cfg *config.Config, out io.Writer) error {
	db, err := store.OpenDB(cfg.Database.Driver, cfg.Database.URL)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := store.Migrate(ctx, cfg.Database.Driver, db); err != nil {
		return err
	}
	v, err := store.SchemaVersion(ctx, cfg.Database.Driver, db)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "schema at version %d\n", v)
	return nil
}

func version(ctx context.Context, cfg *config.Config, out io.Writer) error {
	db, err := store.OpenDB(cfg.Database.Driver, cfg.Database.URL)
	if err != nil {
		return err
	}
	defer db.Close()

	v, err := store.SchemaVersion(ctx, cfg.Database.Driver, db)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, v)
	return nil
}

func createUser(ctx context.Context, cfg *config.Config, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("create-user", flag.ContinueOnError)
	fs.SetOutput(out)
	email := fs.String("email", "", "account email (required)")
	name := fs.String("name", "", "full name")
	admin := fs.Bool("admin", false, "grant the admin role")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*email) == "" {
		fs.Usage()
		return errors.New("-email is required")
	}

	password, err := promptPassword(out)
	if err != nil {
		return err
	}

	st, err := store.Open(ctx, cfg.Database.Driver, cfg.Database.URL, store.PoolOptions{})
	if err != nil {
		return err
	}
	defer st.Close()

	svc := core.NewService(st, core.ServiceOptions{})
	authSvc, err := auth.NewService(st, svc, auth.Config{Secret: []byte(cfg.Auth.JWTSecret)})
	if err != nil {
		return err
	}

	role := core.RoleUser
	if *admin {
		role = core.RoleAdmin
	}
	operator := core.Identity{UserID: "campactl", FullName: "campactl", Role: core.RoleAdmin}
	u, err := authSvc.CreateUser(ctx, operator, auth.NewUser{
		Email:    *email,
		Password: password,
		FullName: *name,
		Role:     role,
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "created %s (%s) id=%s\n", u.Email, u.Role, u.ID)
	return nil
}

// promptPassword reads the password twice without echo.
func promptPassword(out io.Writer) (string, error) {
	fmt.Fprint(out, "Password: ")
	first, err := readPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(out)
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}

	fmt.Fprint(out, "Repeat password: ")
	second, err := readPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(out)
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}

	if !bytes.Equal(first, second) {
		return "", errors.New("passwords do not match")
	}
	return string(first), nil
}
