// artifactctl inspects and maintains the artifact store behind the auth server.
//
//	artifactctl [-db path] find <kind> <id>
//	artifactctl [-db path] find-uid <kind> <uid>
//	artifactctl [-db path] destroy <kind> <id>
//	artifactctl [-db path] revoke-grant <grantId>
//	artifactctl [-db path] delete-account <accountId>
//	artifactctl [-db path] sweep
//	artifactctl [-db path] rotate-admin-key
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"github.com/glebarez/sqlite"
	"github.com/jamesacres/bubblyclouds-auth/internal/account"
	"github.com/jamesacres/bubblyclouds-auth/internal/artifact"
	"github.com/jamesacres/bubblyclouds-auth/internal/db"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var errUsage = errors.New("usage: artifactctl [-db path] find|find-uid|destroy|revoke-grant|delete-account|sweep|rotate-admin-key ...")

func main() {
	log.SetFlags(log.Ltime)
	if err := run(context.Background(), os.Args[1:], os.Stdout); err != nil {
		log.Fatalf("❌ %v", err)
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("artifactctl", flag.ContinueOnError)
	dbPath := fs.String("db", findDB(), "path to the auth database")
	if err := fs.Parse(args); err != nil {
		return err
	}
	rest := fs.Args()
	if len(rest) == 0 {
		return errUsage
	}

	gormDB, err := gorm.Open(sqlite.Open(*dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return fmt.Errorf("open %s: %w", *dbPath, err)
	}
	if err := db.Migrate(gormDB); err != nil {
		return err
	}
	artifacts := artifact.NewRegistry(artifact.NewGormBackend(gormDB))

	cmd, params := rest[0], rest[1:]
	switch cmd {
	case "find", "find-uid":
		if len(params) != 2 {
			return errUsage
		}
		store, err := storeFor(artifacts, params[0])
		if err != nil {
			return err
		}
		var (
			p  artifact.Payload
			ok bool
		)
		if cmd == "find" {
			p, ok = store.Find(ctx, params[1])
		} else {
			p, ok = store.FindByUID(ctx, params[1])
		}
		if !ok {
			return fmt.Errorf("%s %s not found", params[0], params[1])
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(p)

	case "destroy":
		if len(params) != 2 {
			return errUsage
		}
		store, err := storeFor(artifacts, params[0])
		if err != nil {
			return err
		}
		if err := store.Destroy(ctx, params[1]); err != nil {
			return err
		}
		fmt.Fprintf(out, "destroyed %s %s\n", params[0], params[1])

	case "revoke-grant":
		if len(params) != 1 {
			return errUsage
		}
		if err := artifacts.For(artifact.KindGrant).RevokeByGrantID(ctx, params[0]); err != nil {
			return err
		}
		fmt.Fprintf(out, "revoked grant %s\n", params[0])

	case "delete-account":
		if len(params) != 1 {
			return errUsage
		}
		if err := account.New(artifacts.For(artifact.KindAccount)).Destroy(ctx, params[0]); err != nil {
			return err
		}
		fmt.Fprintf(out, "deleted account %s\n", params[0])

	case "sweep":
		n, err := artifact.NewSweeper(artifacts, 0).SweepOnce(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "removed %d expired artifacts\n", n)

	case "rotate-admin-key":
		key, err := db.RegenerateAdminKey(gormDB)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, key)

	default:
		return errUsage
	}
	return nil
}

func storeFor(artifacts *artifact.Registry, name string) (*artifact.Store, error) {
	kind, ok := artifact.ParseKind(name)
	if !ok {
		return nil, fmt.Errorf("unknown kind %q", name)
	}
	return artifacts.For(kind), nil
}

func findDB() string {
	if envPath := os.Getenv("AUTH_DB_PATH"); envPath != "" {
		return envPath
	}
	paths := []string{
		"bubblyclouds-auth.db",
		"../bubblyclouds-auth.db",
		filepath.Join(os.Getenv("HOME"), ".config/bubblyclouds-auth/bubblyclouds-auth.db"),
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return "bubblyclouds-auth.db"
}
