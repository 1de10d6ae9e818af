/*
 * Lingualink
 * Copyright (C) 2025  Gravitational, Inc.
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 */

// Command lingualink runs the audio inference gateway and provides local
// admin operations over the credential store.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/gravitational/trace"

	"github.com/gravitational/lingualink"
	"github.com/gravitational/lingualink/lib/asciitable"
	"github.com/gravitational/lingualink/lib/auth"
	"github.com/gravitational/lingualink/lib/config"
	"github.com/gravitational/lingualink/lib/defaults"
	"github.com/gravitational/lingualink/lib/service"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "ERROR:", trace.UserMessage(err))
		os.Exit(1)
	}
}

func run(args []string) error {
	app := kingpin.New("lingualink", "Audio inference gateway.")
	app.HelpFlag.Short('h')

	start := app.Command("start", "Start the gateway daemon.")
	startConfig := start.Flag("config", "Path to the YAML configuration file.").Short('c').Default("lingualink.yaml").String()
	startListen := start.Flag("listen-addr", "Override the host:port to bind to.").String()
	startDebug := start.Flag("debug", "Verbose logging and error details in responses.").Short('d').Bool()

	keys := app.Command("keys", "Manage credentials in the local store.")
	keysStore := keys.Flag("store", "Path to the credential database.").Default(defaults.StorePath).String()

	create := keys.Command("create", "Issue a new credential and print its secret once.")
	createName := create.Flag("name", "Display name of the key.").String()
	createTTL := create.Flag("ttl-days", "Expire the key this many days from now; 0 never expires.").Int()
	createDescription := create.Flag("description", "Free-text description.").String()
	createdBy := create.Flag("created-by", "Issuer tag.").Default("cli").String()
	createAdmin := create.Flag("admin", "Grant the operator endpoints.").Bool()

	list := keys.Command("list", "List credentials with masked secrets.")
	listAll := list.Flag("all", "Include revoked credentials.").Bool()

	revoke := keys.Command("revoke", "Deactivate a credential.")
	revokeSecret := revoke.Arg("secret", "The credential secret to revoke.").Required().String()

	setAdmin := keys.Command("set-admin", "Grant or withdraw the admin flag.")
	setAdminSecret := setAdmin.Arg("secret", "The credential secret.").Required().String()
	setAdminValue := setAdmin.Arg("on|off", "New admin state.").Required().Enum("on", "off")

	cleanup := keys.Command("cleanup", "Deactivate every expired credential.")

	version := app.Command("version", "Print the version and exit.")

	command, err := app.Parse(args)
	if err != nil {
		return trace.Wrap(err)
	}

	switch command {
	case start.FullCommand():
		return onStart(*startConfig, *startListen, *startDebug)
	case create.FullCommand():
		return withStore(*keysStore, func(ctx context.Context, store *auth.Store) error {
			return onKeysCreate(ctx, store, auth.CreateKeyRequest{
				Name:        *createName,
				TTLDays:     *createTTL,
				Description: *createDescription,
				CreatedBy:   *createdBy,
				Admin:       *createAdmin,
			})
		})
	case list.FullCommand():
		return withStore(*keysStore, func(ctx context.Context, store *auth.Store) error {
			return onKeysList(ctx, store, *listAll)
		})
	case revoke.FullCommand():
		return withStore(*keysStore, func(ctx context.Context, store *auth.Store) error {
			return onKeysRevoke(ctx, store, *revokeSecret)
		})
	case setAdmin.FullCommand():
		return withStore(*keysStore, func(ctx context.Context, store *auth.Store) error {
			return onKeysSetAdmin(ctx, store, *setAdminSecret, *setAdminValue == "on")
		})
	case cleanup.FullCommand():
		return withStore(*keysStore, onKeysCleanup)
	case version.FullCommand():
		fmt.Printf("lingualink v%v go%v\n", lingualink.Version, runtime.Version()[2:])
		return nil
	}
	return trace.BadParameter("unknown command %q", command)
}

func onStart(configPath, listenAddr string, debug bool) error {
	cfg, err := config.ReadFromFile(configPath)
	if err != nil {
		return trace.Wrap(err)
	}
	if listenAddr != "" {
		cfg.ListenAddr = listenAddr
	}
	if debug {
		cfg.Debug = true
	}

	level := slog.LevelInfo
	if cfg.Debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return trace.Wrap(service.Run(ctx, cfg))
}

func withStore(path string, fn func(context.Context, *auth.Store) error) error {
	store, err := auth.NewStore(auth.StoreConfig{Path: path})
	if err != nil {
		return trace.Wrap(err)
	}
	defer store.Close()
	return fn(context.Background(), store)
}

func onKeysCreate(ctx context.Context, store *auth.Store, req auth.CreateKeyRequest) error {
	key, err := store.CreateKey(ctx, req)
	if err != nil {
		return trace.Wrap(err)
	}
	fmt.Println("Store the secret now, it is not shown again:")
	fmt.Println()
	fmt.Println("  " + key.Secret)
	fmt.Println()
	if key.ExpiresAt != nil {
		fmt.Printf("Expires: %v\n", key.ExpiresAt.Format(time.RFC3339))
	}
	return nil
}

func onKeysList(ctx context.Context, store *auth.Store, includeRevoked bool) error {
	keys, err := store.ListKeys(ctx, includeRevoked)
	if err != nil {
		return trace.Wrap(err)
	}
	table := asciitable.MakeTable([]string{"Key", "Name", "Active", "Admin", "Uses", "Expires"})
	for _, key := range keys {
		expires := "never"
		if key.ExpiresAt != nil {
			expires = key.ExpiresAt.Format(time.RFC3339)
		}
		table.AddRow([]string{
			key.Masked(),
			key.Name,
			strconv.FormatBool(key.Active),
			strconv.FormatBool(key.Admin),
			strconv.FormatInt(key.UsageCount, 10),
			expires,
		})
	}
	fmt.Print(table.AsBuffer().String())
	return nil
}

func onKeysRevoke(ctx context.Context, store *auth.Store, secret string) error {
	found, err := store.RevokeKey(ctx, secret)
	if err != nil {
		return trace.Wrap(err)
	}
	if !found {
		return trace.NotFound("key not found")
	}
	fmt.Println("Key revoked.")
	return nil
}

func onKeysSetAdmin(ctx context.Context, store *auth.Store, secret string, admin bool) error {
	found, err := store.SetAdmin(ctx, secret, admin)
	if err != nil {
		return trace.Wrap(err)
	}
	if !found {
		return trace.NotFound("key not found")
	}
	fmt.Printf("Admin flag set to %v.\n", admin)
	return nil
}

func onKeysCleanup(ctx context.Context, store *auth.Store) error {
	n, err := store.CleanupExpired(ctx)
	if err != nil {
		return trace.Wrap(err)
	}
	fmt.Printf("Deactivated %v expired key(s).\n", n)
	return nil
}
