package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ruteri/secure-rpc-broker/cmd/flags"
	"github.com/ruteri/secure-rpc-broker/httpserver"
	"github.com/ruteri/secure-rpc-broker/interfaces"
	"github.com/ruteri/secure-rpc-broker/rpcserver"
	"github.com/urfave/cli/v2"
)

var brokerFlags = append([]cli.Flag{
	flags.ListenAddrFlag,
	flags.HTTPAddrFlag,
	flags.ServerNameFlag,
	flags.WorkersFlag,
	flags.TimeoutMillisFlag,
	flags.APIKeysFileFlag,
	flags.PprofFlag,
	flags.DrainSecondsFlag,
}, flags.CommonFlags...)

func main() {
	app := &cli.App{
		Name:  "rpc-broker",
		Usage: "Serve a registry of named functions over the encrypted RPC broker",
		Flags: brokerFlags,
		Action: func(cCtx *cli.Context) error {
			logger := flags.SetupLogger(cCtx)

			credentials, err := loadCredentials(cCtx.String(flags.APIKeysFileFlag.Name))
			if err != nil {
				return err
			}

			srv, err := rpcserver.New(&rpcserver.Config{
				ListenAddr:   cCtx.String(flags.ListenAddrFlag.Name),
				ServerName:   cCtx.String(flags.ServerNameFlag.Name),
				WorkerCount:  cCtx.Int(flags.WorkersFlag.Name),
				ReplyTimeout: time.Duration(cCtx.Int64(flags.TimeoutMillisFlag.Name)) * time.Millisecond,
				Credentials:  credentials,
				Log:          logger,
			})
			if err != nil {
				return err
			}

			if err := registerDemoFunctions(srv); err != nil {
				return err
			}

			if err := srv.RunInBackground(); err != nil {
				return err
			}

			diagnostics, err := httpserver.New(&httpserver.HTTPServerConfig{
				ListenAddr:               cCtx.String(flags.HTTPAddrFlag.Name),
				EnablePprof:              cCtx.Bool(flags.PprofFlag.Name),
				Log:                      logger,
				DrainDuration:            time.Duration(cCtx.Int64(flags.DrainSecondsFlag.Name)) * time.Second,
				GracefulShutdownDuration: 30 * time.Second,
				ReadTimeout:              60 * time.Second,
				WriteTimeout:             30 * time.Second,
			}, srv)
			if err != nil {
				return err
			}
			diagnostics.RunInBackground()

			exit := make(chan os.Signal, 1)
			signal.Notify(exit, os.Interrupt, syscall.SIGTERM)
			<-exit
			logger.Info("Shutting down")

			diagnostics.Shutdown()
			srv.Shutdown()
			return nil
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

// credentialEntry is one record of the api-keys file.
type credentialEntry struct {
	APIKey string `json:"api_key"`
	UserID string `json:"user_id"`
}

func loadCredentials(path string) (map[string]interfaces.Identity, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not read api keys file: %w", err)
	}
	var entries []credentialEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("could not parse api keys file: %w", err)
	}
	credentials := make(map[string]interfaces.Identity, len(entries))
	for _, entry := range entries {
		credentials[entry.APIKey] = interfaces.Identity(entry.UserID)
	}
	return credentials, nil
}

// registerDemoFunctions wires a few example calls so a fresh broker can be
// exercised end to end with the rpc CLI.
func registerDemoFunctions(srv *rpcserver.Server) error {
	if err := srv.RegisterPublic("ping", func(ctx context.Context, call *interfaces.Call) (any, error) {
		return "pong", nil
	}); err != nil {
		return err
	}
	if err := srv.RegisterPublic("echo", func(ctx context.Context, call *interfaces.Call) (any, error) {
		return call.Args, nil
	}); err != nil {
		return err
	}
	return srv.Register("whoami", func(ctx context.Context, call *interfaces.Call) (any, error) {
		return string(call.Identity), nil
	})
}
