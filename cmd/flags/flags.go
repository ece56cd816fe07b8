// Package flags holds the CLI flags and setup helpers shared by the broker
// and client binaries.
package flags

import (
	"log/slog"

	"github.com/google/uuid"
	"github.com/ruteri/secure-rpc-broker/common"
	"github.com/urfave/cli/v2"
)

var ListenAddrFlag = &cli.StringFlag{
	Name:  "listen-addr",
	Value: "127.0.0.1:8421",
	Usage: "address the broker listens on for RPC callers",
}

var HTTPAddrFlag = &cli.StringFlag{
	Name:  "http-addr",
	Value: "127.0.0.1:8090",
	Usage: "address for the diagnostics HTTP API",
}

var ServerNameFlag = &cli.StringFlag{
	Name:  "server-name",
	Value: "rpc-broker",
	Usage: "display name used in logs",
}

var WorkersFlag = &cli.IntFlag{
	Name:  "workers",
	Value: 4,
	Usage: "size of the worker pool",
}

var TimeoutMillisFlag = &cli.Int64Flag{
	Name:  "timeout-ms",
	Value: 5000,
	Usage: "default response timeout in milliseconds",
}

var APIKeysFileFlag = &cli.StringFlag{
	Name:  "api-keys-file",
	Usage: "JSON file with entries of the form {\"api_key\":...,\"user_id\":...}",
}

var ServerAddrFlag = &cli.StringFlag{
	Name:  "server-addr",
	Value: "127.0.0.1:8421",
	Usage: "address of the broker to connect to",
}

var APIKeyFlag = &cli.StringFlag{
	Name:  "api-key",
	Usage: "credential presented with each request; empty for public calls only",
}

var LogJSONFlag = &cli.BoolFlag{
	Name:  "log-json",
	Value: false,
	Usage: "log in JSON format",
}
var LogDebugFlag = &cli.BoolFlag{
	Name:  "log-debug",
	Value: false,
	Usage: "log debug messages",
}
var LogUIDFlag = &cli.BoolFlag{
	Name:  "log-uid",
	Value: false,
	Usage: "generate a uuid and add to all log messages",
}
var LogServiceFlag = &cli.StringFlag{
	Name:  "log-service",
	Value: common.PackageName,
	Usage: "add 'service' tag to logs",
}
var PprofFlag = &cli.BoolFlag{
	Name:  "pprof",
	Value: false,
	Usage: "enable pprof debug endpoint",
}
var DrainSecondsFlag = &cli.Int64Flag{
	Name:  "drain-seconds",
	Value: 45,
	Usage: "seconds to wait in drain HTTP request",
}

var CommonFlags = []cli.Flag{
	LogJSONFlag,
	LogDebugFlag,
	LogUIDFlag,
	LogServiceFlag,
}

// SetupLogger builds the process logger from the common log flags.
func SetupLogger(cCtx *cli.Context) *slog.Logger {
	logger := common.SetupLogger(&common.LoggingOpts{
		Debug:   cCtx.Bool(LogDebugFlag.Name),
		JSON:    cCtx.Bool(LogJSONFlag.Name),
		Service: cCtx.String(LogServiceFlag.Name),
		Version: common.Version,
	})

	if cCtx.Bool(LogUIDFlag.Name) {
		id := uuid.Must(uuid.NewRandom())
		logger = logger.With("uid", id.String())
	}
	return logger
}
