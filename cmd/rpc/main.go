package main

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/ruteri/secure-rpc-broker/client"
	"github.com/ruteri/secure-rpc-broker/cmd/flags"
	"github.com/urfave/cli/v2"
)

var clientFlags = append([]cli.Flag{
	flags.ServerAddrFlag,
	flags.APIKeyFlag,
	flags.TimeoutMillisFlag,
}, flags.CommonFlags...)

func main() {
	app := &cli.App{
		Name:  "rpc",
		Usage: "Call functions on an encrypted RPC broker",
		Flags: clientFlags,
		Commands: []*cli.Command{
			{
				Name:      "call",
				Usage:     "call a remote function; arguments are parsed as JSON, bare words pass as strings",
				ArgsUsage: "<function> [arg ...]",
				Action:    runCall,
			},
			{
				Name:      "set-shared",
				Usage:     "set a shared variable on the server",
				ArgsUsage: "<key> <value>",
				Action:    runSetShared,
			},
			{
				Name:   "server-key",
				Usage:  "print the server's public key",
				Action: runServerKey,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func dial(cCtx *cli.Context) (*client.Client, error) {
	return client.Dial(&client.Config{
		ServerAddr: cCtx.String(flags.ServerAddrFlag.Name),
		APIKey:     cCtx.String(flags.APIKeyFlag.Name),
		Timeout:    time.Duration(cCtx.Int64(flags.TimeoutMillisFlag.Name)) * time.Millisecond,
		Log:        flags.SetupLogger(cCtx),
	})
}

// parseArg decodes a CLI argument as JSON where possible so numbers, bools
// and objects survive the trip; anything else is passed as a string.
func parseArg(raw string) any {
	var value any
	if err := json.Unmarshal([]byte(raw), &value); err != nil {
		return raw
	}
	return value
}

func runCall(cCtx *cli.Context) error {
	if cCtx.NArg() < 1 {
		return fmt.Errorf("call requires a function name")
	}

	c, err := dial(cCtx)
	if err != nil {
		return err
	}
	defer c.Close()

	args := make([]any, 0, cCtx.NArg()-1)
	for _, raw := range cCtx.Args().Slice()[1:] {
		args = append(args, parseArg(raw))
	}

	result, err := c.Call(cCtx.Args().First(), args...)
	if err != nil {
		return err
	}

	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func runSetShared(cCtx *cli.Context) error {
	if cCtx.NArg() != 2 {
		return fmt.Errorf("set-shared requires a key and a value")
	}

	c, err := dial(cCtx)
	if err != nil {
		return err
	}
	defer c.Close()

	c.Shared.Set(cCtx.Args().Get(0), parseArg(cCtx.Args().Get(1)))
	return nil
}

func runServerKey(cCtx *cli.Context) error {
	c, err := dial(cCtx)
	if err != nil {
		return err
	}
	defer c.Close()

	key, err := c.Call("__get_public_key__")
	if err != nil {
		return err
	}
	fmt.Println(key)
	return nil
}
