package main

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"log"
	"log/slog"
	"os"
	"strconv"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ruteri/safe-forge/api/clients"
	"github.com/ruteri/safe-forge/cmd/flags"
	"github.com/ruteri/safe-forge/cryptoutils"
	"github.com/ruteri/safe-forge/interfaces"
	"github.com/ruteri/safe-forge/storage"
	"github.com/urfave/cli/v2"
)

var flagCodeFile = &cli.StringFlag{
	Name:  "code-file",
	Usage: "read template code from this file",
}

var flagCodeHex = &cli.StringFlag{
	Name:  "code",
	Usage: "template code as 0x-prefixed hex",
}

var flagDataFile = &cli.StringFlag{
	Name:  "data-file",
	Usage: "read deployment data from this file",
}

var flagDataHex = &cli.StringFlag{
	Name:  "data",
	Usage: "deployment data as 0x-prefixed hex",
}

var flagAfter = &cli.Uint64Flag{
	Name:  "after",
	Usage: "list events with ids greater than this",
}

var flagLimit = &cli.IntFlag{
	Name:  "limit",
	Value: 100,
	Usage: "maximum number of events to list",
}

var flagOutFile = &cli.StringFlag{
	Name:  "out",
	Usage: "write the template code to this file instead of printing the template",
}

var flagArchive = &cli.StringSliceFlag{
	Name:  "archive",
	Usage: "with --out, fetch the code from this storage backend URI (repeatable)",
}

var logger = slog.Default()

var connFlags = []cli.Flag{flags.ForgeServerFlag, flags.InsecureTLSFlag}
var signedFlags = []cli.Flag{flags.ForgeServerFlag, flags.InsecureTLSFlag, flags.KeyFileFlag}

func main() {
	app := &cli.App{
		Name:  "forge-client",
		Usage: "Manage SafeForge admins and templates",
		Flags: append([]cli.Flag{flags.LogServiceFlagFn("forge-client")}, flags.LogFlags...),
		Before: func(cCtx *cli.Context) error {
			logger = flags.SetupLogger(cCtx)
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:  "generate-key",
				Usage: "create a new signing key file",
				Flags: []cli.Flag{flags.KeyFileFlag},
				Action: func(cCtx *cli.Context) error {
					key, err := cryptoutils.GenerateKeyFile(cCtx.String(flags.KeyFileFlag.Name))
					if err != nil {
						return err
					}
					fmt.Println(cryptoutils.PrincipalOf(key))
					return nil
				},
			},
			{
				Name:  "address",
				Usage: "print the principal of the signing key",
				Flags: []cli.Flag{flags.KeyFileFlag},
				Action: func(cCtx *cli.Context) error {
					key, err := cryptoutils.LoadPrivateKey(cCtx.String(flags.KeyFileFlag.Name))
					if err != nil {
						return err
					}
					fmt.Println(cryptoutils.PrincipalOf(key))
					return nil
				},
			},
			{
				Name:      "is-admin",
				Usage:     "check whether a principal is an admin",
				ArgsUsage: "<principal>",
				Flags:     connFlags,
				Action: func(cCtx *cli.Context) error {
					p, err := interfaces.NewPrincipalFromHex(cCtx.Args().First())
					if err != nil {
						return err
					}
					ok, err := newClient(cCtx, nil).IsAdmin(cCtx.Context, p)
					if err != nil {
						return err
					}
					fmt.Println(ok)
					return nil
				},
			},
			{
				Name:  "admins",
				Usage: "list admins",
				Flags: connFlags,
				Action: func(cCtx *cli.Context) error {
					admins, err := newClient(cCtx, nil).Admins(cCtx.Context)
					if err != nil {
						return err
					}
					return printJSON(admins)
				},
			},
			{
				Name:      "add-admin",
				Usage:     "grant admin rights to a principal",
				ArgsUsage: "<principal>",
				Flags:     signedFlags,
				Action: func(cCtx *cli.Context) error {
					p, err := interfaces.NewPrincipalFromHex(cCtx.Args().First())
					if err != nil {
						return err
					}
					c, err := newSignedClient(cCtx)
					if err != nil {
						return err
					}
					ok, err := c.AddAdmin(cCtx.Context, p)
					if err != nil {
						return err
					}
					fmt.Println(ok)
					return nil
				},
			},
			{
				Name:      "register",
				Usage:     "register a template",
				ArgsUsage: "<name>",
				Flags:     append([]cli.Flag{flagCodeFile, flagCodeHex}, signedFlags...),
				Action: func(cCtx *cli.Context) error {
					name, err := interfaces.NewTemplateName(cCtx.Args().First())
					if err != nil {
						return err
					}
					code, err := readPayload(cCtx, flagCodeFile.Name, flagCodeHex.Name)
					if err != nil {
						return err
					}
					c, err := newSignedClient(cCtx)
					if err != nil {
						return err
					}
					ok, err := c.RegisterTemplate(cCtx.Context, name, code)
					if err != nil {
						return err
					}
					fmt.Println(ok)
					return nil
				},
			},
			{
				Name:      "approve",
				Usage:     "approve a registered template",
				ArgsUsage: "<name>",
				Flags:     signedFlags,
				Action: func(cCtx *cli.Context) error {
					c, err := newSignedClient(cCtx)
					if err != nil {
						return err
					}
					ok, err := c.ApproveTemplate(cCtx.Context, interfaces.TemplateName(cCtx.Args().First()))
					if err != nil {
						return err
					}
					fmt.Println(ok)
					return nil
				},
			},
			{
				Name:      "generate",
				Usage:     "record a generation event for an approved template",
				ArgsUsage: "<name>",
				Flags:     append([]cli.Flag{flagDataFile, flagDataHex}, signedFlags...),
				Action: func(cCtx *cli.Context) error {
					data, err := readPayload(cCtx, flagDataFile.Name, flagDataHex.Name)
					if err != nil {
						return err
					}
					c, err := newSignedClient(cCtx)
					if err != nil {
						return err
					}
					event, err := c.GenerateContract(cCtx.Context, interfaces.TemplateName(cCtx.Args().First()), data)
					if err != nil {
						return err
					}
					return printJSON(event)
				},
			},
			{
				Name:      "template",
				Usage:     "show a template, or list all templates without a name",
				ArgsUsage: "[name]",
				Flags:     append([]cli.Flag{flagOutFile, flagArchive}, connFlags...),
				Action: func(cCtx *cli.Context) error {
					c := newClient(cCtx, nil)
					if !cCtx.Args().Present() {
						templates, err := c.Templates(cCtx.Context)
						if err != nil {
							return err
						}
						return printJSON(templates)
					}

					name := interfaces.TemplateName(cCtx.Args().First())
					if out := cCtx.String(flagOutFile.Name); out != "" {
						code, err := fetchCode(cCtx, c, name)
						if err != nil {
							return err
						}
						return os.WriteFile(out, code, 0644)
					}
					t, err := c.Template(cCtx.Context, name)
					if err != nil {
						return err
					}
					return printJSON(t)
				},
			},
			{
				Name:      "events",
				Usage:     "show an event, or page through the event log without an id",
				ArgsUsage: "[event-id]",
				Flags:     append([]cli.Flag{flagAfter, flagLimit}, connFlags...),
				Action: func(cCtx *cli.Context) error {
					c := newClient(cCtx, nil)
					if cCtx.Args().Present() {
						id, err := strconv.ParseUint(cCtx.Args().First(), 10, 64)
						if err != nil {
							return fmt.Errorf("invalid event id: %w", err)
						}
						event, err := c.Event(cCtx.Context, id)
						if err != nil {
							return err
						}
						return printJSON(event)
					}

					page, err := c.Events(cCtx.Context, cCtx.Uint64(flagAfter.Name), cCtx.Int(flagLimit.Name))
					if err != nil {
						return err
					}
					return printJSON(page)
				},
			},
		},
	}

	if err := app.RunContext(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}

func newClient(cCtx *cli.Context, key *ecdsa.PrivateKey) *clients.ForgeClient {
	var opts []clients.Option
	if cCtx.Bool(flags.InsecureTLSFlag.Name) {
		opts = append(opts, clients.WithInsecureTLS())
	}
	server := cCtx.String(flags.ForgeServerFlag.Name)
	logger.Debug("Using forge server", "server", server, "signed", key != nil)
	return clients.NewForgeClient(server, key, opts...)
}

func newSignedClient(cCtx *cli.Context) (*clients.ForgeClient, error) {
	key, err := cryptoutils.LoadPrivateKey(cCtx.String(flags.KeyFileFlag.Name))
	if err != nil {
		return nil, err
	}
	return newClient(cCtx, key), nil
}

// fetchCode reads template code from the archive backends when --archive
// is set and from the server otherwise.
func fetchCode(cCtx *cli.Context, c *clients.ForgeClient, name interfaces.TemplateName) ([]byte, error) {
	locations := cCtx.StringSlice(flagArchive.Name)
	if len(locations) == 0 {
		return c.TemplateCode(cCtx.Context, name)
	}

	archive, err := storage.NewStorageBackendFactory(logger).CreateMultiBackend(locations)
	if err != nil {
		return nil, err
	}
	return c.ArchivedTemplateCode(cCtx.Context, archive, name)
}

// readPayload returns the contents of the file flag or the decoded hex flag.
// Neither set means an empty payload.
func readPayload(cCtx *cli.Context, fileFlag, hexFlag string) ([]byte, error) {
	file, hexStr := cCtx.String(fileFlag), cCtx.String(hexFlag)
	switch {
	case file != "" && hexStr != "":
		return nil, fmt.Errorf("--%s and --%s are mutually exclusive", fileFlag, hexFlag)
	case file != "":
		return os.ReadFile(file)
	case hexStr != "":
		return hexutil.Decode(hexStr)
	default:
		return nil, nil
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
