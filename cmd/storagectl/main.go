package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/ruteri/object-storage-backend/api"
	"github.com/ruteri/object-storage-backend/api/clients"
	"github.com/ruteri/object-storage-backend/cmd/flags"
	"github.com/urfave/cli/v2"
)

var flagServer *cli.StringFlag = &cli.StringFlag{
	Name:    "server",
	Value:   "http://127.0.0.1:8080",
	Usage:   "storage server address",
	EnvVars: []string{"STORAGE_SERVER"},
}

var flagBackend *cli.StringFlag = &cli.StringFlag{
	Name:  "backend",
	Usage: "backend key, empty for the active backend",
}

var flagPartSize *cli.IntFlag = &cli.IntFlag{
	Name:  "part-size",
	Value: 0,
	Usage: "upload in parts of this many bytes through a multipart session; 0 uploads in one request",
}

func main() {
	if err := flags.LoadEnv(".env"); err != nil {
		log.Fatal(err)
	}

	app := &cli.App{
		Name:           "storagectl",
		Usage:          "Manage files and storage backends of a storage server",
		DefaultCommand: "backends",
		Flags:          []cli.Flag{flagServer, flags.AdminTokenFlag},
		Commands: []*cli.Command{
			{
				Name:  "backends",
				Usage: "list backends with their status",
				Action: func(cCtx *cli.Context) error {
					resp, err := adminClient(cCtx).Backends(cCtx.Context)
					if err != nil {
						return err
					}

					w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
					fmt.Fprintln(w, "KEY\tNAME\tDRIVER\tACTIVE\tCONFIGURED\tAVAILABLE")
					for _, b := range resp.Backends {
						fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%t\t%t\n", b.Key, b.Name, b.Driver, b.Active, b.Configured, b.Available)
					}
					return w.Flush()
				},
			},
			{
				Name:      "set-active",
				Usage:     "switch the active backend",
				ArgsUsage: "<key>",
				Action: func(cCtx *cli.Context) error {
					key, err := requireArg(cCtx, 0, "backend key")
					if err != nil {
						return err
					}
					active, err := adminClient(cCtx).SetActiveBackend(cCtx.Context, key)
					if err != nil {
						return err
					}
					fmt.Println(active)
					return nil
				},
			},
			{
				Name:  "config",
				Usage: "show and edit backend configs",
				Subcommands: []*cli.Command{
					{
						Name:      "get",
						ArgsUsage: "<key>",
						Action: func(cCtx *cli.Context) error {
							key, err := requireArg(cCtx, 0, "backend key")
							if err != nil {
								return err
							}
							cfg, err := adminClient(cCtx).BackendConfig(cCtx.Context, key)
							if err != nil {
								return err
							}
							return printJSON(cfg)
						},
					},
					{
						Name:      "save",
						Usage:     "create or replace a config from a JSON file, - for stdin",
						ArgsUsage: "<file>",
						Action: func(cCtx *cli.Context) error {
							file, err := requireArg(cCtx, 0, "config file")
							if err != nil {
								return err
							}
							data, err := readInput(file)
							if err != nil {
								return err
							}
							var cfg api.BackendConfig
							if err := json.Unmarshal(data, &cfg); err != nil {
								return fmt.Errorf("failed to parse config: %w", err)
							}
							saved, err := adminClient(cCtx).SaveBackendConfig(cCtx.Context, cfg)
							if err != nil {
								return err
							}
							return printJSON(saved)
						},
					},
					{
						Name:      "set",
						Usage:     "merge settings; an empty value removes the setting",
						ArgsUsage: "<key> <name=value>...",
						Action: func(cCtx *cli.Context) error {
							key, err := requireArg(cCtx, 0, "backend key")
							if err != nil {
								return err
							}
							settings, err := parseSettings(cCtx.Args().Tail())
							if err != nil {
								return err
							}
							cfg, err := adminClient(cCtx).UpdateSettings(cCtx.Context, key, settings)
							if err != nil {
								return err
							}
							return printJSON(cfg)
						},
					},
					{
						Name:      "delete",
						ArgsUsage: "<key>",
						Action: func(cCtx *cli.Context) error {
							key, err := requireArg(cCtx, 0, "backend key")
							if err != nil {
								return err
							}
							deleted, err := adminClient(cCtx).DeleteBackendConfig(cCtx.Context, key)
							if err != nil {
								return err
							}
							fmt.Println(deleted)
							return nil
						},
					},
				},
			},
			{
				Name:  "clear-cache",
				Usage: "drop cached backend configs on the server",
				Action: func(cCtx *cli.Context) error {
					return adminClient(cCtx).ClearCache(cCtx.Context)
				},
			},
			{
				Name:      "upload",
				Usage:     "upload a file and print its object path",
				ArgsUsage: "<file>",
				Flags:     []cli.Flag{flagBackend, flagPartSize},
				Action: func(cCtx *cli.Context) error {
					file, err := requireArg(cCtx, 0, "file")
					if err != nil {
						return err
					}
					f, err := os.Open(file)
					if err != nil {
						return err
					}
					defer f.Close()
					info, err := f.Stat()
					if err != nil {
						return err
					}

					c := clients.NewStorageClient(cCtx.String(flagServer.Name))
					if partSize := cCtx.Int(flagPartSize.Name); partSize > 0 {
						objectPath, err := c.UploadInParts(cCtx.Context, api.InitiateUploadRequest{
							FileName: filepath.Base(file),
							Size:     info.Size(),
							Backend:  cCtx.String(flagBackend.Name),
						}, f, partSize)
						if err != nil {
							return err
						}
						fmt.Println(objectPath)
						return nil
					}

					res, err := c.Upload(cCtx.Context, cCtx.String(flagBackend.Name), filepath.Base(file), f, info.Size())
					if err != nil {
						return err
					}
					return printJSON(res)
				},
			},
			{
				Name:      "download",
				Usage:     "write an object to stdout",
				ArgsUsage: "<object path>",
				Flags:     []cli.Flag{flagBackend},
				Action: func(cCtx *cli.Context) error {
					objectPath, err := requireArg(cCtx, 0, "object path")
					if err != nil {
						return err
					}
					c := clients.NewStorageClient(cCtx.String(flagServer.Name))
					rc, err := c.Download(cCtx.Context, cCtx.String(flagBackend.Name), objectPath)
					if err != nil {
						return err
					}
					defer rc.Close()
					_, err = io.Copy(os.Stdout, rc)
					return err
				},
			},
			{
				Name:      "delete",
				Usage:     "delete objects",
				ArgsUsage: "<object path>...",
				Flags:     []cli.Flag{flagBackend},
				Action: func(cCtx *cli.Context) error {
					if cCtx.NArg() == 0 {
						return fmt.Errorf("missing object path")
					}
					c := clients.NewStorageClient(cCtx.String(flagServer.Name))
					results, err := c.BatchDelete(cCtx.Context, cCtx.String(flagBackend.Name), cCtx.Args().Slice())
					if err != nil {
						return err
					}
					return printJSON(results)
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func adminClient(cCtx *cli.Context) *clients.AdminClient {
	return clients.NewAdminClient(cCtx.String(flagServer.Name), cCtx.String(flags.AdminTokenFlag.Name))
}

func requireArg(cCtx *cli.Context, i int, name string) (string, error) {
	v := cCtx.Args().Get(i)
	if v == "" {
		return "", fmt.Errorf("missing %s", name)
	}
	return v, nil
}

// parseSettings parses name=value pairs.
func parseSettings(args []string) (map[string]string, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("no settings given")
	}
	settings := make(map[string]string, len(args))
	for _, arg := range args {
		name, value, ok := strings.Cut(arg, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid setting %q, expected name=value", arg)
		}
		settings[name] = value
	}
	return settings, nil
}

func readInput(file string) ([]byte, error) {
	if file == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(file)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
