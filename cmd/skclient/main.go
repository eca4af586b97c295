package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/dots-platform/skrecovery-app/api/clients"
	"github.com/dots-platform/skrecovery-app/cmd/flags"
	"github.com/dots-platform/skrecovery-app/signing"
	"github.com/urfave/cli/v2"
)

var flagNodes = &cli.StringSliceFlag{
	Name:     "nodes",
	Required: true,
	Usage:    "node API base URLs in rank order, e.g. http://10.0.0.1:8080",
}
var flagApp = &cli.StringFlag{
	Name:  "app",
	Value: "skrecovery",
	Usage: "application namespace on the nodes",
}
var flagClientID = &cli.StringFlag{
	Name:  "client-id",
	Value: "default",
	Usage: "client namespace for blobs and key shares",
}
var flagTimeout = &cli.DurationFlag{
	Name:  "timeout",
	Value: 2 * time.Minute,
	Usage: "overall deadline for the command",
}
var flagUser = &cli.StringFlag{
	Name:     "user",
	Required: true,
	Usage:    "user identifier",
}
var flagPassword = &cli.StringFlag{
	Name:     "password",
	Required: true,
	EnvVars:  []string{"SKR_PASSWORD"},
	Usage:    "password, or password guess when recovering",
}

// errRejected is returned when the cluster does not confirm a password guess.
var errRejected = errors.New("password rejected")

func newClient(cCtx *cli.Context) (*clients.ClusterClient, error) {
	cfg, err := flags.ClusterConfig(cCtx)
	if err != nil {
		return nil, err
	}
	return clients.NewClusterClient(cfg, cCtx.StringSlice(flagNodes.Name), cCtx.String(flagApp.Name),
		cCtx.String(flagClientID.Name), flags.SetupLogger(cCtx))
}

// withClient wraps a command body with client construction and the
// --timeout deadline.
func withClient(fn func(ctx context.Context, cCtx *cli.Context, c *clients.ClusterClient) error) cli.ActionFunc {
	return func(cCtx *cli.Context) error {
		c, err := newClient(cCtx)
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cCtx.Context, cCtx.Duration(flagTimeout.Name))
		defer cancel()
		return fn(ctx, cCtx, c)
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func parseSigners(raw []string) ([]int, error) {
	out := make([]int, len(raw))
	for i, s := range raw {
		id, err := strconv.Atoi(s)
		if err != nil {
			return nil, fmt.Errorf("signer %q: %w", s, err)
		}
		out[i] = id
	}
	return out, nil
}

func main() {
	app := &cli.App{
		Name:  "skclient",
		Usage: "Enroll, recover and sign against a skrecovery cluster",
		Flags: append([]cli.Flag{
			flagNodes,
			flagApp,
			flagClientID,
			flagTimeout,
			flags.PartiesFlag,
			flags.ThresholdFlag,
			flags.LogServiceFlagFn("skclient"),
		}, flags.LogJsonFlag, flags.LogDebugFlag, flags.LogUidFlag),
		Commands: []*cli.Command{
			{
				Name:  "seed",
				Usage: "distribute correlated randomness seeds between the nodes",
				Action: withClient(func(ctx context.Context, _ *cli.Context, c *clients.ClusterClient) error {
					return c.Recovery.Seed(ctx)
				}),
			},
			{
				Name:  "enroll",
				Usage: "split a secret and password across the nodes",
				Flags: []cli.Flag{
					flagUser,
					flagPassword,
					&cli.StringFlag{Name: "secret", Required: true, EnvVars: []string{"SKR_SECRET"}, Usage: "secret to protect"},
				},
				Action: withClient(func(ctx context.Context, cCtx *cli.Context, c *clients.ClusterClient) error {
					return c.Recovery.Enroll(ctx, cCtx.String(flagUser.Name), cCtx.String("secret"), cCtx.String(flagPassword.Name))
				}),
			},
			{
				Name:  "recover",
				Usage: "recover a secret with a password guess",
				Flags: []cli.Flag{flagUser, flagPassword},
				Action: withClient(func(ctx context.Context, cCtx *cli.Context, c *clients.ClusterClient) error {
					out, err := c.Recovery.Recover(ctx, cCtx.String(flagUser.Name), cCtx.String(flagPassword.Name))
					if err != nil {
						return err
					}
					if out.Rejected() {
						return errRejected
					}
					fmt.Println(out.Secret)
					return nil
				}),
			},
			{
				Name:  "keygen",
				Usage: "run distributed key generation; prints the group key",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "out", Usage: "blob key for the key shares (default per app)"},
				},
				Action: withClient(func(ctx context.Context, cCtx *cli.Context, c *clients.ClusterClient) error {
					pub, err := c.KeyGen(ctx, cCtx.String("out"))
					if err != nil {
						return err
					}
					xonly, err := pub.XOnly()
					if err != nil {
						return err
					}
					return printJSON(map[string]string{
						"group_key":  hex.EncodeToString(pub.GroupKey),
						"bip340_key": hex.EncodeToString(xonly),
						"client_id":  cCtx.String(flagClientID.Name),
					})
				}),
			},
			{
				Name:  "sign",
				Usage: "produce a BIP-340 signature with a quorum of nodes",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "in", Usage: "blob key of the key shares (default per app)"},
					&cli.StringFlag{Name: "group-key", Required: true, Usage: "hex compressed group key from keygen"},
					&cli.StringSliceFlag{Name: "signers", Required: true, Usage: "active party identifiers"},
					&cli.StringFlag{Name: "message", Required: true, Usage: "message to sign"},
				},
				Action: withClient(func(ctx context.Context, cCtx *cli.Context, c *clients.ClusterClient) error {
					groupKey, err := hex.DecodeString(cCtx.String("group-key"))
					if err != nil {
						return fmt.Errorf("group key: %w", err)
					}
					signers, err := parseSigners(cCtx.StringSlice("signers"))
					if err != nil {
						return err
					}
					sig, err := c.Sign(ctx, cCtx.String("in"), groupKey, signers, []byte(cCtx.String("message")))
					if err != nil {
						return err
					}
					fmt.Println(hex.EncodeToString(sig))
					return nil
				}),
			},
			{
				Name:  "verify",
				Usage: "check a signature locally against a group key",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "group-key", Required: true},
					&cli.StringFlag{Name: "signature", Required: true},
					&cli.StringFlag{Name: "message", Required: true},
				},
				Action: func(cCtx *cli.Context) error {
					groupKey, err := hex.DecodeString(cCtx.String("group-key"))
					if err != nil {
						return fmt.Errorf("group key: %w", err)
					}
					sig, err := hex.DecodeString(cCtx.String("signature"))
					if err != nil {
						return fmt.Errorf("signature: %w", err)
					}
					if err := signing.Verify(groupKey, []byte(cCtx.String("message")), sig); err != nil {
						return err
					}
					fmt.Println("ok")
					return nil
				},
			},
			{
				Name:      "upload",
				Usage:     "store one file per node under a blob key",
				ArgsUsage: "FILE_FOR_NODE_1 ... FILE_FOR_NODE_N",
				Flags:     []cli.Flag{&cli.StringFlag{Name: "key", Required: true}},
				Action: withClient(func(ctx context.Context, cCtx *cli.Context, c *clients.ClusterClient) error {
					blobs := make([][]byte, cCtx.NArg())
					for i, path := range cCtx.Args().Slice() {
						data, err := os.ReadFile(path)
						if err != nil {
							return err
						}
						blobs[i] = data
					}
					return c.Upload(ctx, cCtx.String("key"), blobs)
				}),
			},
			{
				Name:  "retrieve",
				Usage: "fetch a blob key from every node into a directory",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "key", Required: true},
					&cli.StringFlag{Name: "out-dir", Value: "."},
				},
				Action: withClient(func(ctx context.Context, cCtx *cli.Context, c *clients.ClusterClient) error {
					blobs, err := c.Retrieve(ctx, cCtx.String("key"))
					if err != nil {
						return err
					}
					base := filepath.Base(cCtx.String("key"))
					for i, data := range blobs {
						path := filepath.Join(cCtx.String("out-dir"), fmt.Sprintf("%s.%d", base, i+1))
						if err := os.WriteFile(path, data, 0o600); err != nil {
							return err
						}
					}
					return nil
				}),
			},
			{
				Name:  "publish",
				Usage: "store the same value, such as a public key, on every node",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "key", Required: true},
					&cli.StringFlag{Name: "value", Required: true},
				},
				Action: withClient(func(ctx context.Context, cCtx *cli.Context, c *clients.ClusterClient) error {
					return c.UploadReplicated(ctx, cCtx.String("key"), []byte(cCtx.String("value")))
				}),
			},
			{
				Name:  "fetch",
				Usage: "read a published value; fails unless every node agrees",
				Flags: []cli.Flag{&cli.StringFlag{Name: "key", Required: true}},
				Action: withClient(func(ctx context.Context, cCtx *cli.Context, c *clients.ClusterClient) error {
					data, err := c.RetrieveConsistent(ctx, cCtx.String("key"))
					if err != nil {
						return err
					}
					fmt.Println(string(data))
					return nil
				}),
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
