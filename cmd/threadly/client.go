package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/alphabot-ai/threadly/internal/client"
	"github.com/alphabot-ai/threadly/internal/model"
)

// CLIConfig is the client state persisted between invocations.
type CLIConfig struct {
	BaseURL     string `json:"base_url"`
	DisplayName string `json:"display_name"`
	PrivateKey  string `json:"private_key"`
	Token       string `json:"token"`
	TokenExp    string `json:"token_expires"`
}

func clientCommands() []*cli.Command {
	return []*cli.Command{
		{
			Name:  "register",
			Usage: "create a keypair, register it and sign in",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "name", Usage: "display name", Required: true},
				&cli.StringFlag{Name: "url", Value: "http://localhost:8080", Usage: "server URL", EnvVars: []string{"THREADLY_URL"}},
			},
			Action: cmdRegister,
		},
		{
			Name:    "login",
			Aliases: []string{"auth"},
			Usage:   "refresh the access token",
			Action:  cmdLogin,
		},
		{
			Name:    "whoami",
			Aliases: []string{"status"},
			Usage:   "show the signed in user",
			Action: func(c *cli.Context) error {
				cl, err := authedClient()
				if err != nil {
					return err
				}
				u, err := cl.Me(c.Context)
				if err != nil {
					return err
				}
				fmt.Printf("%s (%s)\n", u.DisplayName, u.UID)
				return nil
			},
		},
		{
			Name:  "feed",
			Usage: "show the home feed",
			Action: func(c *cli.Context) error {
				cl, err := optionalClient()
				if err != nil {
					return err
				}
				l, err := cl.Feed(c.Context)
				if err != nil {
					return err
				}
				printListing(l)
				return nil
			},
		},
		{
			Name:  "community",
			Usage: "create, show, join or leave communities",
			Subcommands: []*cli.Command{
				{
					Name:      "create",
					ArgsUsage: "<name>",
					Flags: []cli.Flag{
						&cli.StringFlag{Name: "privacy", Value: string(model.PrivacyPublic), Usage: "public, restricted or private"},
					},
					Action: func(c *cli.Context) error {
						cl, err := authedClient()
						if err != nil {
							return err
						}
						cm, err := cl.CreateCommunity(c.Context, c.Args().First(), model.PrivacyType(c.String("privacy")))
						if err != nil {
							return err
						}
						fmt.Printf("✓ Created r/%s\n", cm.ID)
						return nil
					},
				},
				{
					Name:      "show",
					ArgsUsage: "<name>",
					Action: func(c *cli.Context) error {
						cl, err := optionalClient()
						if err != nil {
							return err
						}
						cm, member, err := cl.Community(c.Context, c.Args().First())
						if err != nil {
							return err
						}
						fmt.Printf("r/%s  %d members  %s", cm.ID, cm.NumberOfMembers, cm.PrivacyType)
						if member {
							fmt.Print("  (joined)")
						}
						fmt.Println()
						l, err := cl.CommunityPosts(c.Context, cm.ID)
						if err != nil {
							return err
						}
						printListing(l)
						return nil
					},
				},
				{
					Name:      "join",
					ArgsUsage: "<name>",
					Action: func(c *cli.Context) error {
						cl, err := authedClient()
						if err != nil {
							return err
						}
						if _, err := cl.Join(c.Context, c.Args().First()); err != nil {
							return err
						}
						fmt.Printf("✓ Joined r/%s\n", c.Args().First())
						return nil
					},
				},
				{
					Name:      "leave",
					ArgsUsage: "<name>",
					Action: func(c *cli.Context) error {
						cl, err := authedClient()
						if err != nil {
							return err
						}
						if _, err := cl.Leave(c.Context, c.Args().First()); err != nil {
							return err
						}
						fmt.Printf("✓ Left r/%s\n", c.Args().First())
						return nil
					},
				},
				{
					Name:      "watch",
					ArgsUsage: "<name>",
					Usage:     "print the community's posts whenever they change",
					Action: func(c *cli.Context) error {
						cl, err := optionalClient()
						if err != nil {
							return err
						}
						return cl.WatchCommunity(c.Context, c.Args().First(), func(u client.LiveUpdate) {
							fmt.Printf("--- %s\n", time.Now().Format(time.TimeOnly))
							printListing(client.Listing{Posts: u.Posts, PostVotes: u.PostVotes})
						})
					},
				},
			},
		},
		{
			Name:  "post",
			Usage: "create a post",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "community", Aliases: []string{"r"}, Required: true},
				&cli.StringFlag{Name: "title", Required: true},
				&cli.StringFlag{Name: "body"},
				&cli.StringFlag{Name: "image"},
			},
			Action: func(c *cli.Context) error {
				cl, err := authedClient()
				if err != nil {
					return err
				}
				p, err := cl.CreatePost(c.Context, client.NewPost{
					CommunityID: c.String("community"),
					Title:       c.String("title"),
					Body:        c.String("body"),
					ImageURL:    c.String("image"),
				})
				if err != nil {
					return err
				}
				fmt.Printf("✓ Posted %s\n", p.ID)
				return nil
			},
		},
		{
			Name:      "read",
			Usage:     "show a post with its comments",
			ArgsUsage: "<post-id>",
			Action: func(c *cli.Context) error {
				cl, err := optionalClient()
				if err != nil {
					return err
				}
				p, vote, err := cl.Post(c.Context, c.Args().First())
				if err != nil {
					return err
				}
				fmt.Printf("%s\n  r/%s by %s  %d points\n", p.Title, p.CommunityID, p.CreatorDisplayName, p.VoteStatus)
				if vote != nil {
					fmt.Printf("  your vote: %+d\n", vote.VoteValue)
				}
				if p.Body != "" {
					fmt.Printf("\n%s\n", p.Body)
				}
				comments, err := cl.Comments(c.Context, p.ID)
				if err != nil {
					return err
				}
				fmt.Printf("\n%d comments\n", len(comments))
				for _, cm := range comments {
					fmt.Printf("  [%s] %s: %s\n", cm.ID, cm.CreatorDisplayName, cm.Text)
				}
				return nil
			},
		},
		{
			Name:      "comment",
			ArgsUsage: "<post-id> <text>",
			Action: func(c *cli.Context) error {
				cl, err := authedClient()
				if err != nil {
					return err
				}
				cm, err := cl.Comment(c.Context, c.Args().Get(0), strings.Join(c.Args().Tail(), " "))
				if err != nil {
					return err
				}
				fmt.Printf("✓ Commented %s\n", cm.ID)
				return nil
			},
		},
		{
			Name:      "vote",
			ArgsUsage: "<post-id>",
			Flags: []cli.Flag{
				&cli.BoolFlag{Name: "down", Usage: "downvote instead of upvote"},
			},
			Action: func(c *cli.Context) error {
				cl, err := authedClient()
				if err != nil {
					return err
				}
				value := 1
				if c.Bool("down") {
					value = -1
				}
				res, err := cl.Vote(c.Context, c.Args().First(), value)
				if err != nil {
					return err
				}
				fmt.Printf("✓ vote %+d, score %d\n", res.VoteValue, res.VoteStatus)
				return nil
			},
		},
		{
			Name:      "delete",
			Aliases:   []string{"rm"},
			ArgsUsage: "<post-id>",
			Flags: []cli.Flag{
				&cli.BoolFlag{Name: "comment", Usage: "the id is a comment"},
			},
			Action: func(c *cli.Context) error {
				cl, err := authedClient()
				if err != nil {
					return err
				}
				if c.Bool("comment") {
					return cl.DeleteComment(c.Context, c.Args().First())
				}
				return cl.DeletePost(c.Context, c.Args().First())
			},
		},
	}
}

func cmdRegister(c *cli.Context) error {
	creds, err := client.GenerateCredentials(c.String("name"))
	if err != nil {
		return fmt.Errorf("generate keypair: %w", err)
	}
	cfg := CLIConfig{
		BaseURL:     strings.TrimSuffix(c.String("url"), "/"),
		DisplayName: creds.DisplayName,
		PrivateKey:  creds.ExportKey(),
	}
	cl := client.New(cfg.BaseURL)
	u, err := cl.Register(c.Context, creds)
	if err != nil {
		return err
	}
	cfg.Token = cl.Token
	cfg.TokenExp = cl.TokenExp.Format(time.RFC3339)
	if err := saveCLIConfig(cfg); err != nil {
		return fmt.Errorf("save config: %w", err)
	}
	fmt.Printf("✓ Registered '%s' (%s)\n", u.DisplayName, u.UID)
	fmt.Printf("  Config: %s\n", cliConfigPath())
	return nil
}

func cmdLogin(c *cli.Context) error {
	cfg, err := loadCLIConfig()
	if err != nil {
		return err
	}
	creds, err := client.CredentialsFromKey(cfg.DisplayName, cfg.PrivateKey)
	if err != nil {
		return err
	}
	cl := client.New(cfg.BaseURL)
	if _, err := cl.Login(c.Context, creds); err != nil {
		return err
	}
	cfg.Token = cl.Token
	cfg.TokenExp = cl.TokenExp.Format(time.RFC3339)
	if err := saveCLIConfig(cfg); err != nil {
		return err
	}
	fmt.Printf("✓ Signed in (expires %s)\n", cfg.TokenExp)
	return nil
}

func printListing(l client.Listing) {
	votes := make(map[string]int, len(l.PostVotes))
	for _, v := range l.PostVotes {
		votes[v.PostID] = v.VoteValue
	}
	if len(l.Posts) == 0 {
		fmt.Println("no posts")
		return
	}
	for _, p := range l.Posts {
		mark := " "
		switch votes[p.ID] {
		case 1:
			mark = "▲"
		case -1:
			mark = "▼"
		}
		fmt.Printf("%s %4d  %-40s r/%s  %d comments  [%s]\n", mark, p.VoteStatus, p.Title, p.CommunityID, p.NumberOfComments, p.ID)
	}
}

func cliConfigPath() string {
	if p := os.Getenv("THREADLY_CLI_CONFIG"); p != "" {
		return p
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".threadly", "config.json")
}

func loadCLIConfig() (CLIConfig, error) {
	data, err := os.ReadFile(cliConfigPath())
	if err != nil {
		return CLIConfig{}, errors.New("not registered - run 'threadly register --name <name>'")
	}
	var cfg CLIConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return CLIConfig{}, err
	}
	return cfg, nil
}

func saveCLIConfig(cfg CLIConfig) error {
	path := cliConfigPath()
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	data, _ := json.MarshalIndent(cfg, "", "  ")
	return os.WriteFile(path, data, 0o600)
}

func authedClient() (*client.Client, error) {
	cfg, err := loadCLIConfig()
	if err != nil {
		return nil, err
	}
	if cfg.Token == "" {
		return nil, errors.New("not signed in - run 'threadly login'")
	}
	if exp, err := time.Parse(time.RFC3339, cfg.TokenExp); err == nil && time.Now().After(exp) {
		return nil, errors.New("token expired - run 'threadly login'")
	}
	cl := client.New(cfg.BaseURL)
	cl.Token = cfg.Token
	return cl, nil
}

// optionalClient signs requests when a valid token is saved and falls
// back to anonymous access otherwise.
func optionalClient() (*client.Client, error) {
	if cl, err := authedClient(); err == nil {
		return cl, nil
	}
	base := os.Getenv("THREADLY_URL")
	if cfg, err := loadCLIConfig(); err == nil {
		base = cfg.BaseURL
	}
	if base == "" {
		base = "http://localhost:8080"
	}
	return client.New(base), nil
}
