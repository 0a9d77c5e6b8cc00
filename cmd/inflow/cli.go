package main

import (
	"bufio"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/mkoskin/inflow/internal/backlog"
	"github.com/mkoskin/inflow/internal/config"
	"github.com/mkoskin/inflow/internal/errors"
	"github.com/mkoskin/inflow/internal/ops"
	"github.com/mkoskin/inflow/internal/rtm"
)

// newCLIApp creates the CLI application with all commands.
func newCLIApp(db *sql.DB, cfg *config.Config) *cli.App {
	app := &cli.App{
		Name:    "inflow",
		Usage:   "Personal task capture pipeline",
		Version: Version,
		Commands: []*cli.Command{
			submitCmd(db),
			decideCmd(db),
			clarifyCmd(db),
			getCmd(db),
			statusCmd(db),
			backlogCmd(db, cfg),
			highlightsCmd(db, cfg),
			authCmd(db, cfg),
			serveCmd(db, cfg),
		},
	}
	// Disable default exit error handler to allow proper error return in tests
	app.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return app
}

// submitCmd creates the submit command.
func submitCmd(db *sql.DB) *cli.Command {
	return &cli.Command{
		Name:      "submit",
		Usage:     "Submit a raw thought for clarification (argument or stdin)",
		ArgsUsage: "[text]",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "source", Value: "api", Usage: "Origin of the capture"},
			&cli.StringFlag{Name: "source-id", Usage: "Origin identifier for deduplication"},
			&cli.StringFlag{Name: "source-link", Usage: "Link back to the origin"},
		},
		Action: func(c *cli.Context) error {
			rawText := strings.TrimSpace(strings.Join(c.Args().Slice(), " "))
			if rawText == "" && stdinHasData() {
				text, err := readStdin()
				if err != nil {
					return outputError(errors.NewInternal(err))
				}
				rawText = text
			}
			if rawText == "" {
				return outputError(errors.NewInvalidRequest("raw_text is required (argument or stdin)"))
			}

			input := ops.SubmitInput{
				RawText: rawText,
				Source:  c.String("source"),
			}
			if id := c.String("source-id"); id != "" {
				input.SourceID = &id
			}
			if link := c.String("source-link"); link != "" {
				input.SourceLink = &link
			}

			output, err := ops.Submit(db, input)
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// decideCmd creates the decide command.
func decideCmd(db *sql.DB) *cli.Command {
	return &cli.Command{
		Name:      "decide",
		Usage:     "Approve or reject a proposed capture",
		ArgsUsage: "<capture-id> <approve|reject>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "notes", Usage: "Decision notes"},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() < 2 {
				return outputError(errors.NewInvalidRequest("usage: decide <capture-id> <approve|reject>"))
			}

			input := ops.DecideInput{
				CaptureID: c.Args().Get(0),
				Decision:  ops.Decision(c.Args().Get(1)),
			}
			if notes := c.String("notes"); notes != "" {
				input.Notes = &notes
			}

			output, err := ops.Decide(db, input)
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// clarifyCmd creates the clarify command (manual clarification override).
func clarifyCmd(db *sql.DB) *cli.Command {
	return &cli.Command{
		Name:      "clarify",
		Usage:     "Attach a hand-written clarification (JSON via stdin)",
		ArgsUsage: "<capture-id>",
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return outputError(errors.NewInvalidRequest("capture-id is required"))
			}
			if !stdinHasData() {
				return outputError(errors.NewInvalidRequest("clarify_json must be piped via stdin"))
			}

			clarifyJSON, err := readStdin()
			if err != nil {
				return outputError(errors.NewInternal(err))
			}
			if clarifyJSON == "" {
				return outputError(errors.NewInvalidRequest("clarify_json is required"))
			}

			output, err := ops.AttachClarification(db, ops.AttachClarificationInput{
				CaptureID:   c.Args().First(),
				ClarifyJSON: clarifyJSON,
			})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// getCmd creates the get command.
func getCmd(db *sql.DB) *cli.Command {
	return &cli.Command{
		Name:      "get",
		Usage:     "Fetch a capture by ID",
		ArgsUsage: "<capture-id>",
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return outputError(errors.NewInvalidRequest("capture-id is required"))
			}

			out, err := ops.GetCapture(db, c.Args().First())
			if err != nil {
				return outputError(err)
			}
			return outputJSON(out)
		},
	}
}

// statusCmd creates the status command.
func statusCmd(db *sql.DB) *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Show pipeline counts and pending decisions",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "limit", Value: ops.DefaultListLimit, Usage: "Max proposed captures to list"},
		},
		Action: func(c *cli.Context) error {
			output, err := ops.Status(db, c.Int("limit"))
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// backlogCmd creates the backlog command group.
func backlogCmd(db *sql.DB, cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:  "backlog",
		Usage: "Bulk backlog operations",
		Subcommands: []*cli.Command{
			{
				Name:  "import",
				Usage: "Import a markdown task dump (reads text from stdin)",
				Action: func(c *cli.Context) error {
					if !stdinHasData() {
						return outputError(errors.NewInvalidRequest("backlog text must be piped via stdin"))
					}
					text, err := readStdin()
					if err != nil {
						return outputError(errors.NewInternal(err))
					}

					output, err := backlog.Import(db, backlog.ImportInput{Text: text})
					if err != nil {
						return outputError(err)
					}
					return outputJSON(output)
				},
			},
			{
				Name:  "drain",
				Usage: "Clarify a batch of pending backlog items now",
				Action: func(c *cli.Context) error {
					log := newLogger()
					llmClient, _ := buildClients(cfg, log)
					drainer := backlog.NewDrainer(db, llmClient, cfg, log)

					result, err := drainer.RunOnce(c.Context)
					if err != nil {
						return outputError(err)
					}
					return outputJSON(result)
				},
			},
		},
	}
}

// highlightsCmd creates the highlights command (manual one-shot run).
func highlightsCmd(db *sql.DB, cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:  "highlights",
		Usage: "Select and label today's highlighted tasks now",
		Action: func(c *cli.Context) error {
			log := newLogger()
			_, rtmClient := buildClients(cfg, log)
			auth := newAuthManager(db, rtmClient, log)
			selector := highlightSelector(db, rtmClient, auth, cfg, log)

			result, err := selector.Run(c.Context)
			if err != nil {
				return outputError(err)
			}
			return outputJSON(result)
		},
	}
}

// authCmd creates the auth command (interactive provider authorization).
func authCmd(db *sql.DB, cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:  "auth",
		Usage: "Authorize access to the task provider",
		Action: func(c *cli.Context) error {
			log := newLogger()
			_, rtmClient := buildClients(cfg, log)
			auth := rtm.NewAuthManager(db, rtmClient, log)
			if !rtmClient.Configured() {
				return outputError(errors.NewInvalidRequest("RTM_API_KEY and RTM_SHARED_SECRET must be set"))
			}

			frob, err := rtmClient.GetFrob(c.Context)
			if err != nil {
				return outputError(err)
			}

			fmt.Printf("Open this URL in a browser and authorize access:\n\n  %s\n\n", rtmClient.AuthURL(frob))
			fmt.Print("Press Enter when done... ")
			if _, err := bufio.NewReader(os.Stdin).ReadString('\n'); err != nil && err != io.EOF {
				return outputError(errors.NewInternal(err))
			}

			token, err := rtmClient.GetToken(c.Context, frob)
			if err != nil {
				return outputError(err)
			}
			if err := auth.Store(token); err != nil {
				return outputError(err)
			}

			fmt.Printf("Authorized as %s.\n", token.Username)
			return nil
		},
	}
}

// serveCmd creates the serve command (long-running worker daemon).
func serveCmd(db *sql.DB, cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the capture workers and daily jobs",
		Action: func(c *cli.Context) error {
			return runDaemon(c.Context, db, cfg)
		},
	}
}

// outputJSON prints any value as indented JSON to stdout.
func outputJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputError formats error for CLI.
func outputError(err error) error {
	if inErr, ok := err.(*errors.InflowError); ok {
		return cli.Exit(fmt.Sprintf("[%s] %s", inErr.Code, inErr.Message), 1)
	}
	return cli.Exit(err.Error(), 1)
}

// stdinHasData returns true if stdin has piped data (not a terminal).
func stdinHasData() bool {
	stat, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return (stat.Mode() & os.ModeCharDevice) == 0
}

// readStdin reads all content from stdin.
func readStdin() (string, error) {
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
