// Command agentrelay runs multi-agent orchestrations from the command line.
//
//	agentrelay ask "Who leads the platform team?" --agent people_lookup --agent knowledge_finder
//	agentrelay ask --template people_focused "Who can approve travel?"
//	agentrelay chat
//	agentrelay sessions list
//	agentrelay sessions expire --max-age 72h
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/session"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	exitOnErr(newRootCmd().ExecuteContext(ctx))
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "agentrelay",
		Short:         "Route messages to expert agents and combine their answers",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to the YAML configuration file")

	root.AddCommand(
		newAskCmd(&configPath),
		newChatCmd(&configPath),
		newTemplatesCmd(&configPath),
		newSessionsCmd(&configPath),
	)
	return root
}

func withApp(cmd *cobra.Command, configPath string, fn func(a *app) error) error {
	a, err := newApp(cmd.Context(), configPath)
	if err != nil {
		return err
	}
	return errors.Join(fn(a), a.close())
}

func newAskCmd(configPath *string) *cobra.Command {
	var (
		req      core.Request
		template string
		asJSON   bool
	)

	cmd := &cobra.Command{
		Use:   "ask [message]",
		Short: "Run one orchestration and print the answer",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.Message = strings.Join(args, " ")
			return withApp(cmd, *configPath, func(a *app) error {
				var (
					res *core.WorkflowResult
					err error
				)
				if template != "" {
					res, err = a.relay.ExecuteTemplate(cmd.Context(), template, req.Message, req.SessionID)
				} else {
					res, err = a.relay.Execute(cmd.Context(), req)
				}
				if res == nil {
					return err
				}
				if printErr := printResult(cmd.OutOrStdout(), res, asJSON); printErr != nil {
					return errors.Join(err, printErr)
				}
				return err
			})
		},
	}

	f := cmd.Flags()
	f.StringVarP(&req.SessionID, "session", "s", "", "continue an existing session")
	f.StringSliceVarP(&req.Agents, "agent", "a", nil, "agents to ask (repeatable); omit to let the router decide")
	f.BoolVar(&req.EnableMemory, "memory", false, "use memory-enabled agent variants")
	f.BoolVar(&req.DisableSynthesis, "no-synthesis", false, "concatenate answers instead of synthesizing")
	f.DurationVar(&req.AgentTimeout, "agent-timeout", 0, "per-agent deadline override")
	f.StringVarP(&template, "template", "t", "", "run a group chat template")
	f.BoolVar(&asJSON, "json", false, "print the full workflow result as JSON")
	return cmd
}

func newChatCmd(configPath *string) *cobra.Command {
	var (
		sessionID string
		agents    []string
	)

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive session",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, *configPath, func(a *app) error {
				ctx, cancel := context.WithCancel(cmd.Context())
				defer cancel()

				janitorDone := session.StartJanitor(ctx, a.store, a.cfg.Store.MaxAge, func(o *session.JanitorOptions) {
					o.Interval = a.cfg.Store.JanitorInterval
					o.Logger = a.logger
					o.OnExpired = func(int) {
						if n := a.memory.Expire(a.cfg.Store.MaxAge); n > 0 {
							a.logger.Debug("memory.expired", "count", n)
						}
					}
				})
				defer func() {
					cancel()
					<-janitorDone
				}()

				return chatLoop(ctx, a, cmd.InOrStdin(), cmd.OutOrStdout(), sessionID, agents)
			})
		},
	}
	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "continue an existing session")
	cmd.Flags().StringSliceVarP(&agents, "agent", "a", nil, "agents to ask on every turn")
	return cmd
}

// chatLoop reads one message per line until EOF or "/quit".
func chatLoop(ctx context.Context, a *app, in io.Reader, out io.Writer, sessionID string, agents []string) error {
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case line == "/quit":
			return nil
		case strings.HasPrefix(line, "/remember "):
			key, value, ok := strings.Cut(strings.TrimPrefix(line, "/remember "), "=")
			if !ok || sessionID == "" {
				fmt.Fprintln(out, "usage: /remember key=value (after the first message)")
				continue
			}
			if err := a.relay.Remember(ctx, sessionID, strings.TrimSpace(key), strings.TrimSpace(value)); err != nil {
				return err
			}
			continue
		}

		res, err := a.relay.Execute(ctx, core.Request{Message: line, SessionID: sessionID, Agents: agents})
		if res == nil {
			return err
		}
		sessionID = res.SessionID
		fmt.Fprintln(out, res.Content)
		if err != nil {
			fmt.Fprintf(out, "(%s: %v)\n", res.Status, err)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

func newTemplatesCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "templates",
		Short: "List group chat templates",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, *configPath, func(a *app) error {
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "NAME\tAGENTS\tSYNTHESIS\tTIMEOUT")
				for _, t := range a.relay.Templates() {
					fmt.Fprintf(w, "%s\t%s\t%t\t%s\n", t.Name, strings.Join(t.Agents, ","), t.Synthesis, t.AgentTimeout)
				}
				return w.Flush()
			})
		},
	}
}

func newSessionsCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect and maintain stored sessions",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List sessions, most recently used first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, *configPath, func(a *app) error {
				infos, err := a.relay.Sessions(cmd.Context())
				if err != nil {
					return err
				}
				return printSessions(cmd.OutOrStdout(), infos)
			})
		},
	}

	show := &cobra.Command{
		Use:   "show [session-id]",
		Short: "Print the turns of a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, *configPath, func(a *app) error {
				turns, err := a.relay.History(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				for _, t := range turns {
					fmt.Fprintf(cmd.OutOrStdout(), "[%d] %s: %s\n", t.Index, t.Speaker, t.Content)
				}
				return nil
			})
		},
	}

	del := &cobra.Command{
		Use:   "delete [session-id]",
		Short: "Delete a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, *configPath, func(a *app) error {
				return a.relay.DeleteSession(cmd.Context(), args[0])
			})
		},
	}

	var maxAge time.Duration
	expire := &cobra.Command{
		Use:   "expire",
		Short: "Remove sessions idle for longer than --max-age",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, *configPath, func(a *app) error {
				age := maxAge
				if age <= 0 {
					age = a.cfg.Store.MaxAge
				}
				n, err := a.store.Expire(cmd.Context(), age)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "expired %d session(s)\n", n)
				return nil
			})
		},
	}
	expire.Flags().DurationVar(&maxAge, "max-age", 0, "idle time after which a session expires (defaults to store.max_age)")

	cmd.AddCommand(list, show, del, expire)
	return cmd
}

func printResult(w io.Writer, res *core.WorkflowResult, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	fmt.Fprintln(w, res.Content)
	fmt.Fprintf(w, "\nsession: %s  status: %s  agents: %s", res.SessionID, res.Status, strings.Join(res.ParticipatingAgents, ","))
	if len(res.FailedAgents) > 0 {
		fmt.Fprintf(w, "  failed: %s", strings.Join(res.FailedAgents, ","))
	}
	_, err := fmt.Fprintln(w)
	return err
}

func printSessions(w io.Writer, infos []core.SessionInfo) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTURNS\tCREATED\tLAST ACCESSED")
	for _, s := range infos {
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", s.ID, s.TurnCount, s.Created.Format(time.RFC3339), s.LastAccessed.Format(time.RFC3339))
	}
	return tw.Flush()
}
