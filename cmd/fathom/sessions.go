package main

import (
	"fmt"

	"github.com/fathom-agent/fathom/pkg/session"
)

// SessionsCmd manages stored research sessions.
type SessionsCmd struct {
	List   SessionsListCmd   `cmd:"" default:"1" help:"List stored sessions."`
	Delete SessionsDeleteCmd `cmd:"" help:"Delete a stored session."`
}

type SessionsListCmd struct{}

func (c *SessionsListCmd) Run(cli *CLI) error {
	cfg, err := cli.loadConfig()
	if err != nil {
		return err
	}

	store := session.NewStore(cfg.Paths.SessionsDir, 0)
	summaries, err := store.List()
	if err != nil {
		return err
	}
	if len(summaries) == 0 {
		fmt.Println("No sessions found.")
		return nil
	}

	fmt.Printf("%-24s %-24s %-12s %-10s %s\n", "SESSION", "BATCH", "STATUS", "ARTIFACTS", "UPDATED")
	for _, s := range summaries {
		status := string(s.Status)
		if status == "" {
			status = "corrupt"
		}
		fmt.Printf("%-24s %-24s %-12s %-10d %s\n",
			s.SessionID, s.BatchID, status, s.Artifacts, s.UpdatedAt.Format("2006-01-02 15:04:05"))
	}
	return nil
}

type SessionsDeleteCmd struct {
	Session string `arg:"" help:"Session id to delete."`
}

func (c *SessionsDeleteCmd) Run(cli *CLI) error {
	cfg, err := cli.loadConfig()
	if err != nil {
		return err
	}

	store := session.NewStore(cfg.Paths.SessionsDir, 0)
	if err := store.Delete(c.Session); err != nil {
		return err
	}
	fmt.Printf("Deleted session %s\n", c.Session)
	return nil
}
