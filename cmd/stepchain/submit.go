package main

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

func (c *cli) submitCmd() *cobra.Command {
	var subs map[string]string

	cmd := &cobra.Command{
		Use:   "submit <build.yaml>",
		Short: "Send a build document to a running server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read build file: %w", err)
			}

			b := c.cfg.Build
			q := url.Values{}
			for k, v := range map[string]string{
				"project_id":   b.ProjectID,
				"commit_sha":   b.CommitSHA,
				"branch_name":  b.BranchName,
				"tag_name":     b.TagName,
				"repo_name":    b.RepoName,
				"trigger_id":   b.TriggerID,
				"trigger_name": b.TriggerName,
			} {
				if v != "" {
					q.Set(k, v)
				}
			}
			keys := make([]string, 0, len(subs))
			for k := range subs {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				q.Add("sub", k+"="+subs[k])
			}

			endpoint := strings.TrimRight(c.cfg.Server.URL, "/") + "/builds"
			if len(q) > 0 {
				endpoint += "?" + q.Encode()
			}

			req, err := http.NewRequestWithContext(cmd.Context(), http.MethodPost, endpoint, bytes.NewReader(data))
			if err != nil {
				return err
			}
			req.Header.Set("Content-Type", "application/x-yaml")

			client := &http.Client{Timeout: 30 * time.Second}
			resp, err := client.Do(req)
			if err != nil {
				return fmt.Errorf("send build: %w", err)
			}
			defer resp.Body.Close()

			body, _ := io.ReadAll(resp.Body)
			if resp.StatusCode != http.StatusAccepted {
				return fmt.Errorf("server rejected build (%s): %s", resp.Status, strings.TrimSpace(string(body)))
			}
			fmt.Fprintln(cmd.OutOrStdout(), strings.TrimSpace(string(body)))
			return nil
		},
	}
	cmd.Flags().StringToStringVar(&subs, "substitutions", nil, "user substitutions, KEY=VALUE,...")
	cmd.Flags().String("server", "http://localhost:8080", "server base URL")
	_ = c.v.BindPFlag("server.url", cmd.Flags().Lookup("server"))
	return cmd
}
