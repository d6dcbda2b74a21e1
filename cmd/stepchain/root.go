package main

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"stepchain/internal/config"
)

type cli struct {
	v       *viper.Viper
	cfgFile string
	cfg     *config.Config
}

func newCLI() *cli {
	return &cli{v: viper.New()}
}

// rootCommand builds the command tree. Flags are bound to viper keys so a
// flag, a STEPCHAIN_* variable or the config file can set each value.
func (c *cli) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "stepchain",
		Short:         "Run build, push and deploy pipelines step by step",
		Long:          "stepchain runs a declarative build document one step at a time, stops at the first failure and records every step in a signed ledger.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(c.v, c.cfgFile)
			if err != nil {
				return err
			}
			c.cfg = cfg
			return nil
		},
	}
	root.CompletionOptions.DisableDefaultCmd = true

	pf := root.PersistentFlags()
	pf.StringVar(&c.cfgFile, "config", "", "config file (default is ./stepchain.yaml or $HOME/.stepchain/stepchain.yaml)")
	pf.String("log-level", "info", "log level: debug, info, warn, error")
	pf.String("log-format", "console", "log format: console or json")
	pf.String("executor", config.ExecutorProcess, "step executor: process or docker")
	pf.String("workspace", ".", "directory steps run in (mounted at /workspace for docker)")
	pf.String("logs-dir", "./logs", "directory for step logs")
	pf.String("ledger", "./ledger.jsonl", "ledger file; empty disables the ledger")
	pf.String("keys-dir", "./keys", "directory holding the ledger signing keys")
	pf.String("project-id", "", "value of $PROJECT_ID")
	pf.String("location", "", "value of $LOCATION")
	pf.String("commit-sha", "", "value of $COMMIT_SHA (also sets $SHORT_SHA and $REVISION_ID)")
	pf.String("branch-name", "", "value of $BRANCH_NAME")
	pf.String("tag-name", "", "value of $TAG_NAME")
	pf.String("repo-name", "", "value of $REPO_NAME")
	pf.String("trigger-id", "", "value of $TRIGGER_ID")
	pf.String("trigger-name", "", "value of $TRIGGER_NAME")

	for key, flag := range map[string]string{
		"log.level":          "log-level",
		"log.format":         "log-format",
		"executor":           "executor",
		"workspace":          "workspace",
		"logs_dir":           "logs-dir",
		"ledger":             "ledger",
		"keys_dir":           "keys-dir",
		"build.project_id":   "project-id",
		"build.location":     "location",
		"build.commit_sha":   "commit-sha",
		"build.branch_name":  "branch-name",
		"build.tag_name":     "tag-name",
		"build.repo_name":    "repo-name",
		"build.trigger_id":   "trigger-id",
		"build.trigger_name": "trigger-name",
	} {
		_ = c.v.BindPFlag(key, pf.Lookup(flag))
	}

	root.AddCommand(
		c.runCmd(),
		c.validateCmd(),
		c.serveCmd(),
		c.submitCmd(),
		c.ledgerCmd(),
		c.keygenCmd(),
	)
	return root
}
