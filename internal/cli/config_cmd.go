package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Dicklesworthstone/keepalive/internal/config"
)

func newConfigCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the keepalive configuration",
	}
	cmd.AddCommand(
		newConfigInitCmd(root),
		newConfigPathCmd(root),
		newConfigShowCmd(root),
		newConfigValidateCmd(root),
	)
	return cmd
}

func configPath(root *rootOptions) string {
	if root.configPath != "" {
		return root.configPath
	}
	return config.DefaultPath()
}

func newConfigInitCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write the default configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := config.CreateDefault(configPath(root))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created %s\n", path)
			return nil
		},
	}
}

func newConfigPathCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the configuration file path",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), configPath(root))
			return nil
		},
	}
}

func newConfigShowCmd(root *rootOptions) *cobra.Command {
	var withProfile bool
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration as TOML",
		Long: `Print the configuration keepalive would run with: defaults, then the
config file, then environment overrides. With --profile the project profile
in the current directory is applied too.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := root.loadConfig()
			if err != nil {
				return err
			}
			if withProfile {
				cwd, err := os.Getwd()
				if err != nil {
					return err
				}
				p, _, err := config.LoadProfile(cwd)
				if err != nil {
					return err
				}
				if p != nil {
					config.ApplyProfile(cfg, p)
				}
			}
			return config.Print(cfg, cmd.OutOrStdout())
		},
	}
	cmd.Flags().BoolVar(&withProfile, "profile", false, "Apply the project profile from the current directory")
	return cmd
}

func newConfigValidateCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the configuration and project profile",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, path, err := root.loadConfig()
			if err != nil {
				return err
			}
			cwd, err := os.Getwd()
			if err != nil {
				return err
			}
			p, profilePath, err := config.LoadProfile(cwd)
			if err != nil {
				return err
			}
			if p != nil {
				config.ApplyProfile(cfg, p)
			}
			if errs := config.Validate(cfg); len(errs) > 0 {
				return joinConfigErrors(errs)
			}

			out := cmd.OutOrStdout()
			if _, err := os.Stat(path); err == nil {
				fmt.Fprintf(out, "%s: ok\n", path)
			} else {
				fmt.Fprintf(out, "%s: not found, defaults ok\n", path)
			}
			if profilePath != "" {
				fmt.Fprintf(out, "%s: ok\n", profilePath)
			}
			return nil
		},
	}
}
