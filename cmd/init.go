package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/kirogate/internal/config"
)

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Interactive setup: write a config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit()
		},
	}
}

func runInit() error {
	cfgPath := resolveConfigPath()
	if _, err := os.Stat(cfgPath); err == nil {
		var overwrite bool
		confirm := huh.NewConfirm().
			Title(fmt.Sprintf("%s already exists. Overwrite?", cfgPath)).
			Value(&overwrite)
		if err := confirm.Run(); err != nil {
			return err
		}
		if !overwrite {
			fmt.Println("Aborted.")
			return nil
		}
	}

	cfg := config.Default()
	port := strconv.Itoa(cfg.Server.Port)
	sharedFile := cfg.Pool.SharedAccountsFile

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Listen port").
				Value(&port).
				Validate(func(s string) error {
					n, err := strconv.Atoi(s)
					if err != nil || n <= 0 || n >= 65536 {
						return fmt.Errorf("port must be 1-65535")
					}
					return nil
				}),
			huh.NewInput().
				Title("API key (empty disables auth)").
				Value(&cfg.Auth.APIKey),
			huh.NewInput().
				Title("Admin API key").
				Value(&cfg.Auth.AdminKey),
		),
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Upstream region").
				Options(
					huh.NewOption("us-east-1", "us-east-1"),
					huh.NewOption("eu-west-1", "eu-west-1"),
					huh.NewOption("ap-southeast-1", "ap-southeast-1"),
				).
				Value(&cfg.Upstream.Region),
			huh.NewInput().
				Title("Shared accounts file (empty for local accounts)").
				Value(&sharedFile),
			huh.NewSelect[string]().
				Title("Compatibility mode").
				Description("How aggressively to degrade requests the upstream rejects").
				Options(
					huh.NewOption("strict: never drop tools", "strict"),
					huh.NewOption("balanced: drop tools, trim history", "balanced"),
					huh.NewOption("relaxed: degrade down to a single turn", "relaxed"),
				).
				Value(&cfg.Pool.CompatMode),
		),
	)
	if err := form.Run(); err != nil {
		return err
	}

	cfg.Server.Port, _ = strconv.Atoi(port)
	cfg.Pool.SharedAccountsFile = sharedFile

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.WriteFile(cfgPath, append(data, '\n'), 0600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	fmt.Printf("Wrote %s\n", cfgPath)
	fmt.Println("Start the proxy with:  kirogate serve")
	return nil
}
