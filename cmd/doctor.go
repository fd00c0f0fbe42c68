package cmd

import (
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/kirogate/internal/accounts"
	"github.com/nextlevelbuilder/kirogate/internal/config"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check configuration and credential health",
		Run: func(cmd *cobra.Command, args []string) {
			runDoctor()
		},
	}
}

func runDoctor() {
	fmt.Println("kirogate doctor")
	fmt.Printf("  Version:  %s\n", Version)
	fmt.Printf("  OS:       %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  Go:       %s\n", runtime.Version())
	fmt.Println()

	cfgPath := resolveConfigPath()
	fmt.Printf("  Config:   %s", cfgPath)
	if _, err := os.Stat(cfgPath); err != nil {
		fmt.Println(" (NOT FOUND, using defaults)")
	} else {
		fmt.Println(" (OK)")
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Printf("  Config load error: %s\n", err)
		return
	}

	fmt.Println()
	fmt.Println("  Server:")
	fmt.Printf("    %-12s %s\n", "Listen:", cfg.Addr())
	checkSecret("API key", cfg.Auth.APIKey)
	checkSecret("Admin key", cfg.Auth.AdminKey)

	fmt.Println()
	fmt.Println("  Upstream:")
	fmt.Printf("    %-12s %s\n", "Region:", cfg.Upstream.Region)
	fmt.Printf("    %-12s %s\n", "Version:", cfg.Upstream.KiroVersion)
	if cfg.Upstream.ProxyURL != "" {
		fmt.Printf("    %-12s %s\n", "Proxy:", cfg.Upstream.ProxyURL)
	}

	fmt.Println()
	fmt.Println("  Accounts:")
	fmt.Printf("    %-12s %s\n", "Strategy:", cfg.Pool.Strategy)
	fmt.Printf("    %-12s %s\n", "Compat:", cfg.Pool.CompatMode)
	if cfg.Pool.SharedAccountsFile == "" {
		fmt.Printf("    %-12s (not configured)\n", "Shared file:")
	} else {
		checkSharedFile(cfg.Pool.SharedAccountsFile, cfg.Upstream.Region)
	}

	fmt.Println()
	fmt.Printf("  Database:  %s", cfg.Database.Path)
	if _, err := os.Stat(cfg.Database.Path); err != nil {
		fmt.Println(" (will be created)")
	} else {
		fmt.Println(" (OK)")
	}

	fmt.Println()
	fmt.Println("Doctor check complete.")
}

func checkSecret(name, value string) {
	if value == "" {
		fmt.Printf("    %-12s (not configured)\n", name+":")
		return
	}
	masked := value
	if len(masked) > 8 {
		masked = masked[:4] + strings.Repeat("*", len(masked)-8) + masked[len(masked)-4:]
	} else {
		masked = strings.Repeat("*", len(masked))
	}
	fmt.Printf("    %-12s %s\n", name+":", masked)
}

func checkSharedFile(path, region string) {
	fmt.Printf("    %-12s %s", "Shared file:", path)
	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Println(" (NOT FOUND)")
		return
	}
	fmt.Println(" (OK)")

	parsed, err := accounts.ParseSharedFile(data, region)
	if err != nil {
		fmt.Printf("    %-12s PARSE FAILED (%s)\n", "Entries:", err)
		return
	}
	active := 0
	for _, acc := range parsed {
		if acc.Selectable() {
			active++
		}
	}
	fmt.Printf("    %-12s %d total, %d usable\n", "Entries:", len(parsed), active)
}
