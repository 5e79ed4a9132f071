package main

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/suraboy/weather-insight/internal/config"
)

func init() {
	rootCmd.AddCommand(setupCmd)
}

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Interactive setup wizard",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		out := cmd.OutOrStdout()
		scanner := bufio.NewScanner(cmd.InOrStdin())

		fmt.Fprintln(out, "Weather Agent setup")
		fmt.Fprintln(out, "Press Enter to accept the default value shown in brackets.")
		fmt.Fprintln(out)

		cfg.LLM.Provider = strings.ToLower(prompt(scanner, out, "Model provider (openai, gemini)", cfg.LLM.Provider))
		if cfg.LLM.Provider == "gemini" {
			cfg.Gemini.APIKey = prompt(scanner, out, "Gemini API key", cfg.Gemini.APIKey)
			cfg.Gemini.Model = prompt(scanner, out, "Gemini model", cfg.Gemini.Model)
		} else {
			cfg.LLM.BaseURL = prompt(scanner, out, "LLM base URL", cfg.LLM.BaseURL)
			cfg.LLM.APIKey = prompt(scanner, out, "LLM API key", cfg.LLM.APIKey)
			cfg.LLM.Model = prompt(scanner, out, "LLM model name", cfg.LLM.Model)
		}
		cfg.HTTP.AppURL = prompt(scanner, out, "Weather app URL", cfg.HTTP.AppURL)
		cfg.Telegram.Token = prompt(scanner, out, "Telegram bot token (optional)", cfg.Telegram.Token)

		if err := cfg.Validate(); err != nil {
			return err
		}
		if err := config.Save(cfgPath, cfg); err != nil {
			return fmt.Errorf("save config: %w", err)
		}

		fmt.Fprintln(out)
		fmt.Fprintln(out, "Configuration saved to", cfgPath)
		return nil
	},
}

// prompt displays a labeled prompt with a default value and reads user input.
// If the user enters nothing, the default is returned.
func prompt(scanner *bufio.Scanner, out io.Writer, label, defaultVal string) string {
	if defaultVal != "" {
		fmt.Fprintf(out, "%s [%s]: ", label, defaultVal)
	} else {
		fmt.Fprintf(out, "%s: ", label)
	}
	if scanner.Scan() {
		if input := strings.TrimSpace(scanner.Text()); input != "" {
			return input
		}
	}
	return defaultVal
}
