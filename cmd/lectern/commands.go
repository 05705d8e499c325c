package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lectern/lectern/internal/config"
)

// --- ask ---

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask a question about the course materials",
	Long: `Ask a question about the course materials.

Examples:
  lectern ask "What is covered in lesson 2 of the MCP course?"
  lectern ask --session 3f2a... "And the lesson after that?"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		query := strings.Join(args, " ")
		session, _ := cmd.Flags().GetString("session")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/api/query", map[string]any{
			"query":      query,
			"session_id": session,
		})
		if err != nil {
			return err
		}

		var result struct {
			Answer  string `json:"answer"`
			Sources []struct {
				Text string `json:"text"`
				URL  string `json:"url"`
			} `json:"sources"`
			SessionID string `json:"session_id"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		fmt.Println(result.Answer)

		if len(result.Sources) > 0 {
			fmt.Printf("\n%s\n", colorize(colorBold, "Sources:"))
			for _, s := range result.Sources {
				if s.URL != "" {
					fmt.Printf("  - %s (%s)\n", s.Text, s.URL)
				} else {
					fmt.Printf("  - %s\n", s.Text)
				}
			}
		}

		printStep("Continue with: lectern ask --session %s <question>", result.SessionID)
		return nil
	},
}

func init() {
	askCmd.Flags().String("session", "", "session id to continue a conversation")
}

// --- ingest ---

var ingestCmd = &cobra.Command{
	Use:   "ingest <path>",
	Short: "Queue course documents for ingestion",
	Long: `Queue course documents for ingestion.

The path may be a single .txt or .pdf course document or a folder of
them. The server parses, chunks, and embeds each document in the
background.

Examples:
  lectern ingest ./docs
  lectern ingest ./docs/advanced_retrieval.txt`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		// The server resolves paths against its own working directory,
		// so send an absolute one.
		path, err := filepath.Abs(args[0])
		if err != nil {
			return err
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/api/documents", map[string]any{"path": path})
		if err != nil {
			return err
		}

		var result struct {
			JobIDs []string `json:"job_ids"`
			Status string   `json:"status"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		if len(result.JobIDs) == 0 {
			printWarning("No ingestible documents found at %s", path)
			return nil
		}
		printSuccess("Queued %d document(s)", len(result.JobIDs))
		return nil
	},
}

// --- courses ---

var coursesCmd = &cobra.Command{
	Use:   "courses",
	Short: "List ingested courses",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/api/courses")
		if err != nil {
			return err
		}

		var stats struct {
			TotalCourses int      `json:"total_courses"`
			CourseTitles []string `json:"course_titles"`
		}
		if err := decodeJSON(resp, &stats); err != nil {
			return err
		}

		if stats.TotalCourses == 0 {
			fmt.Println("No courses ingested yet.")
			return nil
		}

		fmt.Printf("%s (%d)\n", colorize(colorBold, "Courses"), stats.TotalCourses)
		for _, title := range stats.CourseTitles {
			fmt.Printf("  - %s\n", title)
		}
		return nil
	},
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Show one configuration value",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		for _, k := range config.ShowAll(cfg) {
			if k.Key == args[0] {
				fmt.Println(k.Value)
				return nil
			}
		}
		return fmt.Errorf("unknown config key: %q", args[0])
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all configuration values",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		for _, k := range config.ShowAll(cfg) {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

func init() {
	configCmd.AddCommand(configGetCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configListCmd)
}
