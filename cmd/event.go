package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"

	auditPostgres "github.com/frahmantamala/cash-advance/internal/audit/postgres"
	"github.com/frahmantamala/cash-advance/internal/core/events"
	"github.com/spf13/cobra"
)

var eventCmd = &cobra.Command{
	Use:   "event",
	Short: "Workflow event commands",
	Long:  `Inspect workflow event types and the audit trail they produce`,
}

var listEventTypesCmd = &cobra.Command{
	Use:   "types",
	Short: "List workflow event types recorded in the audit trail",
	Run: func(cmd *cobra.Command, args []string) {
		for _, t := range events.WorkflowEventTypes {
			fmt.Println(t)
		}
	},
}

var eventHistoryCmd = &cobra.Command{
	Use:   "history [request-id]",
	Short: "Print the recorded audit trail of a request",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig(configPath)
		if err != nil {
			log.Fatalf("failed to load config: %v", err)
		}

		sqlDB, err := initDB(cfg.Database)
		if err != nil {
			log.Fatalf("failed to init db: %v", err)
		}
		defer sqlDB.Close()

		db, err := initGorm(sqlDB)
		if err != nil {
			log.Fatalf("failed to init gorm: %v", err)
		}

		entries, err := auditPostgres.NewEntryRepository(db).ListByRequest(context.Background(), args[0])
		if err != nil {
			log.Fatalf("failed to load history: %v", err)
		}
		if len(entries) == 0 {
			fmt.Printf("no audit entries for request %s\n", args[0])
			return
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(entries); err != nil {
			log.Fatalf("failed to print history: %v", err)
		}
	},
}

func init() {
	eventCmd.AddCommand(listEventTypesCmd)
	eventCmd.AddCommand(eventHistoryCmd)
}
