package admin

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/readstack/librarian/internal/config"
	"github.com/readstack/librarian/internal/database"
	"github.com/readstack/librarian/internal/repository"
	"github.com/readstack/librarian/internal/service"
	"github.com/spf13/cobra"
)

func AccountCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "account",
		Short: "Manage accounts",
		Long:  "Create and list document owner accounts",
	}

	cmd.AddCommand(AccountCreateCmd())
	cmd.AddCommand(AccountListCmd())

	return cmd
}

func AccountCreateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a new account",
		Long:  "Create a new account and print its API key. The key is shown once and only its hash is stored.",
		Args:  cobra.ExactArgs(1),
		RunE:  runAccountCreate,
	}

	cmd.Flags().StringP("output", "o", "text", "Output format (text or json)")

	return cmd
}

func runAccountCreate(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	name := args[0]
	outputFormat, _ := cmd.Flags().GetString("output")

	pool, err := getDBPool(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	accountRepo := repository.NewAccountRepository(pool)
	authSvc := service.NewAuthService(accountRepo, &service.DefaultUUIDGenerator{})

	account, token, err := authSvc.CreateAccount(ctx, name)
	if err != nil {
		return fmt.Errorf("failed to create account: %w", err)
	}

	if outputFormat == "json" {
		data := map[string]interface{}{
			"id":         account.ID,
			"name":       account.Name,
			"api_key":    token,
			"created_at": account.CreatedAt,
		}
		jsonBytes, _ := json.MarshalIndent(data, "", "  ")
		fmt.Println(string(jsonBytes))
	} else {
		fmt.Printf("Account created: %s (%s)\n", account.Name, account.ID)
		fmt.Printf("API key (shown once): %s\n", token)
	}

	return nil
}

func AccountListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List all accounts",
		Long:  "List all accounts in the system",
		RunE: func(cmd *cobra.Command, args []string) error {
			outputFormat, _ := cmd.Flags().GetString("output")
			return runAccountList(outputFormat)
		},
	}

	cmd.Flags().StringP("output", "o", "text", "Output format (text or json)")

	return cmd
}

func runAccountList(outputFormat string) error {
	ctx := context.Background()

	pool, err := getDBPool(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	accountRepo := repository.NewAccountRepository(pool)

	accounts, err := accountRepo.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list accounts: %w", err)
	}

	if outputFormat == "json" {
		data := make([]map[string]interface{}, len(accounts))
		for i, account := range accounts {
			data[i] = map[string]interface{}{
				"id":         account.ID,
				"name":       account.Name,
				"created_at": account.CreatedAt,
			}
		}
		jsonBytes, _ := json.MarshalIndent(data, "", "  ")
		fmt.Println(string(jsonBytes))
	} else {
		if len(accounts) == 0 {
			fmt.Println("No accounts found")
			return nil
		}
		fmt.Println("Accounts:")
		for _, account := range accounts {
			fmt.Printf("  %s: %s (created: %s)\n", account.ID, account.Name, account.CreatedAt.Format("2006-01-02 15:04:05"))
		}
	}

	return nil
}

func getDBPool(ctx context.Context) (*pgxpool.Pool, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return database.NewPool(ctx, database.Config{URL: cfg.DatabaseURL})
}
