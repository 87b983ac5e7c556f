// Command migrate provisions storage for the expense approvals service.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/alecthomas/kingpin/v2"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"

	"github.com/pesio-ai/be-expense-approvals/internal/config"
	"github.com/pesio-ai/be-expense-approvals/internal/database"
	"github.com/pesio-ai/be-expense-approvals/internal/logger"
	"github.com/pesio-ai/be-expense-approvals/internal/repository"
)

// Version is provided at compile time
var Version = "dev"

func main() {
	app := kingpin.New("migrate", "Provision storage for the expense approvals service")
	app.Version(Version)
	timeout := app.Flag("timeout", "Overall timeout").Default("2m").Duration()

	upCmd := app.Command("up", "Apply the Postgres schema")
	printCmd := app.Command("print", "Print the Postgres schema")
	tableCmd := app.Command("dynamodb-table", "Create the DynamoDB expense table")
	tableName := tableCmd.Flag("table", "Table name (defaults to DYNAMODB_TABLE)").String()
	region := tableCmd.Flag("region", "AWS region (defaults to AWS_REGION)").String()
	wait := tableCmd.Flag("wait", "Wait for the table to become ACTIVE").Default("true").Bool()

	cmd := kingpin.MustParse(app.Parse(os.Args[1:]))

	if cmd == printCmd.FullCommand() {
		fmt.Print(database.Schema())
		return
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(logger.Config{
		Level:       cfg.LogLevel,
		Environment: cfg.Service.Environment,
		ServiceName: "migrate",
		Version:     Version,
	})

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	switch cmd {
	case upCmd.FullCommand():
		err = migrateUp(ctx, cfg, log)
	case tableCmd.FullCommand():
		if *tableName == "" {
			*tableName = cfg.Storage.DynamoDBTable
		}
		if *region == "" {
			*region = cfg.Storage.AWSRegion
		}
		maxWait := time.Duration(0)
		if *wait {
			maxWait = *timeout
		}
		err = createTable(ctx, *tableName, *region, maxWait, log)
	}
	if err != nil {
		log.Fatal().Err(err).Str("command", cmd).Msg("Migration failed")
	}
}

func migrateUp(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	db, err := database.New(ctx, database.Config{DSN: cfg.Database.DSN(), MaxConns: 1})
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.Migrate(ctx); err != nil {
		return err
	}
	log.Info().Str("database", cfg.Database.Database).Msg("Schema applied")
	return nil
}

func createTable(ctx context.Context, table, region string, maxWait time.Duration, log *logger.Logger) error {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return fmt.Errorf("load AWS config: %w", err)
	}

	created, err := repository.CreateExpenseTable(ctx, awsCfg, table, maxWait)
	if err != nil {
		return err
	}
	log.Info().Str("table", table).Bool("created", created).Msg("DynamoDB expense table ready")
	return nil
}
