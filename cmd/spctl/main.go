// main.go - Admin control tool for Sitepulse
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"sitepulse/internal"
	"sitepulse/internal/analytics"
	"sitepulse/internal/events"
	"sitepulse/internal/seeder"
	"sitepulse/internal/sites"
	"sitepulse/internal/timeframe"
)

const (
	defaultShutdownTimeout = 30 * time.Second
)

// Command defines the interface for all command implementations
type Command interface {
	// Name returns the command name
	Name() string
	// Description returns the command description
	Description() string
	// Execute runs the command with the given app and args
	Execute(ctx context.Context, app *internal.Application, args []string) error
}

// The set of available commands
var commands = []Command{
	&CreateSiteCommand{},
	&SeedCommand{},
	&MetricsCommand{},
	&FunnelCommand{},
	&StatusCommand{},
	&MigrateCommand{},
	&HelpCommand{},
}

func main() {
	flag.Parse()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sig := <-sigChan
		log.Printf("Received signal: %v, initiating cleanup...", sig)
		cancel()
	}()

	cmdName, args := parseArgs()

	cmd := findCommand(cmdName)
	if cmd == nil {
		showUsageAndExit()
	}

	app, err := internal.NewApp()
	if err != nil {
		log.Printf("Warning: Failed to initialize app: %v", err)
		log.Println("Proceeding with limited functionality...")
	}

	defer func() {
		if app != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
			defer cancel()
			if err := app.Shutdown(shutdownCtx); err != nil {
				log.Printf("Warning: Cleanup error: %v", err)
			}
		}
	}()

	if err := cmd.Execute(ctx, app, args); err != nil {
		log.Fatalf("Command failed: %v", err)
	}

	log.Printf("Command %s completed successfully", cmd.Name())
}

// CreateSiteCommand registers a site and prints its tracking credential
type CreateSiteCommand struct{}

func (c *CreateSiteCommand) Name() string        { return "create-site" }
func (c *CreateSiteCommand) Description() string { return "Registers a site and prints its credential" }

func (c *CreateSiteCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: %s <name> <domain>", c.Name())
	}
	if app == nil {
		return fmt.Errorf("app initialization failed, cannot create site")
	}

	name := args[0]
	domain := args[1]

	credential, err := sites.NewCredential()
	if err != nil {
		return fmt.Errorf("failed to generate credential: %w", err)
	}

	site := &sites.Site{
		Name:       name,
		Domain:     domain,
		Credential: credential,
		CreatedAt:  time.Now().UTC(),
	}
	if err := sites.CreateSite(app.DBManager.GetConnection(), site); err != nil {
		return fmt.Errorf("failed to create site: %w", err)
	}

	fmt.Printf("Site created: %s (%s)\n", site.Name, site.Domain)
	fmt.Printf("Credential: %s\n", site.Credential)
	return nil
}

// SeedCommand populates the DB with sample traffic
type SeedCommand struct{}

func (c *SeedCommand) Name() string        { return "seed" }
func (c *SeedCommand) Description() string { return "Seeds the database with sample events" }

func (c *SeedCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	fs := flag.NewFlagSet("seed", flag.ContinueOnError)
	count := fs.Int("events", 10000, "number of events to generate")
	domain := fs.String("domain", "", "domain to seed (default demo domain)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if app == nil {
		return fmt.Errorf("unable to initialise app")
	}

	se := seeder.NewSeeder(app.DBManager, slog.Default(), *count)
	if *domain != "" {
		return se.SeedDomain(ctx, *domain)
	}
	return se.Run(ctx)
}

// MetricsCommand prints the aggregate metrics snapshot for a window
type MetricsCommand struct{}

func (c *MetricsCommand) Name() string        { return "metrics" }
func (c *MetricsCommand) Description() string { return "Prints the metrics snapshot for a time range" }

func (c *MetricsCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	fs := flag.NewFlagSet("metrics", flag.ContinueOnError)
	credential := fs.String("credential", "", "site credential (all sites if empty)")
	rangeLabel := fs.String("range", string(timeframe.DefaultRangeLabel), "time range label")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if app == nil {
		return fmt.Errorf("app initialization failed, cannot query metrics")
	}

	tf, err := timeframe.FromRangeLabel(timeframe.RangeLabel(*rangeLabel), time.Now())
	if err != nil {
		return err
	}
	params := analytics.QueryParams{TimeFrame: tf, Credential: *credential}

	snapshot, err := analytics.SnapshotForWindow(ctx, app.DBManager.GetConnection(), slog.Default(), params)
	if err != nil {
		return fmt.Errorf("failed to compute metrics: %w", err)
	}

	fmt.Printf("Metrics for %s (%s - %s):\n", tf.Label, tf.From.Format(time.RFC3339), tf.To.Format(time.RFC3339))
	fmt.Printf("- Engagement score:     %d\n", snapshot.EngagementScore)
	fmt.Printf("- Bounce rate:          %.2f%%\n", snapshot.BounceRate)
	fmt.Printf("- Conversion rate:      %.2f%%\n", snapshot.ConversionRate)
	fmt.Printf("- Avg session duration: %.2fs\n", snapshot.AvgSessionDuration)
	fmt.Printf("- Pages per session:    %.2f\n", snapshot.PagesPerSession)
	fmt.Printf("- Return visitor rate:  %.2f%%\n", snapshot.ReturnVisitorRate)
	return nil
}

// FunnelCommand computes a funnel from a YAML definition file
type FunnelCommand struct{}

func (c *FunnelCommand) Name() string        { return "funnel" }
func (c *FunnelCommand) Description() string { return "Computes a funnel from a YAML definition" }

func (c *FunnelCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	fs := flag.NewFlagSet("funnel", flag.ContinueOnError)
	path := fs.String("file", "", "path to the YAML funnel definition")
	credential := fs.String("credential", "", "site credential (all sites if empty)")
	rangeLabel := fs.String("range", string(timeframe.DefaultRangeLabel), "time range label")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *path == "" {
		return fmt.Errorf("usage: %s -file <definition.yml> [-credential ...] [-range ...]", c.Name())
	}

	if app == nil {
		return fmt.Errorf("app initialization failed, cannot compute funnel")
	}

	definition, err := analytics.LoadFunnelDefinition(*path)
	if err != nil {
		return fmt.Errorf("failed to load funnel definition: %w", err)
	}

	tf, err := timeframe.FromRangeLabel(timeframe.RangeLabel(*rangeLabel), time.Now())
	if err != nil {
		return err
	}
	params := analytics.QueryParams{TimeFrame: tf, Credential: *credential}

	results, err := analytics.FunnelForWindow(ctx, app.DBManager.GetConnection(), slog.Default(), params, definition.Stages)
	if err != nil {
		return fmt.Errorf("failed to compute funnel: %w", err)
	}

	fmt.Printf("Funnel %q (%s):\n", definition.Name, tf.Label)
	for i, stage := range results {
		fmt.Printf("%d. %s: %d visitors, %.2f%% conversion, %.2f%% drop-off\n",
			i+1, stage.Stage, stage.Visitors, stage.ConversionRate, stage.DropOffRate)
	}
	return nil
}

// StatusCommand implements a command to check the system status
type StatusCommand struct{}

func (c *StatusCommand) Name() string        { return "status" }
func (c *StatusCommand) Description() string { return "Shows the current system status" }

func (c *StatusCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	if app == nil {
		return fmt.Errorf("cannot check status: app initialization failed")
	}

	db := app.DBManager.GetConnection()

	var siteCount int64
	if err := db.Model(&sites.Site{}).Count(&siteCount).Error; err != nil {
		return fmt.Errorf("database error: %w", err)
	}

	stats, err := events.GetTrackingStats(ctx, db, "")
	if err != nil {
		return fmt.Errorf("failed to read tracking stats: %w", err)
	}

	log.Println("System Status:")
	log.Println("- Database: Connected")
	log.Printf("- Sites: %d", siteCount)
	log.Printf("- Events: %d", stats.TotalEvents)
	log.Printf("- Page views: %d", stats.PageViews)
	log.Printf("- Sessions: %d", stats.UniqueSessions)

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get SQL DB: %w", err)
	}

	log.Printf("- Max Open Connections: %d", sqlDB.Stats().MaxOpenConnections)
	log.Printf("- Open Connections: %d", sqlDB.Stats().OpenConnections)
	return nil
}

// MigrateCommand runs database migrations
type MigrateCommand struct{}

func (c *MigrateCommand) Name() string        { return "migrate" }
func (c *MigrateCommand) Description() string { return "Runs database migrations" }

func (c *MigrateCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	if app == nil {
		return fmt.Errorf("app initialization failed, cannot run migrations")
	}

	log.Println("Running database migrations...")
	if err := app.DBManager.MigrateDatabase(); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	log.Println("Migrations completed successfully")
	return nil
}

// HelpCommand implements a command to show usage information
type HelpCommand struct{}

func (c *HelpCommand) Name() string        { return "help" }
func (c *HelpCommand) Description() string { return "Shows usage information" }

func (c *HelpCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	fmt.Println("Usage: spctl [command] [args...]")
	fmt.Println("Available commands:")

	for _, cmd := range commands {
		fmt.Printf("  %s: %s\n", cmd.Name(), cmd.Description())
	}
	return nil
}

// Helper functions

// parseArgs parses the command name and arguments
func parseArgs() (string, []string) {
	args := os.Args[1:]
	if len(args) == 0 {
		return "help", []string{}
	}
	return args[0], args[1:]
}

// findCommand finds a command by name
func findCommand(name string) Command {
	for _, cmd := range commands {
		if cmd.Name() == name {
			return cmd
		}
	}
	return nil
}

// showUsageAndExit shows usage information and exits
func showUsageAndExit() {
	fmt.Println("Usage: spctl [command] [args...]")
	fmt.Println("Available commands:")

	for _, cmd := range commands {
		fmt.Printf("  %s: %s\n", cmd.Name(), cmd.Description())
	}

	os.Exit(1)
}
