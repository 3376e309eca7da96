package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"google.golang.org/api/gmail/v1"

	"kakeibo/internal/cli"
	"kakeibo/internal/core"
	"kakeibo/internal/googleauth"
	"kakeibo/internal/report"
)

// Sends the month's receipt report by mail. The month comes from the
// arguments: none for the current month, "YYYY-MM" (or "YYYY/MM"), or
// separate year and month.
func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger()

	ym, err := yearMonthFromArgs(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid arguments: %v\nusage: monthly-report [YYYY-MM | YYYY MM]\n", err)
		os.Exit(1)
	}

	cfg := cli.LoadAndValidateConfig(logger)
	if cfg.GmailToAddress == "" {
		logger.Error("GMAIL_TO_EMAIL is required to send reports")
		os.Exit(1)
	}

	repo := cli.InitSQLite(logger, cfg.SQLiteDBPath)
	defer repo.Close()

	ctx := context.Background()

	details, err := repo.MonthlyDetails(ctx, ym)
	if err != nil {
		logger.Error("Failed to load month details", "error", err, "year", ym.Year, "month", ym.Month)
		os.Exit(1)
	}

	monthly, err := report.Render(ym, details)
	if err != nil {
		logger.Error("Failed to render report", "error", err)
		os.Exit(1)
	}

	// Print the report locally too, so a failed send is not a lost month.
	fmt.Println(monthly.HTML)

	opt, err := googleauth.ClientOption(ctx, cfg.GoogleOAuthClientFile, cfg.GoogleOAuthTokenFile, gmail.GmailSendScope)
	if err != nil {
		logger.Error("Google authorization failed", "error", err)
		os.Exit(1)
	}

	sender, err := report.NewGmailSender(ctx, opt, cfg.GmailToAddress)
	if err != nil {
		logger.Error("Failed to initialize Gmail sender", "error", err)
		os.Exit(1)
	}

	if err := sender.Send(ctx, monthly.Subject, monthly.HTML); err != nil {
		logger.Error("Failed to send report", "error", err, "to", cfg.GmailToAddress)
		os.Exit(1)
	}

	logger.Info("Monthly report sent",
		"year", ym.Year,
		"month", ym.Month,
		"to", cfg.GmailToAddress,
		"receipts", len(details.Receipts),
		"total", details.Total)
}

func yearMonthFromArgs(args []string) (core.YearMonth, error) {
	now := time.Now()
	ym := core.YearMonth{Year: now.Year(), Month: int(now.Month())}

	switch len(args) {
	case 0:
	case 1:
		parts := strings.FieldsFunc(args[0], func(r rune) bool { return r == '-' || r == '/' })
		if len(parts) != 2 {
			return core.YearMonth{}, fmt.Errorf("expected YYYY-MM or YYYY/MM, got %q", args[0])
		}
		year, err := strconv.Atoi(parts[0])
		if err != nil {
			return core.YearMonth{}, fmt.Errorf("invalid year %q", parts[0])
		}
		month, err := strconv.Atoi(parts[1])
		if err != nil {
			return core.YearMonth{}, fmt.Errorf("invalid month %q", parts[1])
		}
		ym = core.YearMonth{Year: year, Month: month}
	default:
		year, err := strconv.Atoi(args[0])
		if err != nil {
			return core.YearMonth{}, fmt.Errorf("invalid year %q", args[0])
		}
		month, err := strconv.Atoi(args[1])
		if err != nil {
			return core.YearMonth{}, fmt.Errorf("invalid month %q", args[1])
		}
		ym = core.YearMonth{Year: year, Month: month}
	}

	if err := ym.Validate(); err != nil {
		return core.YearMonth{}, err
	}
	return ym, nil
}
