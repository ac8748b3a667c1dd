// cmd/backtest replays candle history from SQLite through the indicator
// engine and the orchestrator against a paper exchange.
//
// Usage:
//
//	go run ./cmd/backtest -db=data/sniper.db -symbol=ETH/USDT -capital=1000 -speed=0
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/shopspring/decimal"

	"sniperbot/internal/backtest"
	"sniperbot/internal/logger"
	sqlitestore "sniperbot/internal/store/sqlite"
)

func main() {
	dbPath := flag.String("db", "data/sniper.db", "Path to SQLite database")
	symbol := flag.String("symbol", "ETH/USDT", "Symbol to replay")
	capital := flag.String("capital", "1000", "Starting paper balance")
	risk := flag.String("risk", "0.02", "Fraction of balance risked per trade")
	slippage := flag.Float64("slippage-bps", 5, "Simulated slippage in basis points")
	speed := flag.Float64("speed", 0, "Playback speed multiplier (0=max, 1=realtime, 100=100x)")
	from := flag.Int64("from", 0, "Unix timestamp to start replay after (0=all)")
	asJSON := flag.Bool("json", false, "Print the report as JSON")
	logLevel := flag.String("log-level", "warn", "debug|info|warn|error")
	flag.Parse()

	var level slog.Level
	if err := level.UnmarshalText([]byte(*logLevel)); err != nil {
		level = slog.LevelWarn
	}
	logger.Init("backtest", level)

	startCash, err := decimal.NewFromString(*capital)
	if err != nil {
		fatal("invalid -capital", err)
	}
	riskFrac, err := decimal.NewFromString(*risk)
	if err != nil {
		fatal("invalid -risk", err)
	}

	reader, err := sqlitestore.NewReader(*dbPath)
	if err != nil {
		fatal("sqlite open failed", err)
	}
	defer reader.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rep, err := backtest.Run(ctx, reader, backtest.Config{
		Symbol:       *symbol,
		Capital:      startCash,
		RiskPerTrade: riskFrac,
		SlippageBps:  *slippage,
		Speed:        *speed,
		From:         *from,
	})
	if err != nil {
		fatal("backtest failed", err)
	}

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(rep); err != nil {
			fatal("encode report", err)
		}
		return
	}
	printReport(rep, startCash)
}

func printReport(rep backtest.Report, capital decimal.Decimal) {
	fmt.Println()
	fmt.Println("╔══════════════════════════════════════╗")
	fmt.Println("║        BACKTEST COMPLETE             ║")
	fmt.Println("╠══════════════════════════════════════╣")
	fmt.Printf("║  Symbol:            %-16s ║\n", rep.Symbol)
	fmt.Printf("║  Candles processed: %-16d ║\n", rep.Candles)
	fmt.Printf("║  Signals:           %-16d ║\n", rep.Signals)
	fmt.Printf("║  Orders:            %-16d ║\n", rep.Orders)
	fmt.Printf("║  Trades closed:     %-16d ║\n", rep.Trades)
	fmt.Printf("║  Wins / losses:     %-16s ║\n", fmt.Sprintf("%d / %d", rep.Wins, rep.Losses))
	fmt.Printf("║  Win rate:          %-16s ║\n", fmt.Sprintf("%.1f%%", rep.WinRate))
	fmt.Printf("║  Realized PnL:      %-16s ║\n", rep.RealizedPnL.StringFixed(2))
	fmt.Printf("║  Unrealized PnL:    %-16s ║\n", rep.UnrealizedPnL.StringFixed(2))
	fmt.Printf("║  Open positions:    %-16d ║\n", rep.OpenPositions)
	fmt.Printf("║  Starting balance:  %-16s ║\n", capital.StringFixed(2))
	fmt.Printf("║  Final balance:     %-16s ║\n", rep.FinalBalance.StringFixed(2))
	fmt.Println("╚══════════════════════════════════════╝")
}

func fatal(msg string, err error) {
	slog.Error(msg, "error", err)
	os.Exit(1)
}
