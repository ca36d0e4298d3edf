package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pscx/config"
	"pscx/diag"
	"pscx/logger"
	"pscx/output"
	"pscx/scanner"
	"pscx/systeminfo"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

func newScanCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Scan directory trees and record named streams and reparse points",
		Long: `Walk the start paths and write one NDJSON record per file with its named
streams, stream content hashes, type and search hits, and its decoded
reparse point. Links and junctions are recorded but never followed.

Settings are read from the defaults, then the configuration file, then
PSCX_* environment variables, then the flags given on the command line.`,
		Example: `  pscx scan --path C:\Users --hashes sha256,xxhash64 --search ZoneId
  pscx scan --all-drives --output c-drive.ndjson --nice low`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScan(cmd.Context(), opts.configFile, cmd.Flags())
		},
	}
	config.RegisterFlags(cmd.Flags(), config.Defaults())
	return cmd
}

func runScan(ctx context.Context, configFile string, flags *pflag.FlagSet) error {
	cfg, err := config.Load(configFile, flags)
	if err != nil {
		return err
	}
	logger.Init(cfg.LogLevel)
	if cfg.ConfigFile != "" {
		logger.Infof("Using config file %s", cfg.ConfigFile)
	}

	metrics := output.Metrics{StartTime: time.Now().UTC().Format(time.RFC3339)}

	sysInfo, err := systeminfo.GetSystemInfo(cfg)
	if err != nil {
		logger.Errorf("Failed to gather system information: %v", err)
	}

	writer, err := output.New(cfg, sysInfo, &metrics)
	if err != nil {
		return err
	}

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go handleSignalEvent(ctx, cancel, sigChan)

	watchdog := diag.NewWatchdog(diag.Options{
		StallThreshold: cfg.StallThreshold,
		Dir:            cfg.DiagDir,
		ProgressFn:     writer.FilesProcessed,
	})
	watchdog.Start(ctx)
	scanErr := scanner.ScanFiles(ctx, cfg, &metrics, writer)
	watchdog.Close()

	metrics.EndTime = time.Now().UTC().Format(time.RFC3339)
	writer.SetMetrics(metrics)
	closeErr := writer.Close()

	if errors.Is(scanErr, context.Canceled) {
		logger.Warnf("Scan interrupted, partial results written to %s", cfg.OutputFileName)
		scanErr = nil
	}
	if err := errors.Join(scanErr, closeErr); err != nil {
		return err
	}
	logger.WithFields(map[string]interface{}{
		"scan_id":        writer.ScanID(),
		"files_scanned":  writer.FilesScanned(),
		"files_recorded": writer.FilesProcessed(),
		"output":         cfg.OutputFileName,
		"stall_dumps":    watchdog.Dumps(),
	}).Info("Scanning completed successfully.")
	return nil
}

// handleSignalEvent cancels the scan on the first signal. It returns when a
// signal arrived or ctx is done.
func handleSignalEvent(ctx context.Context, cancel context.CancelFunc, sigChan <-chan os.Signal) {
	select {
	case <-sigChan:
		logger.Info("Interrupt signal received. Shutting down...")
		cancel()
	case <-ctx.Done():
	}
}
