package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"cfscraper"
)

const workerStaggerDelay = 50 * time.Millisecond

var batchCmd = &cobra.Command{
	Use:   "batch FILE",
	Short: "Process a file of URLs with a pool of workers",
	Long: `Read one URL per line from FILE ("-" for stdin) and process them with a
pool of workers. Each worker owns its own client and browser identity; workers
share the proxy list. Results are written as they complete.

Modes:
  get     fetch each URL and report status and size
  tokens  collect clearance cookies for each URL`,
	Args: cobra.ExactArgs(1),
	RunE: runBatch,
}

func init() {
	rootCmd.AddCommand(batchCmd)

	flags := batchCmd.Flags()
	flags.IntP("workers", "w", 4, "number of concurrent workers")
	flags.String("mode", "get", "what to do per URL: get, tokens")
	flags.Int("retries", 3, "attempts per URL on network errors")
	flags.Duration("stagger", workerStaggerDelay, "delay between worker starts")
}

func runBatch(cmd *cobra.Command, args []string) error {
	flags := cmd.Flags()
	workerCount, _ := flags.GetInt("workers")
	mode, _ := flags.GetString("mode")
	retries, _ := flags.GetInt("retries")
	stagger, _ := flags.GetDuration("stagger")

	if workerCount <= 0 {
		return fmt.Errorf("workers must be a positive integer")
	}

	job, err := jobFor(mode)
	if err != nil {
		return err
	}

	targets, err := readTargets(args[0])
	if err != nil {
		return err
	}
	if len(targets) == 0 {
		return fmt.Errorf("no URLs found in %s", args[0])
	}

	cfg, err := buildConfig()
	if err != nil {
		return err
	}
	if len(cfg.Proxies) > 0 {
		// One shared manager so bans and scores are seen by every worker.
		pm, err := cfscraper.NewProxyManager(cfg.Proxies, cfg.ProxyStrategy, cfg.ProxyBanDuration)
		if err != nil {
			return err
		}
		cfg.ProxySelector = pm
		engineLog.Printf("Loaded %d proxies (%s)", pm.Count(), cfg.ProxyStrategy)
	}

	enc, err := newEncoder(os.Stdout, viper.GetString("format"), false)
	if err != nil {
		return err
	}
	defer enc.Close()

	scheduler, err := NewScheduler(workerCount, cfg, job, retries, stagger, cfg.Logger)
	if err != nil {
		return fmt.Errorf("failed to create scheduler: %w", err)
	}

	return run(cmd.Context(), scheduler, targets, enc)
}

func run(ctx context.Context, scheduler *Scheduler, targets []string, enc encoder) error {
	engineLog.Printf("Starting %d concurrent workers (%d URLs, stagger: %v)...", scheduler.WorkerCount(), len(targets), scheduler.staggerDelay)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	scheduler.Start(runCtx)

	fed := make(chan struct{})
	go func() {
		defer close(fed)
		for _, target := range targets {
			if err := scheduler.Submit(runCtx, target); err != nil {
				return
			}
		}
	}()

	var successCount, doneCount int
	var fatalErr error
	start := time.Now()

collect:
	for doneCount < len(targets) {
		var result TaskResult
		select {
		case result = <-scheduler.Results():
		case <-scheduler.Done():
			// Workers are stopping; a fatal result may still be buffered.
			select {
			case result = <-scheduler.Results():
			default:
				break collect
			}
		}

		if result.Fatal {
			fatalErr = result.Error
			engineLog.Printf("FATAL ERROR: %v", result.Error)
			break
		}

		doneCount++
		if result.Success {
			successCount++
			engineLog.Printf("[%d/%d] SUCCESS: %s (%d)", doneCount, len(targets), result.URL, result.Status)
		} else {
			engineLog.Printf("[%d/%d] FAILED: %s: %s", doneCount, len(targets), result.URL, result.ErrorText)
		}

		if err := enc.Encode(result); err != nil {
			fatalErr = err
			break
		}
	}

	cancel()
	<-fed
	scheduler.Close()

	if fatalErr != nil {
		engineLog.Printf("=== ABORTED: %d/%d successful (fatal error: %v) ===", successCount, doneCount, fatalErr)
		return fatalErr
	}

	if doneCount < len(targets) {
		engineLog.Printf("=== INTERRUPTED: %d/%d successful, %d not processed ===", successCount, doneCount, len(targets)-doneCount)
		if err := ctx.Err(); err != nil {
			return err
		}
		return fmt.Errorf("workers stopped with %d URLs not processed", len(targets)-doneCount)
	}

	engineLog.Printf("=== Complete: %d/%d successful in %s ===", successCount, len(targets), elapsed(start))
	return nil
}

func jobFor(mode string) (Job, error) {
	switch mode {
	case "get":
		return func(ctx context.Context, client *cfscraper.Client, target string) TaskResult {
			resp, err := client.Get(ctx, target, nil)
			if err != nil {
				return TaskResult{Error: err}
			}
			return TaskResult{Status: resp.StatusCode, Bytes: len(resp.Body), UserAgent: client.UserAgent()}
		}, nil
	case "tokens":
		return func(ctx context.Context, client *cfscraper.Client, target string) TaskResult {
			tokens, userAgent, err := client.GetTokens(ctx, target)
			if err != nil {
				return TaskResult{Error: err}
			}
			return TaskResult{Tokens: tokens, UserAgent: userAgent}
		}, nil
	default:
		return nil, fmt.Errorf("unknown batch mode %q (want get or tokens)", mode)
	}
}

// readTargets reads one URL per line, skipping blanks and # comments.
func readTargets(path string) ([]string, error) {
	f := os.Stdin
	if path != "-" {
		var err error
		if f, err = os.Open(path); err != nil {
			return nil, fmt.Errorf("failed to open url file: %w", err)
		}
		defer f.Close()
	}

	var targets []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		targets = append(targets, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading url file: %w", err)
	}
	return targets, nil
}
