package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"

	"mailpacer/delivery"
	"mailpacer/dispatch"
	"mailpacer/health"
	"mailpacer/internal/attach"
	"mailpacer/internal/config"
	"mailpacer/internal/dkim"
	"mailpacer/internal/logger"
	"mailpacer/internal/store"
	"mailpacer/report"
	"mailpacer/storage"
)

// Replaced in tests.
var (
	newTransport  = defaultTransport
	pauseStep     func()
	notifySignals = func(c chan<- os.Signal) { signal.Notify(c, syscall.SIGINT, syscall.SIGTERM) }
)

type app struct {
	out     io.Writer
	log     zerolog.Logger
	opts    *options
	store   *store.Store
	reports *storage.Dir
	profile store.Profile
}

func newApp(opts *options, out io.Writer) (*app, error) {
	if err := config.Load(opts.envFile); err != nil {
		return nil, fmt.Errorf("load %s: %w", opts.envFile, err)
	}
	if opts.dataDir == "" {
		opts.dataDir = config.DataDir()
	}
	if opts.reportDir == "" {
		opts.reportDir = config.ReportDir()
	}
	if opts.attachmentDir == "" {
		opts.attachmentDir = config.AttachmentDir()
	}

	a := &app{
		out:     out,
		log:     logger.FromEnv(),
		opts:    opts,
		store:   store.New(opts.dataDir),
		reports: storage.New(opts.reportDir),
	}
	profile, notes, err := a.store.LoadSettings()
	if err != nil {
		return nil, err
	}
	for _, n := range notes {
		a.log.Warn().Err(n).Msg("settings value rejected")
	}
	a.profile = profile
	return a, nil
}

func defaultTransport(a *app) (dispatch.Transport, error) {
	signer, err := dkim.LoadFromEnv()
	if err != nil {
		return nil, err
	}
	from := a.profile.Sender.Email
	if from == "" {
		return nil, errors.New("settings.yaml: sender.email is required to send")
	}
	cfg := delivery.Config{
		RelayHost:    config.RelayHost(),
		RelayPort:    config.RelayPort(),
		Username:     config.String("MAILPACER_RELAY_USER", ""),
		Password:     os.Getenv("MAILPACER_RELAY_PASSWORD"),
		From:         from,
		FromName:     a.profile.Sender.Name,
		HeloName:     config.Hostname(),
		MaxPerMinute: config.MaxPerMinute(),
		Archive:      config.ArchiveMessages(),
	}
	return delivery.New(cfg, signer, a.reports, a.log), nil
}

func (a *app) dispatcher() (*dispatch.Dispatcher, error) {
	t, err := newTransport(a)
	if err != nil {
		return nil, err
	}
	d := dispatch.New(t, a.profile.Settings, a.log)
	if pauseStep != nil {
		d.SetPauseStep(pauseStep)
	}
	return d, nil
}

// attachments scans the attachment directory and prints the result. Files
// over the hard limit stop the run before anything is sent.
func (a *app) attachments() ([]string, error) {
	r, err := attach.Scan(a.opts.attachmentDir)
	if err != nil {
		return nil, err
	}
	fmt.Fprintf(a.out, "Attachments in %s: %s\n", a.opts.attachmentDir, r.Summary())
	if !r.OK() {
		return nil, errors.New("attachments exceed the total size limit")
	}
	return r.Paths(), nil
}

type runFunc func(ctx context.Context, onProgress func(dispatch.Progress), isCancelled func() bool) (*dispatch.OutcomeSet, error)

// execute runs fn on its own goroutine while the caller's goroutine watches
// for SIGINT/SIGTERM. The first signal raises the cancellation flag and
// cancels the run context, which also ends connect attempts and rate-limit
// waits. A message already handed to the relay completes, and the partial
// outcome is still reported.
func (a *app) execute(ctx context.Context, d *dispatch.Dispatcher, fn runFunc) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if addr := config.StatusAddr(); addr != "" {
		srv, err := health.Start(addr, d, config.StatusNetworks(), a.log)
		if err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	var stop atomic.Bool
	sigs := make(chan os.Signal, 1)
	notifySignals(sigs)
	defer signal.Stop(sigs)

	type result struct {
		set *dispatch.OutcomeSet
		err error
	}
	done := make(chan result, 1)
	go func() {
		set, err := fn(ctx, a.printProgress, stop.Load)
		done <- result{set, err}
	}()

	var res result
wait:
	for {
		select {
		case sig := <-sigs:
			if !stop.Swap(true) {
				a.log.Warn().Str("signal", sig.String()).Msg("stopping after the current message")
				cancel()
			}
		case res = <-done:
			break wait
		}
	}

	if res.err != nil {
		var cerr *dispatch.ConnectError
		if errors.As(res.err, &cerr) && cerr.Suggestion != "" {
			fmt.Fprintf(a.out, "Hint: %s\n", cerr.Suggestion)
		}
		return res.err
	}
	return a.report(res.set)
}

func (a *app) printProgress(p dispatch.Progress) {
	if p.Kind == dispatch.ProgressUpdate {
		fmt.Fprintf(a.out, "[%3.0f%%] %s\n", p.Fraction*100, p.Text)
		return
	}
	fmt.Fprintf(a.out, "       %s\n", p.Text)
}

func (a *app) report(set *dispatch.OutcomeSet) error {
	state := "completed"
	if set.Cancelled {
		state = "cancelled"
	}
	fmt.Fprintf(a.out, "\nRun %s %s in %s: %d sent, %d failed\n",
		set.RunID, state, set.Duration.Round(time.Second), len(set.Successes), len(set.Failures))

	art, err := report.New(a.reports, a.log).Generate(set)
	if errors.Is(err, report.ErrNothingProcessed) {
		fmt.Fprintln(a.out, "Nothing was processed; no report written.")
		return nil
	}
	if err != nil {
		return err
	}

	sum := art.Summary
	fmt.Fprintf(a.out, "Success rate %.1f%% (%s)\n", sum.SuccessRate, sum.Tier)
	for kind, n := range sum.FailuresByKind {
		fmt.Fprintf(a.out, "  %s: %s\n", kind, humanize.Comma(int64(n)))
	}
	for _, s := range sum.Suggestions {
		fmt.Fprintf(a.out, "Suggestion: %s\n", s)
	}
	fmt.Fprintf(a.out, "Reports:\n  %s\n  %s\n  %s\n  %s\n", art.Full, art.Successes, art.Failures, art.Snapshot)
	if sum.Failed > 0 {
		fmt.Fprintf(a.out, "Resubmit the failures with: mailpacer retry --from %s\n", art.Failures)
	}
	return nil
}
