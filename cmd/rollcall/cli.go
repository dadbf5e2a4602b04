package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/spf13/afero"

	"github.com/BrandonDHaskell/Rollcall/server/internal/app"
	"github.com/BrandonDHaskell/Rollcall/server/internal/config"
	"github.com/BrandonDHaskell/Rollcall/server/internal/logging"
	"github.com/BrandonDHaskell/Rollcall/server/internal/rollcall/capture"
	"github.com/BrandonDHaskell/Rollcall/server/internal/rollcall/payload"
	"github.com/BrandonDHaskell/Rollcall/server/internal/rollcall/scanner"
	"github.com/BrandonDHaskell/Rollcall/server/internal/rollcall/service"
	"github.com/BrandonDHaskell/Rollcall/server/internal/rollcall/types"
)

const usage = `usage: rollcall [-no-color] <command> [flags]

commands:
  list [-today]              show attendance records
  scan <id:name>             record one payload
  scan-images [-timeout D] <dir>
                             run the scanner over every image in dir once
  export [-dir DIR]          write attendance_<date>.xlsx
  clear [-yes]               remove all records (asks unless -yes)
`

// errUsage is reported with exit status 2.
var errUsage = errors.New("usage")

type cli struct {
	cfg    config.Config
	fs     afero.Fs
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer

	ok   *color.Color
	bad  *color.Color
	info *color.Color
	now  func() time.Time
}

func (c *cli) run(ctx context.Context, args []string) int {
	global := flag.NewFlagSet("rollcall", flag.ContinueOnError)
	global.SetOutput(c.stderr)
	global.Usage = func() { fmt.Fprint(c.stderr, usage) }
	noColor := global.Bool("no-color", false, "disable coloured output")
	if err := global.Parse(args); err != nil {
		return 2
	}
	c.setupColor(*noColor)
	if c.now == nil {
		c.now = time.Now
	}

	rest := global.Args()
	if len(rest) == 0 {
		global.Usage()
		return 2
	}

	var err error
	switch cmd, cmdArgs := rest[0], rest[1:]; cmd {
	case "list":
		err = c.list(ctx, cmdArgs)
	case "scan":
		err = c.scan(ctx, cmdArgs)
	case "scan-images":
		err = c.scanImages(ctx, cmdArgs)
	case "export":
		err = c.export(ctx, cmdArgs)
	case "clear":
		err = c.clear(ctx, cmdArgs)
	case "help", "-h", "--help":
		fmt.Fprint(c.stdout, usage)
		return 0
	default:
		fmt.Fprintf(c.stderr, "rollcall: unknown command %q\n", cmd)
		fmt.Fprint(c.stderr, usage)
		return 2
	}

	switch {
	case err == nil:
		return 0
	case errors.Is(err, errUsage), errors.Is(err, flag.ErrHelp):
		return 2
	default:
		c.bad.Fprintln(c.stderr, err.Error())
		return 1
	}
}

func (c *cli) setupColor(disabled bool) {
	c.ok = color.New(color.FgGreen)
	c.bad = color.New(color.FgRed)
	c.info = color.New(color.FgCyan)

	if disabled || !isTerminal(c.stdout) {
		c.ok.DisableColor()
		c.bad.DisableColor()
		c.info.DisableColor()
	} else {
		c.ok.EnableColor()
		c.bad.EnableColor()
		c.info.EnableColor()
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func (c *cli) logger() *slog.Logger {
	return logging.New(c.stderr, c.cfg.LogJSON, logging.ParseLevel(c.cfg.LogLevel)).With("app", "rollcall")
}

// openBook opens storage and loads the record store. Callers close the
// returned storage.
func (c *cli) openBook(ctx context.Context, logger *slog.Logger) (*service.Book, *app.Storage, error) {
	storage, err := app.OpenStorage(ctx, c.cfg, c.fs, logger)
	if err != nil {
		return nil, nil, err
	}
	book, err := app.OpenBook(ctx, c.cfg, storage.Records)
	if err != nil {
		_ = storage.Close()
		return nil, nil, err
	}
	return book, storage, nil
}

func (c *cli) newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	fs.Usage = func() { fmt.Fprint(c.stderr, usage) }
	return fs
}

// ── list ─────────────────────────────────────────────────────────────────────

func (c *cli) list(ctx context.Context, args []string) error {
	fs := c.newFlagSet("list")
	today := fs.Bool("today", false, "only records from the current day")
	if err := fs.Parse(args); err != nil {
		return err
	}

	logger := c.logger()
	book, storage, err := c.openBook(ctx, logger)
	if err != nil {
		return err
	}
	defer storage.Close()

	records := book.List()
	if *today {
		records = book.Today()
	}
	if len(records) == 0 {
		c.info.Fprintln(c.stdout, "No attendance records.")
		return nil
	}

	tw := tabwriter.NewWriter(c.stdout, 0, 0, 2, ' ', 0)
	header := append(append([]string{}, service.Header...), "Seen")
	fmt.Fprintln(tw, strings.Join(header, "\t"))
	for _, r := range records {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
			r.StudentID, r.StudentName,
			r.Timestamp.In(book.Location()).Format(service.DisplayLayout),
			humanize.RelTime(r.Timestamp, c.now(), "ago", "from now"))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(c.stdout, "%d record(s)\n", len(records))
	return nil
}

// ── scan ─────────────────────────────────────────────────────────────────────

func (c *cli) scan(ctx context.Context, args []string) error {
	fs := c.newFlagSet("scan")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		fmt.Fprint(c.stderr, usage)
		return errUsage
	}

	logger := c.logger()
	book, storage, err := c.openBook(ctx, logger)
	if err != nil {
		return err
	}
	defer storage.Close()

	resp, err := service.NewScanService(book, logger).Process(ctx, fs.Arg(0))
	switch {
	case err == nil:
		c.ok.Fprintln(c.stdout, resp.Message)
		return nil
	case errors.Is(err, payload.ErrMalformed), errors.Is(err, service.ErrDuplicate):
		return errors.New(resp.Message)
	default:
		return err
	}
}

// ── scan-images ──────────────────────────────────────────────────────────────

func (c *cli) scanImages(ctx context.Context, args []string) error {
	fs := c.newFlagSet("scan-images")
	timeout := fs.Duration("timeout", 5*time.Minute, "give up after this long")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		fmt.Fprint(c.stderr, usage)
		return errUsage
	}

	src, err := capture.OpenDir(c.fs, fs.Arg(0))
	if err != nil {
		return err
	}

	logger := c.logger()
	book, storage, err := c.openBook(ctx, logger)
	if err != nil {
		return err
	}
	defer storage.Close()

	loop := scanner.New(
		func(context.Context) (capture.Source, error) { return src, nil },
		capture.NewQRDecoder(true),
		service.NewScanService(book, logger),
		scanner.Config{
			FrameInterval: c.cfg.Scanner.FrameInterval(),
			Cooldown:      c.cfg.Scanner.Cooldown(),
		},
		logger,
		scanner.WithSessionStore(storage.Sessions),
	)

	fmt.Fprintf(c.stdout, "Scanning %d image(s) in %s\n", src.Len(), fs.Arg(0))
	if err := loop.Start(ctx); err != nil {
		return err
	}

	waitCtx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	var waitErr error
wait:
	for src.Passes() < 1 {
		select {
		case <-waitCtx.Done():
			waitErr = waitCtx.Err()
			break wait
		case <-ticker.C:
		}
	}
	if err := loop.Stop(); err != nil {
		logger.Warn("scanner stop", "error", err)
	}

	st := loop.Status()
	c.printSummary(st)
	if waitErr != nil {
		return fmt.Errorf("scan-images: %w", waitErr)
	}
	return nil
}

func (c *cli) printSummary(st types.ScannerStatus) {
	line := fmt.Sprintf("recorded=%d duplicates=%d malformed=%d", st.Recorded, st.Duplicates, st.Malformed)
	if st.Duplicates+st.Malformed > 0 {
		c.bad.Fprintln(c.stdout, line)
		return
	}
	c.ok.Fprintln(c.stdout, line)
}

// ── export ───────────────────────────────────────────────────────────────────

func (c *cli) export(ctx context.Context, args []string) error {
	fs := c.newFlagSet("export")
	dir := fs.String("dir", c.cfg.ExportDir, "output directory")
	if err := fs.Parse(args); err != nil {
		return err
	}

	logger := c.logger()
	book, storage, err := c.openBook(ctx, logger)
	if err != nil {
		return err
	}
	defer storage.Close()

	path, err := service.NewExporter(book, c.fs, logger).WriteFile(ctx, *dir)
	if err != nil {
		if errors.Is(err, service.ErrNoRecords) {
			return errors.New("No attendance data to export.")
		}
		return err
	}

	size := ""
	if fi, err := c.fs.Stat(path); err == nil {
		size = " (" + humanize.Bytes(uint64(fi.Size())) + ")"
	}
	c.ok.Fprintf(c.stdout, "Exported %d record(s) to %s%s\n", book.Len(), path, size)
	return nil
}

// ── clear ────────────────────────────────────────────────────────────────────

func (c *cli) clear(ctx context.Context, args []string) error {
	fs := c.newFlagSet("clear")
	yes := fs.Bool("yes", false, "do not ask for confirmation")
	if err := fs.Parse(args); err != nil {
		return err
	}

	logger := c.logger()
	book, storage, err := c.openBook(ctx, logger)
	if err != nil {
		return err
	}
	defer storage.Close()

	confirmed := *yes
	if !confirmed {
		fmt.Fprint(c.stdout, "Are you sure you want to clear all attendance records? [y/N]: ")
		line, _ := bufio.NewReader(c.stdin).ReadString('\n')
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "y", "yes":
			confirmed = true
		}
	}

	removed, err := book.Clear(ctx, confirmed)
	if err != nil {
		if errors.Is(err, service.ErrNotConfirmed) {
			c.info.Fprintln(c.stdout, "Clear cancelled.")
			return nil
		}
		return err
	}
	c.ok.Fprintf(c.stdout, "Attendance data cleared (%d record(s) removed).\n", removed)
	return nil
}
