// Command docqa ingests PDFs and answers questions about them from the
// terminal.
//
// Usage:
//
//	docqa [-config docqa.yaml] [-debug] <command> [args]
//
// Commands:
//
//	ingest [-force] [-title T] <file.pdf>...   ingest documents with progress
//	list                                       list documents
//	sections <id>                              show a document's sections
//	search [-k N] <id> <query>                 rank chunks for a query
//	ask [-provider P] [-model M] <id> <question>
//	chat [-provider P] <id>                    interactive question session
//	export [-o file.xlsx] <id>                 write tables as XLSX
//	delete <id>                                delete a document
//	set-key <provider> <key>                   store an API key ("" removes)
//	keys                                       show configured providers
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
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/fatih/color"

	"github.com/brunobiangulo/docqa"
)

var (
	bold    = color.New(color.Bold).SprintFunc()
	cyan    = color.New(color.FgCyan, color.Bold).SprintFunc()
	green   = color.New(color.FgGreen).SprintFunc()
	yellow  = color.New(color.FgYellow).SprintFunc()
	red     = color.New(color.FgRed, color.Bold).SprintFunc()
	faint   = color.New(color.Faint).SprintFunc()
	errorln = color.New(color.FgRed).FprintlnFunc()
)

type command struct {
	usage string
	run   func(ctx context.Context, e docqa.Engine, args []string) error
}

const (
	usageIngest   = "ingest [-force] [-title T] <file.pdf>..."
	usageSections = "sections <id>"
	usageSearch   = "search [-k N] <id> <query>"
	usageAsk      = "ask [-provider P] [-model M] <id> <question>"
	usageChat     = "chat [-provider P] <id>"
	usageExport   = "export [-o file.xlsx] <id>"
	usageDelete   = "delete <id>"
	usageSetKey   = "set-key <provider> <key>"
)

var commands = map[string]command{
	"ingest":   {usageIngest, runIngest},
	"list":     {"list", runList},
	"sections": {usageSections, runSections},
	"search":   {usageSearch, runSearch},
	"ask":      {usageAsk, runAsk},
	"chat":     {usageChat, runChat},
	"export":   {usageExport, runExport},
	"delete":   {usageDelete, runDelete},
	"set-key":  {usageSetKey, runSetKey},
	"keys":     {"keys", runKeys},
}

// out receives command output. color.Output strips escapes on terminals
// that do not support them.
var (
	out   io.Writer = color.Output
	stdin io.Reader = os.Stdin
)

func main() {
	configPath := flag.String("config", "", "Path to config file (YAML or JSON)")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Usage = usage
	flag.Parse()

	level := slog.LevelWarn
	if *debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	if flag.NArg() == 0 {
		usage()
		os.Exit(2)
	}
	if _, ok := commands[flag.Arg(0)]; !ok {
		errorln(os.Stderr, "unknown command:", flag.Arg(0))
		usage()
		os.Exit(2)
	}

	cfg := docqa.DefaultConfig()
	if *configPath != "" {
		var err error
		if cfg, err = docqa.LoadConfig(*configPath); err != nil {
			fatal(err)
		}
	}
	if err := cfg.ApplyEnv(); err != nil {
		fatal(err)
	}

	engine, err := docqa.New(cfg)
	if err != nil {
		fatal(err)
	}
	defer engine.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := runCommand(ctx, engine, flag.Args()); err != nil {
		engine.Close()
		fatal(err)
	}
}

// runCommand dispatches args[0] to its command with the remaining args.
func runCommand(ctx context.Context, e docqa.Engine, args []string) error {
	if len(args) == 0 {
		return errors.New("no command given")
	}
	cmd, ok := commands[args[0]]
	if !ok {
		return fmt.Errorf("unknown command %q", args[0])
	}
	return cmd.run(ctx, e, args[1:])
}

func usage() {
	fmt.Fprintf(os.Stderr, "usage: docqa [-config file] [-debug] <command> [args]\n\ncommands:\n")
	names := make([]string, 0, len(commands))
	for n := range commands {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		fmt.Fprintf(os.Stderr, "  %s\n", commands[n].usage)
	}
}

func fatal(err error) {
	errorln(os.Stderr, "error:", err)
	os.Exit(1)
}

func needArgs(fs *flag.FlagSet, n int, usage string) error {
	if fs.NArg() < n {
		return fmt.Errorf("usage: docqa %s", usage)
	}
	return nil
}

func runIngest(ctx context.Context, e docqa.Engine, args []string) error {
	fs := flag.NewFlagSet("ingest", flag.ContinueOnError)
	force := fs.Bool("force", false, "Re-ingest even if unchanged")
	title := fs.String("title", "", "Document title (single file only)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := needArgs(fs, 1, usageIngest); err != nil {
		return err
	}

	var failed int
	for _, path := range fs.Args() {
		opts := []docqa.IngestOption{docqa.WithProgress(printProgress)}
		if *force {
			opts = append(opts, docqa.WithForceReparse())
		}
		if *title != "" && fs.NArg() == 1 {
			opts = append(opts, docqa.WithTitle(*title))
		}

		fmt.Fprintln(out, bold(path))
		doc, err := e.IngestFile(ctx, path, opts...)
		if err != nil {
			failed++
			errorln(os.Stderr, "  failed:", err)
			continue
		}
		fmt.Fprintf(out, "  %s %s  %d pages, %d words",
			green("indexed"), cyan(doc.ID), doc.PageCount, doc.WordCount)
		if doc.HasImages {
			fmt.Fprintf(out, ", %d image-only pages (%d analyzed)", doc.ImageOnlyPages, doc.AIAnalyzedPages)
		}
		fmt.Fprintln(out)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d documents failed", failed, fs.NArg())
	}
	return nil
}

// printProgress rewrites one status line per stage.
func printProgress(p docqa.Progress) {
	switch p.Stage {
	case docqa.StageIndexed:
		fmt.Fprint(out, "\r\033[K")
	case docqa.StageError:
		fmt.Fprintf(out, "\r\033[K  %s %s\n", red("error"), p.Message)
	default:
		stage := yellow(fmt.Sprintf("%-13s", p.Stage))
		if p.Total > 0 && p.Page > 0 {
			fmt.Fprintf(out, "\r\033[K  %s %d/%d", stage, p.Page, p.Total)
		} else {
			fmt.Fprintf(out, "\r\033[K  %s %s", stage, faint(p.Message))
		}
	}
}

func runList(ctx context.Context, e docqa.Engine, args []string) error {
	docs, err := e.ListDocuments(ctx)
	if err != nil {
		return err
	}
	if len(docs) == 0 {
		fmt.Fprintln(out, faint("no documents"))
		return nil
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, bold("ID")+"\t"+bold("TITLE")+"\t"+bold("PAGES")+"\t"+bold("STATUS")+"\t"+bold("UPDATED"))
	for _, d := range docs {
		status := green(d.Status)
		switch d.Status {
		case "error":
			status = red(d.Status)
		case "processing":
			status = yellow(d.Status)
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n", d.ID, d.Title, d.PageCount, status, d.UpdatedAt.Local().Format("2006-01-02 15:04"))
	}
	return tw.Flush()
}

func runSections(ctx context.Context, e docqa.Engine, args []string) error {
	fs := flag.NewFlagSet("sections", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := needArgs(fs, 1, usageSections); err != nil {
		return err
	}
	sections, err := e.Sections(ctx, fs.Arg(0))
	if err != nil {
		return err
	}
	for _, s := range sections {
		pages := fmt.Sprintf("p. %d", s.StartPage)
		if s.EndPage != s.StartPage {
			pages = fmt.Sprintf("pp. %d-%d", s.StartPage, s.EndPage)
		}
		marker := ""
		if s.ImageDerived {
			marker = yellow(" [image]")
		}
		fmt.Fprintf(out, "%s %s%s\n", cyan(s.Title), faint(pages), marker)
		for _, b := range s.Bullets {
			fmt.Fprintf(out, "  • %s\n", b)
		}
	}
	return nil
}

func runSearch(ctx context.Context, e docqa.Engine, args []string) error {
	fs := flag.NewFlagSet("search", flag.ContinueOnError)
	k := fs.Int("k", 0, "Number of results (default from config)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := needArgs(fs, 2, usageSearch); err != nil {
		return err
	}
	results, trace, err := e.Search(ctx, fs.Arg(0), strings.Join(fs.Args()[1:], " "), *k)
	if err != nil {
		return err
	}
	for i, r := range results {
		fmt.Fprintf(out, "%s %s %s\n", bold(fmt.Sprintf("%d.", i+1)), cyan(r.Chunk.SectionTitle),
			faint(fmt.Sprintf("page %d  score %.3f", r.Chunk.StartPage, r.Score)))
		fmt.Fprintln(out, "   "+snippet(r.Chunk.Content, 240))
	}
	fmt.Fprintln(out, faint(fmt.Sprintf("%d of %d chunks, %d keyword-boosted, %dms",
		trace.Returned, trace.Candidates, trace.Boosted, trace.ElapsedMs)))
	return nil
}

func runAsk(ctx context.Context, e docqa.Engine, args []string) error {
	fs := flag.NewFlagSet("ask", flag.ContinueOnError)
	provider := fs.String("provider", "", "Chat provider (default from config)")
	model := fs.String("model", "", "Model override")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := needArgs(fs, 2, usageAsk); err != nil {
		return err
	}
	return ask(ctx, e, docqa.AskRequest{
		DocumentID: fs.Arg(0),
		Question:   strings.Join(fs.Args()[1:], " "),
		Provider:   *provider,
		Model:      *model,
	})
}

func ask(ctx context.Context, e docqa.Engine, req docqa.AskRequest) error {
	ans, err := e.Ask(ctx, req)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, ans.Text)
	if len(ans.Citations) > 0 {
		var pages []string
		for _, c := range ans.Citations {
			if c.Page > 0 {
				p := fmt.Sprintf("p.%d", c.Page)
				if !c.Verified {
					p += "?"
				}
				pages = append(pages, p)
			}
		}
		if len(pages) > 0 {
			fmt.Fprintln(out, faint("cited: "+strings.Join(pages, ", ")))
		}
	}
	fmt.Fprintln(out, faint(fmt.Sprintf("%s/%s  %d tokens  %dms", ans.Provider, ans.Model, ans.TotalTokens, ans.ElapsedMs)))
	return nil
}

func runChat(ctx context.Context, e docqa.Engine, args []string) error {
	fs := flag.NewFlagSet("chat", flag.ContinueOnError)
	provider := fs.String("provider", "", "Chat provider (default from config)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := needArgs(fs, 1, usageChat); err != nil {
		return err
	}
	doc, err := e.GetDocument(ctx, fs.Arg(0))
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Chatting about %s. Type 'exit' to quit, 'clear' to reset the conversation.\n\n", cyan(doc.Title))

	scanner := bufio.NewScanner(stdin)
	for {
		fmt.Fprint(out, green("You: "))
		if !scanner.Scan() {
			return scanner.Err()
		}
		q := strings.TrimSpace(scanner.Text())
		switch strings.ToLower(q) {
		case "":
			continue
		case "exit", "quit":
			return nil
		case "clear":
			if err := e.ClearChatHistory(ctx, doc.ID, *provider); err != nil {
				return err
			}
			fmt.Fprintln(out, faint("conversation cleared"))
			continue
		}

		fmt.Fprint(out, cyan("Assistant: "))
		err := ask(ctx, e, docqa.AskRequest{DocumentID: doc.ID, Question: q, Provider: *provider})
		if errors.Is(err, context.Canceled) {
			return nil
		}
		if err != nil {
			errorln(os.Stderr, err)
		}
		fmt.Fprintln(out)
	}
}

func runExport(ctx context.Context, e docqa.Engine, args []string) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	outPath := fs.String("o", "", "Output file (default <id>-tables.xlsx)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := needArgs(fs, 1, usageExport); err != nil {
		return err
	}
	id := fs.Arg(0)
	path := *outPath
	if path == "" {
		path = id + "-tables.xlsx"
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := e.ExportTables(ctx, id, f); err != nil {
		f.Close()
		os.Remove(path)
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	fmt.Fprintln(out, green("wrote"), path)
	return nil
}

func runDelete(ctx context.Context, e docqa.Engine, args []string) error {
	fs := flag.NewFlagSet("delete", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := needArgs(fs, 1, usageDelete); err != nil {
		return err
	}
	if err := e.DeleteDocument(ctx, fs.Arg(0)); err != nil {
		return err
	}
	fmt.Fprintln(out, green("deleted"), fs.Arg(0))
	return nil
}

func runSetKey(ctx context.Context, e docqa.Engine, args []string) error {
	fs := flag.NewFlagSet("set-key", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := needArgs(fs, 2, usageSetKey); err != nil {
		return err
	}
	if err := e.SetAPIKey(ctx, fs.Arg(0), fs.Arg(1)); err != nil {
		return err
	}
	if strings.TrimSpace(fs.Arg(1)) == "" {
		fmt.Fprintln(out, yellow("removed"), "key for", fs.Arg(0))
	} else {
		fmt.Fprintln(out, green("stored"), "key for", fs.Arg(0))
	}
	return nil
}

func runKeys(ctx context.Context, e docqa.Engine, args []string) error {
	status, err := e.APIKeyStatus(ctx)
	if err != nil {
		return err
	}
	names := make([]string, 0, len(status))
	for n := range status {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		mark := red("✗")
		if status[n] {
			mark = green("✓")
		}
		fmt.Fprintf(out, "%s %s\n", mark, n)
	}
	return nil
}

func snippet(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
