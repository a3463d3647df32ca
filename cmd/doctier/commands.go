package main

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/poiesic/doctier"
	"github.com/poiesic/doctier/config"
	"github.com/poiesic/doctier/core"
	"github.com/poiesic/doctier/documents"
	"github.com/poiesic/doctier/extract"
	"github.com/poiesic/doctier/reembed"
	"github.com/urfave/cli/v2"
)

// extraOpenOptions are appended when opening the services. Tests use it to
// swap in a mock embedding provider.
var extraOpenOptions []doctier.Option

func open(c *cli.Context) (*doctier.DocTier, *config.Config, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	opts := append([]doctier.Option{doctier.WithLogger(slog.Default())}, extraOpenOptions...)
	dt, err := doctier.Open(cfg, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open storage: %w", err)
	}
	return dt, cfg, nil
}

func model(c *cli.Context, cfg *config.Config) string {
	if m := c.String("model"); m != "" {
		return m
	}
	return cfg.DefaultModel
}

func readUpload(c *cli.Context, cfg *config.Config, path string) (documents.UploadRequest, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return documents.UploadRequest{}, err
	}
	name := filepath.Base(path)
	return documents.UploadRequest{
		ConversationID: c.String("conversation"),
		UserID:         c.String("user"),
		Filename:       name,
		MimeType:       extract.DetectMIME(name, content),
		Content:        content,
		Model:          model(c, cfg),
	}, nil
}

func ttl(days *int) string {
	if days == nil {
		return "-"
	}
	return fmt.Sprintf("%dd", *days)
}

func uploadCommand(c *cli.Context) error {
	if c.NArg() == 0 {
		return fmt.Errorf("at least one file is required")
	}
	dt, cfg, err := open(c)
	if err != nil {
		return err
	}
	defer dt.Close()

	out := c.App.Writer
	for _, path := range c.Args().Slice() {
		req, err := readUpload(c, cfg, path)
		if err != nil {
			return err
		}
		res, err := dt.Documents().Upload(c.Context, req)
		if err != nil {
			return fmt.Errorf("upload %s: %w", path, err)
		}
		fmt.Fprintf(out, "%s\t%s\t%s\t%s\t%s tokens\tttl %s\t%d chunks\n",
			res.DocumentID, res.Filename, res.Status, res.Tier, humanize.Comma(int64(res.TokenCount)), ttl(res.TTLDays), res.Chunks)
		fmt.Fprintf(out, "  %s\n", res.Recommendation)
	}
	return nil
}

func ingestCommand(c *cli.Context) error {
	dir := c.Args().First()
	if dir == "" {
		return fmt.Errorf("directory is required")
	}
	dt, cfg, err := open(c)
	if err != nil {
		return err
	}
	defer dt.Close()

	var reqs []documents.UploadRequest
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != dir && !c.Bool("recursive") {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") {
			return nil
		}
		req, err := readUpload(c, cfg, path)
		if err != nil {
			return err
		}
		reqs = append(reqs, req)
		return nil
	})
	if err != nil {
		return err
	}
	if len(reqs) == 0 {
		return fmt.Errorf("no files found in %s", dir)
	}

	report := dt.Documents().IngestBatch(c.Context, reqs)

	out := c.App.Writer
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "FILE\tSTATUS\tTIER\tCHUNKS\tDOCUMENT\tERROR")
	for _, item := range report.Items {
		errText := ""
		if item.Err != nil {
			errText = item.Err.Error()
		}
		tier := "-"
		if item.Tier.Valid() {
			tier = item.Tier.String()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\n", item.Filename, item.Status, tier, item.Chunks, item.DocumentID, errText)
	}
	tw.Flush()
	fmt.Fprintf(out, "%d files: %d successful (%d skipped), %d failed, %s chunks in %v\n",
		report.Total, report.Successful, report.Skipped, report.Failed,
		humanize.Comma(int64(report.TotalChunks)), report.Duration.Round(time.Millisecond))

	if report.Failed > 0 {
		return cli.Exit(fmt.Sprintf("%d of %d files failed", report.Failed, report.Total), 1)
	}
	return nil
}

func deleteCommand(c *cli.Context) error {
	id := c.Args().First()
	if id == "" {
		return fmt.Errorf("document id is required")
	}
	dt, _, err := open(c)
	if err != nil {
		return err
	}
	defer dt.Close()

	res, err := dt.Documents().Delete(c.Context, documents.DeleteRequest{
		ConversationID: c.String("conversation"),
		UserID:         c.String("user"),
		DocumentID:     id,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "%s (%s): %s\n", res.DocumentID, res.Tier, res.Message)
	return nil
}

func listCommand(c *cli.Context) error {
	dt, _, err := open(c)
	if err != nil {
		return err
	}
	defer dt.Close()

	docs, err := dt.Documents().List(c.Context, c.String("conversation"), c.String("user"))
	if err != nil {
		return err
	}
	if len(docs) == 0 {
		fmt.Fprintln(c.App.Writer, "No documents")
		return nil
	}

	tw := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tFILE\tSIZE\tTOKENS\tTIER\tCHUNKS\tUPLOADED\tEXPIRES")
	for _, d := range docs {
		expires := "never"
		if !d.ExpiresAt.IsZero() {
			expires = humanize.Time(d.ExpiresAt)
		}
		name := d.Filename
		if !d.ContentAvailable {
			name += " (re-upload needed)"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			d.ID, name, d.FormattedSize, humanize.Comma(int64(d.TokenCount)), d.Tier, d.ChunkCount,
			humanize.Time(d.CreatedAt), expires)
	}
	return tw.Flush()
}

func searchCommand(c *cli.Context) error {
	query := strings.Join(c.Args().Slice(), " ")
	if query == "" {
		return fmt.Errorf("query is required")
	}
	dt, _, err := open(c)
	if err != nil {
		return err
	}
	defer dt.Close()

	hits, err := dt.Documents().Retrieve(c.Context, documents.RetrieveRequest{
		ConversationID: c.String("conversation"),
		UserID:         c.String("user"),
		Query:          query,
		Limit:          c.Int("limit"),
		ScoreThreshold: c.Float64("threshold"),
	})
	if err != nil {
		return err
	}
	if len(hits) == 0 {
		fmt.Fprintln(c.App.Writer, "No results")
		return nil
	}
	for i, h := range hits {
		fmt.Fprintf(c.App.Writer, "%d. [%.4f] %s (%s)\n   %s\n", i+1, h.Score, h.Filename, h.Scope, preview(h.Content, 160))
	}
	return nil
}

func preview(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > n {
		return string(r[:n]) + "..."
	}
	return s
}

func contextCommand(c *cli.Context) error {
	query := strings.Join(c.Args().Slice(), " ")
	dt, _, err := open(c)
	if err != nil {
		return err
	}
	defer dt.Close()

	text, err := dt.Documents().BuildContext(c.Context, c.String("conversation"), c.String("user"), query)
	if err != nil {
		return err
	}
	if text == "" {
		fmt.Fprintln(c.App.Writer, "No document context")
		return nil
	}
	fmt.Fprintln(c.App.Writer, text)
	return nil
}

func clearCommand(c *cli.Context) error {
	dt, _, err := open(c)
	if err != nil {
		return err
	}
	defer dt.Close()

	if err := dt.Documents().ClearConversation(c.Context, c.String("conversation"), c.String("user")); err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "Cleared conversation %s\n", c.String("conversation"))
	return nil
}

func cleanupCommand(c *cli.Context) error {
	dt, cfg, err := open(c)
	if err != nil {
		return err
	}
	defer dt.Close()

	if c.Bool("watch") {
		ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
		defer stop()

		fmt.Fprintf(c.App.Writer, "Sweeping expired documents every %v\n", cfg.CleanupInterval)
		stopCleanup := dt.Documents().StartCleanup(ctx, cfg.CleanupInterval)
		<-ctx.Done()
		stopCleanup()
		return nil
	}

	report, err := dt.Documents().CleanupExpired(c.Context)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "Removed %d expired documents and %d stray chunks across %d scopes (%d failed)\n",
		report.Documents, report.Chunks, report.Scopes, report.Failed)

	if cp, err := dt.Documents().LastCleanup(c.Context); err == nil && cp != nil {
		fmt.Fprintf(c.App.Writer, "Total removed by cleanup: %s\n", humanize.Comma(cp.Processed))
	}
	return nil
}

func reindexCommand(c *cli.Context) error {
	var collections []string
	if conv := c.String("conversation"); conv != "" {
		collections = append(collections, core.TemporaryScope(conv).Name)
	}
	if user := c.String("user"); user != "" {
		collections = append(collections, core.PersistentScope(user).Name)
	}
	if len(collections) == 0 {
		return fmt.Errorf("at least one of --conversation or --user is required")
	}

	cfg := &reembed.Config{
		BatchSize:      c.Int("batch-size"),
		ReportInterval: c.Int("report-interval"),
		MaxRetries:     c.Int("max-retries"),
		RetryDelay:     c.Duration("retry-delay"),
	}
	if cfg.BatchSize <= 0 {
		return fmt.Errorf("batch-size must be greater than 0")
	}
	if cfg.ReportInterval <= 0 {
		return fmt.Errorf("report-interval must be greater than 0")
	}
	if cfg.MaxRetries <= 0 {
		return fmt.Errorf("max-retries must be greater than 0")
	}

	dt, appCfg, err := open(c)
	if err != nil {
		return err
	}
	defer dt.Close()

	r, err := dt.NewReembedder(cfg, c.App.ErrWriter)
	if err != nil {
		return err
	}

	fmt.Fprintf(c.App.ErrWriter, "Embedding host: %s\n", appCfg.Embedding.Host)
	fmt.Fprintf(c.App.ErrWriter, "Embedding model: %s\n", appCfg.Embedding.Model)

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	results, err := r.Run(ctx, collections...)
	for _, res := range results {
		fmt.Fprintf(c.App.Writer, "%s: %d chunks re-embedded, %d expired dropped, recreated=%t\n",
			res.Collection, res.Chunks, res.Skipped, res.Recreated)
	}
	return err
}

func profilesCommand(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	profiles, err := cfg.ModelProfiles()
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "MODEL\tCONTEXT\tINLINE <=\tSHORT-LIVED <=\tLONG-LIVED <=")
	for _, name := range profiles.Names() {
		p := profiles.Lookup(name)
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", name,
			humanize.Comma(int64(p.ContextWindow)),
			humanize.Comma(int64(p.SmallThreshold)),
			humanize.Comma(int64(p.MediumThreshold)),
			humanize.Comma(int64(p.LargeThreshold)))
	}
	return tw.Flush()
}
