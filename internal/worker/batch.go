package worker

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/czhmisaka/Html2Img/internal/pipeline"
	"github.com/czhmisaka/Html2Img/internal/render"
	"github.com/czhmisaka/Html2Img/internal/sanitize"
	"github.com/rs/zerolog"
)

// Renderer defines the cache-through render used by batch jobs
type Renderer interface {
	RenderCached(ctx context.Context, req pipeline.Request) (*pipeline.CachedResult, error)
}

// RenderJob renders one markup file into the output directory
type RenderJob struct {
	Source string
	Output string
	batch  *BatchProcessor
}

// Execute executes the render job
func (j *RenderJob) Execute(ctx context.Context) Result {
	res := &RenderResult{Source: j.Source, Output: j.Output}
	start := time.Now()
	defer func() { res.Duration = time.Since(start) }()

	if err := j.batch.limiter.Wait(ctx, "batch"); err != nil {
		res.Error = err
		return res
	}

	markup, err := os.ReadFile(j.Source)
	if err != nil {
		res.Error = fmt.Errorf("read markup: %w", err)
		return res
	}

	out, err := j.batch.renderer.RenderCached(ctx, pipeline.Request{
		Markup:   string(markup),
		Options:  j.batch.options,
		Sanitize: j.batch.sanitize,
	})
	if err != nil {
		res.Error = err
		return res
	}
	res.Key = out.Key
	res.Hit = out.Hit

	if err := os.WriteFile(j.Output, out.Result.Data, 0o644); err != nil {
		res.Error = fmt.Errorf("write image: %w", err)
	}
	return res
}

// RenderResult represents the result of a render job
type RenderResult struct {
	Source   string
	Output   string
	Key      string
	Hit      bool
	Duration time.Duration
	Error    error
}

// GetError returns the error from the render result
func (r *RenderResult) GetError() error {
	return r.Error
}

// BatchOption configures a BatchProcessor
type BatchOption func(*BatchProcessor)

// WithLimiter paces job starts through limiter
func WithLimiter(limiter *Limiter) BatchOption {
	return func(b *BatchProcessor) {
		b.limiter = limiter
	}
}

// WithSanitize runs the sanitizer on every file before rendering
func WithSanitize(opts *sanitize.Options) BatchOption {
	return func(b *BatchProcessor) {
		b.sanitize = opts
	}
}

// WithBatchLogger sets the progress logger
func WithBatchLogger(logger zerolog.Logger) BatchOption {
	return func(b *BatchProcessor) {
		b.logger = logger
	}
}

// BatchProcessor renders multiple markup files concurrently
type BatchProcessor struct {
	renderer    Renderer
	concurrency int
	outputDir   string
	options     render.Options
	sanitize    *sanitize.Options
	limiter     *Limiter
	logger      zerolog.Logger
}

// NewBatchProcessor creates a new batch processor writing into outputDir
func NewBatchProcessor(renderer Renderer, concurrency int, outputDir string, opts render.Options, options ...BatchOption) *BatchProcessor {
	b := &BatchProcessor{
		renderer:    renderer,
		concurrency: concurrency,
		outputDir:   outputDir,
		options:     opts,
		limiter:     NewLimiter(0, 0),
		logger:      zerolog.Nop(),
	}
	for _, o := range options {
		o(b)
	}
	return b
}

// ProcessFiles renders every source file. Results come back in source order.
func (b *BatchProcessor) ProcessFiles(ctx context.Context, sources []string) ([]*RenderResult, error) {
	if len(sources) == 0 {
		return []*RenderResult{}, nil
	}

	format, err := render.ParseFormat(string(b.options.Format))
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(b.outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}

	outputs := outputNames(sources, format.Ext())

	pool := NewPool(ctx, b.concurrency)
	pool.Start()

	for i, src := range sources {
		if !pool.Submit(&RenderJob{
			Source: src,
			Output: filepath.Join(b.outputDir, outputs[i]),
			batch:  b,
		}) {
			break
		}
	}

	var done []Result
	if ctx.Err() != nil {
		b.logger.Warn().Err(context.Cause(ctx)).Msg("batch cancelled, stopping workers")
		done = pool.Shutdown()
	} else {
		done = pool.Wait()
	}

	order := make(map[string]int, len(sources))
	for i, src := range sources {
		order[src] = i
	}

	results := make([]*RenderResult, len(sources))
	for _, r := range done {
		rr := r.(*RenderResult)
		results[order[rr.Source]] = rr

		ev := b.logger.Info()
		if rr.Error != nil {
			ev = b.logger.Warn().Err(rr.Error)
		}
		ev.Str("source", rr.Source).
			Str("output", rr.Output).
			Bool("cache_hit", rr.Hit).
			Dur("duration", rr.Duration).
			Msg("batch item done")
	}

	// Jobs dropped by cancellation never produced a result.
	for i, r := range results {
		if r == nil {
			results[i] = &RenderResult{Source: sources[i], Error: fmt.Errorf("not started: %w", context.Cause(ctx))}
		}
	}

	return results, nil
}

// ProcessPath renders a directory of markup files or the files named in a list file
func (b *BatchProcessor) ProcessPath(ctx context.Context, path string) ([]*RenderResult, error) {
	sources, err := ReadMarkupSources(path)
	if err != nil {
		return nil, err
	}
	return b.ProcessFiles(ctx, sources)
}

// ReadMarkupSources resolves path into markup files. A directory yields its
// *.html and *.htm files; any other file is read as a list with one path per
// line, relative paths resolved against the list's directory.
func ReadMarkupSources(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return readMarkupDir(path)
	}
	return ReadListFile(path)
}

func readMarkupDir(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read dir: %w", err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".html", ".htm":
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}

// ReadListFile reads file paths from a list file (one per line)
func ReadListFile(filePath string) ([]string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer func() { _ = file.Close() }()

	base := filepath.Dir(filePath)
	var paths []string
	seen := make(map[string]bool)

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if !filepath.IsAbs(line) {
			line = filepath.Join(base, line)
		}

		if !seen[line] {
			seen[line] = true
			paths = append(paths, line)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan file: %w", err)
	}

	return paths, nil
}

// outputNames maps sources to image file names, suffixing repeated base names.
func outputNames(sources []string, ext string) []string {
	names := make([]string, len(sources))
	used := make(map[string]int)
	for i, src := range sources {
		stem := strings.TrimSuffix(filepath.Base(src), filepath.Ext(src))
		n := used[stem]
		used[stem] = n + 1
		if n > 0 {
			stem = fmt.Sprintf("%s-%d", stem, n)
		}
		names[i] = stem + "." + ext
	}
	return names
}
