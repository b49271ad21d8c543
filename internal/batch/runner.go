package batch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/scribe/internal/convert"
	"github.com/MikeSquared-Agency/scribe/internal/dialogue"
	"github.com/MikeSquared-Agency/scribe/internal/store"
)

// Config holds the batch command configuration.
type Config struct {
	InputDir         string
	OutputDir        string // per-transcript JSON files; empty to skip
	DatasetPath      string // JSON Lines dataset appended to; empty to skip
	ManifestPath     string
	Pattern          string // glob on file names (default: "*.txt")
	AssistantSpeaker string
	SystemContext    string
	MinTurns         int // conversations with fewer non-system messages are skipped
	StatePath        string
	DryRun           bool
}

// Persister stores formatted conversations.
type Persister interface {
	WriteConversation(ctx context.Context, in store.ConversationInput) (uuid.UUID, error)
}

// Notifier receives the rendered summary of a finished run.
type Notifier interface {
	PostMessage(ctx context.Context, text string) (string, error)
}

// FileSummary is the outcome for one transcript.
type FileSummary struct {
	Path           string
	Speakers       []string
	Messages       int
	Skipped        bool
	ConversationID string
	Err            string
}

// Summary is the outcome of a batch run.
type Summary struct {
	Files    []FileSummary
	Resumed  int // files already processed by an earlier run
	DryRun   bool
	StateRef string
}

// Runner orchestrates a batch conversion.
type Runner struct {
	cfg    Config
	store  Persister
	notify Notifier
	logger *slog.Logger
}

// NewRunner creates a batch runner. The persister and notifier may be nil.
func NewRunner(cfg Config, p Persister, n Notifier, logger *slog.Logger) *Runner {
	if cfg.Pattern == "" {
		cfg.Pattern = "*.txt"
	}
	return &Runner{
		cfg:    cfg,
		store:  p,
		notify: n,
		logger: logger,
	}
}

// Run converts every matching transcript under the input directory. Per-file
// failures are recorded in the summary and state; the run carries on.
func (r *Runner) Run(ctx context.Context) (*Summary, error) {
	if _, err := filepath.Match(r.cfg.Pattern, ""); err != nil {
		return nil, fmt.Errorf("pattern %q: %w", r.cfg.Pattern, err)
	}

	state, err := LoadState(r.cfg.StatePath)
	if err != nil {
		return nil, fmt.Errorf("load state: %w", err)
	}

	var manifest *Manifest
	if r.cfg.ManifestPath != "" {
		if manifest, err = LoadManifest(r.cfg.ManifestPath); err != nil {
			return nil, err
		}
	}

	files, err := r.discoverFiles()
	if err != nil {
		return nil, fmt.Errorf("discover files: %w", err)
	}

	summary := &Summary{DryRun: r.cfg.DryRun, StateRef: state.Path()}
	var pending []string
	for _, rel := range files {
		if state.IsProcessed(r.stateKey(rel)) {
			summary.Resumed++
			continue
		}
		pending = append(pending, rel)
	}

	r.logger.Info("files discovered",
		"total", len(files),
		"pending", len(pending),
		"already_processed", summary.Resumed,
	)

	var dataset *os.File
	if r.cfg.DatasetPath != "" && !r.cfg.DryRun {
		if err := os.MkdirAll(filepath.Dir(r.cfg.DatasetPath), 0o755); err != nil {
			return nil, fmt.Errorf("mkdir dataset dir: %w", err)
		}
		dataset, err = os.OpenFile(r.cfg.DatasetPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open dataset: %w", err)
		}
		defer dataset.Close()
	}

	state.FilesRemaining = len(pending)
	base := FileOptions{AssistantSpeaker: r.cfg.AssistantSpeaker, SystemContext: r.cfg.SystemContext}

	for _, rel := range pending {
		select {
		case <-ctx.Done():
			r.logger.Info("batch interrupted, saving state")
			r.saveState(state)
			return summary, ctx.Err()
		default:
		}

		opts, skip := manifest.Resolve(rel, base)
		res := FileSummary{Path: rel}

		switch {
		case skip:
			res.Skipped = true
			r.logger.Info("skipping file per manifest", "path", rel)
		case opts.AssistantSpeaker == "":
			res.Err = "no assistant speaker configured"
		default:
			if err := r.processFile(ctx, rel, opts, dataset, &res); err != nil {
				res.Err = err.Error()
			}
		}

		if res.Err != "" {
			r.logger.Warn("file failed", "path", rel, "error", res.Err)
			state.AddError(fmt.Sprintf("%s: %s", rel, res.Err))
		} else {
			state.MarkProcessed(r.stateKey(rel))
			if !res.Skipped {
				state.Conversations++
				state.Messages += res.Messages
			}
		}
		state.FilesRemaining--
		summary.Files = append(summary.Files, res)
		r.saveState(state)
	}

	r.logger.Info("batch complete",
		"files", len(summary.Files),
		"converted", summary.Converted(),
		"errors", summary.Errors(),
		"dry_run", r.cfg.DryRun,
	)
	r.notifySummary(ctx, summary)

	return summary, nil
}

// notifySummary posts the summary; a failed post never fails the run.
func (r *Runner) notifySummary(ctx context.Context, summary *Summary) {
	if r.notify == nil || r.cfg.DryRun {
		return
	}
	ts, err := r.notify.PostMessage(ctx, FormatSummary(summary))
	if err != nil {
		r.logger.Warn("failed to post batch summary", "error", err)
		return
	}
	r.logger.Debug("batch summary posted", "ts", ts)
}

func (r *Runner) processFile(ctx context.Context, rel string, opts FileOptions, dataset *os.File, res *FileSummary) error {
	data, err := os.ReadFile(filepath.Join(r.cfg.InputDir, rel))
	if err != nil {
		return fmt.Errorf("read: %w", err)
	}

	conv := dialogue.Process(string(data), opts.AssistantSpeaker, opts.SystemContext)
	res.Speakers = conv.Speakers()
	res.Messages = len(conv.Messages)

	if conv.Turns() < r.cfg.MinTurns {
		r.logger.Info("skipping short conversation", "path", rel, "turns", conv.Turns(), "min_turns", r.cfg.MinTurns)
		res.Skipped = true
		return nil
	}

	r.logger.Info("converted transcript",
		"path", rel,
		"messages", res.Messages,
		"speakers", len(res.Speakers),
		"dry_run", r.cfg.DryRun,
	)
	if r.cfg.DryRun {
		return nil
	}

	// Non-idempotent steps last: a failed file is retried from scratch.
	if r.cfg.OutputDir != "" {
		out, err := convert.Marshal(conv)
		if err != nil {
			return fmt.Errorf("marshal: %w", err)
		}
		dst := filepath.Join(r.cfg.OutputDir, strings.TrimSuffix(rel, filepath.Ext(rel))+".json")
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return fmt.Errorf("mkdir: %w", err)
		}
		if err := os.WriteFile(dst, out, 0o644); err != nil {
			return fmt.Errorf("write output: %w", err)
		}
	}

	if r.store != nil {
		id, err := r.store.WriteConversation(ctx, store.ConversationInput{
			SourceRef:        rel,
			AssistantSpeaker: opts.AssistantSpeaker,
			Conversation:     conv,
		})
		if err != nil {
			return fmt.Errorf("persist: %w", err)
		}
		res.ConversationID = id.String()
	}

	if dataset != nil {
		if err := convert.AppendJSONL(dataset, conv); err != nil {
			return fmt.Errorf("append dataset: %w", err)
		}
	}

	return nil
}

// stateKey identifies a file in the state file. State files are shared across
// input directories, so the key is the absolute path.
func (r *Runner) stateKey(rel string) string {
	return filepath.Join(r.cfg.InputDir, filepath.FromSlash(rel))
}

func (r *Runner) saveState(state *State) {
	if r.cfg.DryRun {
		return
	}
	if err := state.Save(); err != nil {
		r.logger.Warn("failed to save state", "path", state.Path(), "error", err)
	}
}

// discoverFiles returns matching files relative to the input directory, sorted.
func (r *Runner) discoverFiles() ([]string, error) {
	root, err := filepath.Abs(expandHome(r.cfg.InputDir))
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", root)
	}
	r.cfg.InputDir = root

	var files []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrPermission) {
				r.logger.Warn("skipping unreadable path", "path", path, "error", err)
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		if ok, _ := filepath.Match(r.cfg.Pattern, d.Name()); !ok {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Strings(files)
	return files, nil
}

// Converted counts files that produced a conversation.
func (s *Summary) Converted() int {
	n := 0
	for _, f := range s.Files {
		if f.Err == "" && !f.Skipped {
			n++
		}
	}
	return n
}

// Errors counts files that failed.
func (s *Summary) Errors() int {
	n := 0
	for _, f := range s.Files {
		if f.Err != "" {
			n++
		}
	}
	return n
}

// FormatSummary renders a batch summary for the terminal.
func FormatSummary(s *Summary) string {
	var sb strings.Builder
	sb.WriteString("=== Batch Summary ===\n")

	skipped, messages := 0, 0
	for _, f := range s.Files {
		if f.Skipped {
			skipped++
		}
		if f.Err == "" && !f.Skipped {
			messages += f.Messages
		}
	}

	fmt.Fprintf(&sb, "Files processed: %d\n", len(s.Files))
	fmt.Fprintf(&sb, "Conversations: %d\n", s.Converted())
	fmt.Fprintf(&sb, "Messages: %d\n", messages)
	fmt.Fprintf(&sb, "Skipped: %d\n", skipped)
	fmt.Fprintf(&sb, "Already processed: %d\n", s.Resumed)
	fmt.Fprintf(&sb, "Errors: %d\n", s.Errors())
	for _, f := range s.Files {
		if f.Err != "" {
			fmt.Fprintf(&sb, "  - %s: %s\n", f.Path, f.Err)
		}
	}
	if s.DryRun {
		sb.WriteString("Mode: DRY RUN (nothing written)\n")
	} else if s.StateRef != "" {
		fmt.Fprintf(&sb, "State file: %s\n", s.StateRef)
	}

	return sb.String()
}
