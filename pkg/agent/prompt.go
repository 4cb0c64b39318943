package agent

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// DefaultSystemPrompt is the instruction used when no prompt file is configured.
const DefaultSystemPrompt = `You are an assistant that answers questions about a PostgreSQL database holding the Pagila DVD rental store. For each question, work out what information you need, use the provided tools to inspect tables and run safe SQL, then reply with a short answer.

Format and safety rules:
- Always finish with: Final Answer: <answer>
- Only use the provided tools. Never make data up.
- Write read-only SQL (SELECT) only. Never use INSERT, UPDATE, DELETE, DROP, ALTER, TRUNCATE, CREATE or GRANT.
- Always add a LIMIT of 50 or less unless the user asks for fewer rows.
- Check SQL before running it. If a query fails, fix it and try again while steps remain.
- Do not select every column. Pick only the columns the question needs.
- Assume the Pagila schema (films, actors, customers, rentals).

Canned responses:
- Greetings (hi, hello): Final Answer: Hello! I am your Pagila Database Assistant. I can help you find movies, actors, and rental information.
- Questions about the assistant or the data (what is this, what tables exist): Final Answer: This is the Pagila database, which models a DVD rental store. It contains 1000 films, along with actors, customers, and rental history. You can ask me questions like "How many movies are rated PG?" or "Who is the most popular actor?".
- Anything unrelated to the database: Final Answer: I can only answer questions related to the movie database. Please ask about films, actors, or store inventory.

Working method:
- When you need structure, call list_tables or get_schema first. When the query is obvious, go straight to run_sql.
- Keep tool output small and summarize long results before answering.`

// PromptSource supplies the system instruction for new transcripts.
type PromptSource interface {
	Prompt() string
}

// StaticPrompt is a fixed instruction.
type StaticPrompt string

// Prompt returns the instruction.
func (s StaticPrompt) Prompt() string {
	if s == "" {
		return DefaultSystemPrompt
	}
	return string(s)
}

// FilePrompt serves the contents of a file and reloads it when it changes.
// The last good contents are kept if the file disappears or becomes empty.
type FilePrompt struct {
	path     string
	logger   zerolog.Logger
	watcher  *fsnotify.Watcher
	debounce time.Duration

	mu      sync.RWMutex
	current string
	timer   *time.Timer

	stopCh chan struct{}
	once   sync.Once
}

// NewFilePrompt loads path and starts watching it.
func NewFilePrompt(path string, logger zerolog.Logger) (*FilePrompt, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("invalid prompt path: %w", err)
	}

	content, err := readPrompt(abs)
	if err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create prompt watcher: %w", err)
	}

	// Watch the directory so editors that replace the file are still seen.
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch prompt directory: %w", err)
	}

	fp := &FilePrompt{
		path:     abs,
		logger:   logger.With().Str("component", "prompt").Logger(),
		watcher:  watcher,
		debounce: 200 * time.Millisecond,
		current:  content,
		stopCh:   make(chan struct{}),
	}

	go fp.run()

	fp.logger.Info().Str("path", abs).Msg("System prompt loaded from file")
	return fp, nil
}

// Prompt returns the current instruction.
func (fp *FilePrompt) Prompt() string {
	fp.mu.RLock()
	defer fp.mu.RUnlock()
	return fp.current
}

// Close stops watching.
func (fp *FilePrompt) Close() error {
	var err error
	fp.once.Do(func() {
		close(fp.stopCh)
		err = fp.watcher.Close()

		fp.mu.Lock()
		if fp.timer != nil {
			fp.timer.Stop()
		}
		fp.mu.Unlock()
	})
	return err
}

func (fp *FilePrompt) run() {
	for {
		select {
		case event, ok := <-fp.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != fp.path {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				fp.scheduleReload()
			}

		case err, ok := <-fp.watcher.Errors:
			if !ok {
				return
			}
			fp.logger.Error().Err(err).Msg("Prompt watcher error")

		case <-fp.stopCh:
			return
		}
	}
}

func (fp *FilePrompt) scheduleReload() {
	fp.mu.Lock()
	defer fp.mu.Unlock()

	if fp.timer != nil {
		fp.timer.Stop()
	}
	fp.timer = time.AfterFunc(fp.debounce, fp.reload)
}

func (fp *FilePrompt) reload() {
	content, err := readPrompt(fp.path)
	if err != nil {
		fp.logger.Warn().Err(err).Msg("Keeping previous system prompt")
		return
	}

	fp.mu.Lock()
	fp.current = content
	fp.mu.Unlock()

	fp.logger.Info().Int("bytes", len(content)).Msg("System prompt reloaded")
}

func readPrompt(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read prompt file: %w", err)
	}
	content := strings.TrimSpace(string(data))
	if content == "" {
		return "", fmt.Errorf("prompt file %s is empty", path)
	}
	return content, nil
}
