// Package initwiz implements the `secondopinion init` wizard for first-time
// setup.
package initwiz

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"golang.org/x/term"

	"github.com/leandrotocalini/SecondOpinion/internal/config"
)

const (
	configFile = "config.json"
	envFile    = ".env"
)

// StepResult records what happened in a wizard step.
type StepResult struct {
	Step    string `json:"step"`
	Skipped bool   `json:"skipped"`
	Message string `json:"message"`
}

// WizardResult is the output of a complete wizard run.
type WizardResult struct {
	Steps []StepResult `json:"steps"`
}

// Prompter abstracts interactive user input for testability. Secret reads
// without echoing when the input is a terminal.
type Prompter interface {
	Prompt(question string) (string, error)
	Secret(question string) (string, error)
	Confirm(question string) (bool, error)
}

// credentialPrompts lists the API keys the wizard collects, in display order.
var credentialPrompts = []struct {
	EnvVar string
	Label  string
}{
	{"ANTHROPIC_API_KEY", "Anthropic API key"},
	{"OPENAI_API_KEY", "OpenAI API key"},
	{"PROXY_API_KEY", "Proxy API key"},
}

// Wizard manages the init flow.
type Wizard struct {
	dir      string
	prompter Prompter
	results  []StepResult
}

// NewWizard creates a wizard that sets up the app directory at dir,
// normally ~/.secondopinion.
func NewWizard(dir string, prompter Prompter) *Wizard {
	return &Wizard{
		dir:      dir,
		prompter: prompter,
	}
}

// Run executes all wizard steps.
func (w *Wizard) Run() (*WizardResult, error) {
	if err := w.stepConfigFile(); err != nil {
		return nil, fmt.Errorf("step 1 (config file): %w", err)
	}
	if err := w.stepCredentials(); err != nil {
		return nil, fmt.Errorf("step 2 (credentials): %w", err)
	}
	if err := w.stepStorage(); err != nil {
		return nil, fmt.Errorf("step 3 (storage): %w", err)
	}
	return &WizardResult{Steps: w.results}, nil
}

// stepConfigFile writes the default config, asking only about the proxy.
func (w *Wizard) stepConfigFile() error {
	path := filepath.Join(w.dir, configFile)

	if _, err := os.Stat(path); err == nil {
		w.results = append(w.results, StepResult{
			Step:    "config_file",
			Skipped: true,
			Message: "Config already exists at " + path,
		})
		return nil
	}

	cfg := config.Default()

	useProxy, err := w.prompter.Confirm("Route third-party models through an OpenAI-compatible proxy?")
	if err != nil {
		return fmt.Errorf("confirm proxy: %w", err)
	}
	if useProxy {
		baseURL, err := w.prompter.Prompt("Proxy base URL")
		if err != nil {
			return fmt.Errorf("read proxy URL: %w", err)
		}
		cfg.Proxy.BaseURL = strings.TrimSpace(baseURL)
	}

	if err := config.Save(path, cfg); err != nil {
		return err
	}

	w.results = append(w.results, StepResult{
		Step:    "config_file",
		Message: "Created " + path + " with default tier models",
	})
	return nil
}

// stepCredentials collects missing API keys and stores them in the app
// directory's .env file. Keys already exported in the shell or stored from a
// previous run are not asked for again.
func (w *Wizard) stepCredentials() error {
	envPath := filepath.Join(w.dir, envFile)

	entries, err := godotenv.Read(envPath)
	if err != nil {
		entries = map[string]string{}
	}

	var added int
	for _, cred := range credentialPrompts {
		if os.Getenv(cred.EnvVar) != "" || entries[cred.EnvVar] != "" {
			continue
		}
		key, err := w.prompter.Secret(cred.Label + " (enter to skip)")
		if err != nil {
			return fmt.Errorf("read %s: %w", cred.Label, err)
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		entries[cred.EnvVar] = key
		added++
	}

	if added == 0 {
		w.results = append(w.results, StepResult{
			Step:    "credentials",
			Skipped: true,
			Message: "No new credentials entered",
		})
		return nil
	}

	if err := os.MkdirAll(w.dir, 0o700); err != nil {
		return fmt.Errorf("create %s: %w", w.dir, err)
	}
	if err := godotenv.Write(entries, envPath); err != nil {
		return fmt.Errorf("write %s: %w", envPath, err)
	}
	// godotenv.Write leaves the default create mode; keys should not be
	// world-readable.
	if err := os.Chmod(envPath, 0o600); err != nil {
		return fmt.Errorf("restrict %s: %w", envPath, err)
	}

	w.results = append(w.results, StepResult{
		Step:    "credentials",
		Message: fmt.Sprintf("Stored %d credential(s) in %s", added, envPath),
	})
	return nil
}

// stepStorage creates the directories the usage ledger and audit log live in.
func (w *Wizard) stepStorage() error {
	cfg, err := config.Load(filepath.Join(w.dir, configFile))
	if err != nil {
		return err
	}

	for _, path := range []string{cfg.Storage.LedgerPath, cfg.Storage.AuditPath} {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return fmt.Errorf("create %s: %w", filepath.Dir(path), err)
		}
	}

	w.results = append(w.results, StepResult{
		Step:    "storage",
		Message: fmt.Sprintf("Usage ledger at %s, audit log at %s", cfg.Storage.LedgerPath, cfg.Storage.AuditPath),
	})
	return nil
}

// Validate reports setup problems without fixing them.
func Validate(dir string) []string {
	var problems []string

	configPath := filepath.Join(dir, configFile)
	if _, err := os.Stat(configPath); errors.Is(err, fs.ErrNotExist) {
		problems = append(problems, "missing config: "+configPath)
	} else if _, err := config.Load(configPath); err != nil {
		problems = append(problems, err.Error())
	}

	if !hasCredentials(dir) {
		problems = append(problems, "no API keys in the environment or "+filepath.Join(dir, envFile))
	}

	return problems
}

// hasCredentials reports whether at least one provider key is reachable.
func hasCredentials(dir string) bool {
	for _, cred := range credentialPrompts {
		if os.Getenv(cred.EnvVar) != "" {
			return true
		}
	}
	entries, err := godotenv.Read(filepath.Join(dir, envFile))
	if err != nil {
		return false
	}
	for _, cred := range credentialPrompts {
		if entries[cred.EnvVar] != "" {
			return true
		}
	}
	return false
}

// TerminalPrompter reads answers from a file, hiding key entry when the file
// is a terminal.
type TerminalPrompter struct {
	in      *os.File
	out     io.Writer
	scanner *bufio.Scanner
}

// NewTerminalPrompter wraps in and out, normally os.Stdin and os.Stdout.
func NewTerminalPrompter(in *os.File, out io.Writer) *TerminalPrompter {
	return &TerminalPrompter{
		in:      in,
		out:     out,
		scanner: bufio.NewScanner(in),
	}
}

// Prompt asks a question and returns the trimmed answer line.
func (p *TerminalPrompter) Prompt(question string) (string, error) {
	fmt.Fprintf(p.out, "%s: ", question)
	return p.readLine()
}

// Secret asks a question without echoing the answer. When the input is not a
// terminal it falls back to a plain line read so piped input still works.
func (p *TerminalPrompter) Secret(question string) (string, error) {
	fmt.Fprintf(p.out, "%s: ", question)

	fd := int(p.in.Fd())
	if !term.IsTerminal(fd) {
		return p.readLine()
	}

	raw, err := term.ReadPassword(fd)
	fmt.Fprintln(p.out)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(raw)), nil
}

// Confirm asks a yes/no question. Anything but y/yes is no.
func (p *TerminalPrompter) Confirm(question string) (bool, error) {
	fmt.Fprintf(p.out, "%s [y/N]: ", question)
	answer, err := p.readLine()
	if err != nil {
		return false, err
	}
	answer = strings.ToLower(answer)
	return answer == "y" || answer == "yes", nil
}

func (p *TerminalPrompter) readLine() (string, error) {
	if !p.scanner.Scan() {
		if err := p.scanner.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	return strings.TrimSpace(p.scanner.Text()), nil
}
