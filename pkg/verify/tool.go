package verify

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// ToolResult captures one tool-backed verification run.
type ToolResult struct {
	Command  []string      `json:"command"`
	Stdout   string        `json:"stdout,omitempty"`
	Stderr   string        `json:"stderr,omitempty"`
	ExitCode int           `json:"exit_code"`
	Duration time.Duration `json:"duration"`
	Passed   bool          `json:"passed"`
}

// CommandTemplate defines an allowed command shape. The {expr}
// placeholder accepts one caller-supplied argument.
type CommandTemplate struct {
	Exec string
	Args []string
}

// ToolVerifier runs allowlisted local commands to check answers the
// sampling vote could not settle. Commands outside the template set are
// rejected before execution.
type ToolVerifier struct {
	templates map[string][]CommandTemplate
	timeout   time.Duration
}

// DefaultTemplates returns the built-in verification commands.
func DefaultTemplates() map[string][]CommandTemplate {
	return map[string][]CommandTemplate{
		"math": {
			{Exec: "python3", Args: []string{"-c", "{expr}"}},
			{Exec: "bc", Args: []string{"-l", "{expr}"}},
		},
		"coding": {
			{Exec: "gofmt", Args: []string{"-l", "{expr}"}},
			{Exec: "python3", Args: []string{"-m", "py_compile", "{expr}"}},
		},
	}
}

// NewToolVerifier creates a verifier with the given templates. Nil
// templates use the defaults.
func NewToolVerifier(templates map[string][]CommandTemplate, timeout time.Duration) *ToolVerifier {
	if templates == nil {
		templates = DefaultTemplates()
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &ToolVerifier{templates: templates, timeout: timeout}
}

// Allowed reports whether a command matches a template for the
// capability, with the reason when it does not.
func (v *ToolVerifier) Allowed(capability string, command []string) (bool, string) {
	templates, ok := v.templates[capability]
	if !ok {
		return false, fmt.Sprintf("no verification templates for capability %q", capability)
	}
	for _, tmpl := range templates {
		if matchTemplate(command, tmpl) {
			return true, ""
		}
	}
	return false, "command does not match any allowed template"
}

// CheckAnswer builds the capability's preferred command with the
// expression substituted for the placeholder and runs it.
func (v *ToolVerifier) CheckAnswer(ctx context.Context, capability, expr string) (*ToolResult, error) {
	templates, ok := v.templates[capability]
	if !ok || len(templates) == 0 {
		return nil, fmt.Errorf("no verification templates for capability %q", capability)
	}

	tmpl := templates[0]
	command := make([]string, 0, len(tmpl.Args)+1)
	command = append(command, tmpl.Exec)
	for _, arg := range tmpl.Args {
		if arg == "{expr}" {
			arg = expr
		}
		command = append(command, arg)
	}
	return v.Run(ctx, capability, command)
}

// Run executes an allowlisted command and reports the outcome. A
// non-zero exit marks the result failed; a command that cannot start at
// all is an error.
func (v *ToolVerifier) Run(ctx context.Context, capability string, command []string) (*ToolResult, error) {
	if ok, reason := v.Allowed(capability, command); !ok {
		return nil, fmt.Errorf("verification command rejected: %s", reason)
	}

	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, command[0], command[1:]...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	duration := time.Since(start)

	exitCode := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			return nil, fmt.Errorf("verification command failed to run: %w", err)
		}
	}

	return &ToolResult{
		Command:  append([]string{}, command...),
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: exitCode,
		Duration: duration,
		Passed:   exitCode == 0,
	}, nil
}

func matchTemplate(command []string, tmpl CommandTemplate) bool {
	if tmpl.Exec == "" || len(command) == 0 || command[0] != tmpl.Exec {
		return false
	}
	if len(command)-1 != len(tmpl.Args) {
		return false
	}
	for i, arg := range tmpl.Args {
		value := command[i+1]
		if arg == "{expr}" {
			if strings.TrimSpace(value) == "" {
				return false
			}
			continue
		}
		if value != arg {
			return false
		}
	}
	return true
}
