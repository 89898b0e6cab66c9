// Package classify houses the three classifiers the gate consults: shell
// commands, tool names, and user-intent messages.
package classify

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/HendryAvila/intentgate/internal/workspace"
)

// CommandVerdict is the binary outcome of command classification.
type CommandVerdict string

const (
	CommandSafe        CommandVerdict = "safe"
	CommandDestructive CommandVerdict = "destructive"
)

// Policy file names recognized in the orchestration directory.
const (
	PolicyFileJSON = "command-policy.json"
	PolicyFileYAML = "command-policy.yaml"
)

// CommandPolicy is the optional project policy overlay. Project patterns
// take precedence over the built-ins.
type CommandPolicy struct {
	Safe        []string `json:"safe,omitempty" yaml:"safe,omitempty"`
	Destructive []string `json:"destructive,omitempty" yaml:"destructive,omitempty"`
}

// Built-in safe patterns: listing, reading, VCS inspection, environment
// queries. Matched against the lowercased, trimmed command.
var builtinSafe = compileAll([]string{
	`^ls(\s|$)`,
	`^ll(\s|$)`,
	`^dir(\s|$)`,
	`^pwd$`,
	`^cat\s`,
	`^head(\s|$)`,
	`^tail(\s|$)`,
	`^wc(\s|$)`,
	`^file\s`,
	`^stat\s`,
	`^du(\s|$)`,
	`^df(\s|$)`,
	`^grep\s`,
	`^rg\s`,
	`^which\s`,
	`^whereis\s`,
	`^type\s`,
	`^echo\s[^|;&]*$`,
	`^printenv(\s|$)`,
	`^env$`,
	`^uname(\s|$)`,
	`^whoami$`,
	`^id(\s|$)`,
	`^date(\s|$)`,
	`^git\s+status(\s|$)`,
	`^git\s+diff(\s|$)`,
	`^git\s+log(\s|$)`,
	`^git\s+show(\s|$)`,
	`^git\s+branch$`,
	`^git\s+remote(\s+-v)?$`,
	`^git\s+blame\s`,
	`^node\s+--version$`,
	`^npm\s+(ls|list|view|outdated)(\s|$)`,
	`^go\s+(version|env|list)(\s|$)`,
	`^python3?\s+--version$`,
})

// Built-in destructive patterns: file removal/move/copy, package and
// build mutations, privileged VCS mutations, in-place editors.
var builtinDestructive = compileAll([]string{
	`(^|\s|;|&&|\|\|)rm\s`,
	`(^|\s|;|&&|\|\|)rmdir\s`,
	`(^|\s|;|&&|\|\|)unlink\s`,
	`(^|\s|;|&&|\|\|)mv\s`,
	`(^|\s|;|&&|\|\|)cp\s`,
	`(^|\s|;|&&|\|\|)install\s`,
	`(^|\s|;|&&|\|\|)dd\s`,
	`(^|\s|;|&&|\|\|)truncate\s`,
	`(^|\s|;|&&|\|\|)chmod\s`,
	`(^|\s|;|&&|\|\|)chown\s`,
	`(^|\s|;|&&|\|\|)ln\s`,
	`(^|\s|;|&&|\|\|)touch\s`,
	`(^|\s|;|&&|\|\|)mkdir\s`,
	`(^|\s|;|&&|\|\|)tee\s`,
	`^npm\s+(install|i|uninstall|update|ci|prune|publish)(\s|$)`,
	`^yarn\s+(add|remove|install|upgrade)(\s|$)`,
	`^pnpm\s+(add|remove|install|update)(\s|$)`,
	`^pip3?\s+(install|uninstall)(\s|$)`,
	`^cargo\s+(install|build|publish)(\s|$)`,
	`^go\s+(build|install|get|mod)(\s|$)`,
	`^make(\s|$)`,
	`^cmake(\s|$)`,
	`^npm\s+run\s`,
	`^yarn\s+build(\s|$)`,
	`^git\s+(push|commit|reset|rebase|merge|checkout|restore|clean|stash|cherry-pick|revert|am|apply)(\s|$)`,
	`^sed\s+(.*\s)?-i`,
	`^perl\s+(.*\s)?-i`,
	`^sudo\s`,
	`^curl\s`,
	`^wget\s`,
})

func compileAll(patterns []string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		out = append(out, regexp.MustCompile(p))
	}
	return out
}

// CommandClassifier classifies shell commands against project policy and
// the built-in pattern tables.
type CommandClassifier struct {
	logger *slog.Logger
}

// NewCommandClassifier creates a classifier without debug logging.
func NewCommandClassifier() *CommandClassifier {
	return &CommandClassifier{}
}

// NewCommandClassifierDebug threads a logger that records one line per
// decision branch. Classification behavior is identical.
func NewCommandClassifierDebug(logger *slog.Logger) *CommandClassifier {
	return &CommandClassifier{logger: logger}
}

func (c *CommandClassifier) debugf(msg string, args ...any) {
	if c.logger != nil {
		c.logger.Debug(msg, args...)
	}
}

// Classify labels a command safe or destructive. cwd locates the optional
// project policy file; an empty cwd skips the policy overlay.
func (c *CommandClassifier) Classify(command, cwd string) CommandVerdict {
	cmd := strings.ToLower(strings.TrimSpace(command))
	if cmd == "" {
		c.debugf("command classify: empty command", "verdict", CommandSafe)
		return CommandSafe
	}

	// Redirection writes to an unknown target; never safe.
	if strings.ContainsAny(cmd, "<>") {
		c.debugf("command classify: redirection operator", "command", cmd)
		return CommandDestructive
	}

	if policy := loadPolicy(cwd); policy != nil {
		for _, p := range policy.Safe {
			if re, err := regexp.Compile(p); err == nil && re.MatchString(cmd) {
				c.debugf("command classify: project safe pattern", "pattern", p)
				return CommandSafe
			}
		}
		for _, p := range policy.Destructive {
			if re, err := regexp.Compile(p); err == nil && re.MatchString(cmd) {
				c.debugf("command classify: project destructive pattern", "pattern", p)
				return CommandDestructive
			}
		}
	}

	for _, re := range builtinSafe {
		if re.MatchString(cmd) {
			c.debugf("command classify: builtin safe pattern", "pattern", re.String())
			return CommandSafe
		}
	}
	for _, re := range builtinDestructive {
		if re.MatchString(cmd) {
			c.debugf("command classify: builtin destructive pattern", "pattern", re.String())
			return CommandDestructive
		}
	}

	c.debugf("command classify: no pattern matched, defaulting", "command", cmd)
	return CommandDestructive
}

// loadPolicy reads command-policy.json or command-policy.yaml from the
// orchestration directory under cwd. Returns nil when absent or invalid.
func loadPolicy(cwd string) *CommandPolicy {
	if cwd == "" {
		return nil
	}
	orch := filepath.Join(cwd, workspace.OrchDirName)

	if data, err := os.ReadFile(filepath.Join(orch, PolicyFileJSON)); err == nil {
		var p CommandPolicy
		if err := json.Unmarshal(data, &p); err == nil {
			return &p
		}
		return nil
	}
	if data, err := os.ReadFile(filepath.Join(orch, PolicyFileYAML)); err == nil {
		var p CommandPolicy
		if err := yaml.Unmarshal(data, &p); err == nil {
			return &p
		}
	}
	return nil
}

// shellWrappers maps wrapper invocations to the flag introducing the
// wrapped command string.
var shellWrappers = []struct {
	prefix string
	flag   string
}{
	{"sh", "-c"},
	{"bash", "-c"},
	{"zsh", "-c"},
	{"powershell", "-command"},
	{"powershell.exe", "-command"},
	{"pwsh", "-command"},
	{"pwsh.exe", "-command"},
}

// Unwrap strips one layer of shell wrapper, returning the inner command
// string. Commands without a recognized wrapper come back unchanged.
func Unwrap(command string) string {
	trimmed := strings.TrimSpace(command)
	fields := strings.Fields(trimmed)
	if len(fields) < 3 {
		return trimmed
	}

	head := strings.ToLower(filepath.Base(fields[0]))
	for _, w := range shellWrappers {
		if head != w.prefix {
			continue
		}
		idx := -1
		for i := 1; i < len(fields); i++ {
			if strings.ToLower(fields[i]) == w.flag {
				idx = i
				break
			}
		}
		if idx < 0 || idx+1 >= len(fields) {
			return trimmed
		}
		inner := strings.TrimSpace(strings.Join(fields[idx+1:], " "))
		return trimQuotes(inner)
	}
	return trimmed
}

func trimQuotes(s string) string {
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}

// String implements fmt.Stringer for log output.
func (v CommandVerdict) String() string { return string(v) }

var _ fmt.Stringer = CommandSafe
