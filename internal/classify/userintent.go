package classify

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/HendryAvila/intentgate/internal/session"
	"github.com/HendryAvila/intentgate/internal/workspace"
)

// User-intent verdicts.
const (
	IntentSafe        = "safe"
	IntentDestructive = "destructive"
	IntentUnknown     = "unknown"
)

// Classification sources.
const (
	SourceLLM       = "llm"
	SourceHeuristic = "heuristic"
	SourceFallback  = "fallback"
	SourceNone      = "none"
)

const heuristicConfidence = 0.4

// ClassifierFile configures the optional LLM endpoint, read from
// classifier.yaml in the orchestration directory.
const ClassifierFile = "classifier.yaml"

// LLMConfig is the endpoint configuration for LLM-assisted classification.
type LLMConfig struct {
	Endpoint  string `yaml:"endpoint"`
	Model     string `yaml:"model,omitempty"`
	AuthToken string `yaml:"auth_token,omitempty"`
	TimeoutMS int    `yaml:"timeout_ms,omitempty"`
}

// LoadLLMConfig reads classifier.yaml under cwd's orchestration directory.
// Returns nil when the file is absent or has no endpoint.
func LoadLLMConfig(cwd string) *LLMConfig {
	data, err := os.ReadFile(filepath.Join(cwd, workspace.OrchDirName, ClassifierFile))
	if err != nil {
		return nil
	}
	var cfg LLMConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil || cfg.Endpoint == "" {
		return nil
	}
	return &cfg
}

var safeKeywords = []string{
	"read", "list", "view", "show", "display", "inspect", "explain",
	"create", "add", "edit", "update", "write", "implement", "refactor",
	"fix", "improve", "document", "test", "search", "find",
}

var destructiveKeywords = []string{
	"delete", "remove", "wipe", "drop", "destroy", "erase", "purge",
	"overwrite", "rename", "uninstall", "clear out", "get rid of",
	"clean up", "truncate",
}

// UserIntentClassifier produces safe/destructive verdicts for user
// messages, using a heuristic keyword pass with an optional LLM refinement.
type UserIntentClassifier struct {
	llm    *LLMConfig
	client *http.Client
}

// NewUserIntentClassifier creates a classifier. llm may be nil, leaving
// only the heuristic.
func NewUserIntentClassifier(llm *LLMConfig) *UserIntentClassifier {
	timeout := 5 * time.Second
	if llm != nil && llm.TimeoutMS > 0 {
		timeout = time.Duration(llm.TimeoutMS) * time.Millisecond
	}
	return &UserIntentClassifier{llm: llm, client: &http.Client{Timeout: timeout}}
}

// MessageHash returns the cache key for a user message.
func MessageHash(message string) string {
	sum := sha256.Sum256([]byte(message))
	return hex.EncodeToString(sum[:])
}

// Classify labels the user message. The heuristic verdict always computes
// first; the LLM may refine it, except that an LLM "destructive" verdict
// is downgraded when the heuristic said safe and no destructive keyword is
// present — routine edit requests must not be over-classified.
func (c *UserIntentClassifier) Classify(ctx context.Context, message string) session.UserIntentClassification {
	hash := MessageHash(message)
	if strings.TrimSpace(message) == "" {
		return session.UserIntentClassification{Verdict: IntentUnknown, Source: SourceNone, MessageHash: hash}
	}

	heuristic := c.heuristic(message, hash)

	if c.llm == nil {
		return heuristic
	}

	llmResult, err := c.classifyLLM(ctx, message)
	if err != nil {
		fallback := heuristic
		fallback.Source = SourceFallback
		return fallback
	}
	llmResult.MessageHash = hash

	if llmResult.Verdict == IntentDestructive &&
		heuristic.Verdict == IntentSafe &&
		!containsAny(message, destructiveKeywords) {
		return heuristic
	}
	return llmResult
}

func (c *UserIntentClassifier) heuristic(message, hash string) session.UserIntentClassification {
	out := session.UserIntentClassification{
		Verdict:     IntentUnknown,
		Confidence:  heuristicConfidence,
		Source:      SourceHeuristic,
		MessageHash: hash,
	}
	switch {
	case containsAny(message, destructiveKeywords):
		out.Verdict = IntentDestructive
		out.Reason = "destructive keyword present"
	case containsAny(message, safeKeywords):
		out.Verdict = IntentSafe
		out.Reason = "safe keyword present"
	default:
		out.Confidence = 0
		out.Source = SourceNone
	}
	return out
}

func containsAny(message string, keywords []string) bool {
	lower := strings.ToLower(message)
	for _, k := range keywords {
		if strings.Contains(lower, k) {
			return true
		}
	}
	return false
}

const classifierPrompt = `Classify the user message below as "safe" or "destructive".
A message is destructive when it asks to delete, remove, wipe, overwrite,
rename, or otherwise discard existing files or data. Routine development
requests (read, create, edit, refactor, fix, test) are safe.
Respond with exactly one JSON object: {"verdict":"safe"|"destructive","reason":"...","confidence":0.0-1.0}

User message:
%s`

type llmRequest struct {
	Model  string `json:"model,omitempty"`
	Prompt string `json:"prompt"`
}

type llmResponse struct {
	Verdict    string  `json:"verdict"`
	Reason     string  `json:"reason"`
	Confidence float64 `json:"confidence"`
	Content    string  `json:"content,omitempty"`
}

func (c *UserIntentClassifier) classifyLLM(ctx context.Context, message string) (session.UserIntentClassification, error) {
	body, err := json.Marshal(llmRequest{Model: c.llm.Model, Prompt: fmt.Sprintf(classifierPrompt, message)})
	if err != nil {
		return session.UserIntentClassification{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.llm.Endpoint, bytes.NewReader(body))
	if err != nil {
		return session.UserIntentClassification{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.llm.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.llm.AuthToken)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return session.UserIntentClassification{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return session.UserIntentClassification{}, fmt.Errorf("classifier endpoint status %d", resp.StatusCode)
	}

	var parsed llmResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return session.UserIntentClassification{}, err
	}
	// Some endpoints nest the JSON verdict inside a content string.
	if parsed.Verdict == "" && parsed.Content != "" {
		var inner llmResponse
		if err := json.Unmarshal([]byte(parsed.Content), &inner); err == nil {
			parsed = inner
		}
	}
	if parsed.Verdict != IntentSafe && parsed.Verdict != IntentDestructive {
		return session.UserIntentClassification{}, fmt.Errorf("classifier returned verdict %q", parsed.Verdict)
	}

	conf := parsed.Confidence
	if conf < 0 {
		conf = 0
	}
	if conf > 1 {
		conf = 1
	}
	return session.UserIntentClassification{
		Verdict:    parsed.Verdict,
		Reason:     parsed.Reason,
		Confidence: conf,
		Source:     SourceLLM,
	}, nil
}
