// Package toolcall models the tool-call requests flowing through the
// pipeline as a per-tool tagged variant with a forward-compatible
// fallback, plus the target-path extraction every gate relies on.
package toolcall

import (
	"strings"
)

// Well-known tool names on the governed surface.
const (
	ToolSelectIntent   = "select_active_intent"
	ToolWriteFile      = "write_file"
	ToolApplyPatch     = "apply_patch"
	ToolExecuteCommand = "execute_command"
	ToolReadFile       = "read_file"
)

// MutationClass is the provenance class attached to every mutating call.
type MutationClass string

const (
	ClassASTRefactor     MutationClass = "AST_REFACTOR"
	ClassIntentEvolution MutationClass = "INTENT_EVOLUTION"
)

// ValidClass reports whether c is one of the two allowed mutation classes.
func ValidClass(c MutationClass) bool {
	return c == ClassASTRefactor || c == ClassIntentEvolution
}

// Args is the tagged-variant payload of a tool call. Concrete types carry
// the recognized argument shapes; Unknown preserves anything else.
type Args interface {
	isArgs()
}

// WriteArgs is the payload of a write_file call.
type WriteArgs struct {
	Path          string
	Body          string
	IntentID      string
	MutationClass MutationClass
}

// PatchArgs is the payload of an apply_patch call.
type PatchArgs struct {
	Patch         string
	IntentID      string
	MutationClass MutationClass
}

// CommandArgs is the payload of an execute_command call.
type CommandArgs struct {
	Command  string
	IntentID string
}

// SelectIntentArgs is the payload of a select_active_intent call.
type SelectIntentArgs struct {
	IntentID string
}

// ReadArgs is the payload of a read_file call.
type ReadArgs struct {
	Path string
}

// UnknownArgs preserves arguments of tools this package has no variant
// for. Recognized path keys still participate in extraction.
type UnknownArgs struct {
	Values map[string]any
}

func (WriteArgs) isArgs()        {}
func (PatchArgs) isArgs()        {}
func (CommandArgs) isArgs()      {}
func (SelectIntentArgs) isArgs() {}
func (ReadArgs) isArgs()         {}
func (UnknownArgs) isArgs()      {}

// Call is one tool invocation as received from the LLM layer.
type Call struct {
	ID      string
	Name    string
	Args    Args
	Partial bool
}

// FromMap builds a Call from a raw argument map, decoding into the tagged
// variant for recognized tools and falling back to UnknownArgs.
func FromMap(id, name string, raw map[string]any, partial bool) Call {
	c := Call{ID: id, Name: name, Partial: partial}
	str := func(key string) string {
		if v, ok := raw[key].(string); ok {
			return v
		}
		return ""
	}
	switch name {
	case ToolWriteFile:
		path := str("path")
		if path == "" {
			path = str("file_path")
		}
		c.Args = WriteArgs{
			Path:          path,
			Body:          str("body"),
			IntentID:      str("intent_id"),
			MutationClass: MutationClass(str("mutation_class")),
		}
	case ToolApplyPatch:
		patch := str("patch")
		if patch == "" {
			patch = str("diff")
		}
		c.Args = PatchArgs{
			Patch:         patch,
			IntentID:      str("intent_id"),
			MutationClass: MutationClass(str("mutation_class")),
		}
	case ToolExecuteCommand:
		c.Args = CommandArgs{Command: str("command"), IntentID: str("intent_id")}
	case ToolSelectIntent:
		c.Args = SelectIntentArgs{IntentID: str("intent_id")}
	case ToolReadFile:
		path := str("path")
		if path == "" {
			path = str("file_path")
		}
		c.Args = ReadArgs{Path: path}
	default:
		c.Args = UnknownArgs{Values: raw}
	}
	return c
}

// IntentID returns the intent_id argument, if the variant carries one.
func (c Call) IntentID() string {
	switch a := c.Args.(type) {
	case WriteArgs:
		return a.IntentID
	case PatchArgs:
		return a.IntentID
	case CommandArgs:
		return a.IntentID
	case SelectIntentArgs:
		return a.IntentID
	case UnknownArgs:
		if v, ok := a.Values["intent_id"].(string); ok {
			return v
		}
	}
	return ""
}

// Class returns the mutation_class argument, if the variant carries one.
func (c Call) Class() MutationClass {
	switch a := c.Args.(type) {
	case WriteArgs:
		return a.MutationClass
	case PatchArgs:
		return a.MutationClass
	case UnknownArgs:
		if v, ok := a.Values["mutation_class"].(string); ok {
			return MutationClass(v)
		}
	}
	return ""
}

// WithMetadata returns a copy of the call with intent_id and
// mutation_class filled in on variants that carry them.
func (c Call) WithMetadata(intentID string, class MutationClass) Call {
	switch a := c.Args.(type) {
	case WriteArgs:
		a.IntentID, a.MutationClass = intentID, class
		c.Args = a
	case PatchArgs:
		a.IntentID, a.MutationClass = intentID, class
		c.Args = a
	case CommandArgs:
		a.IntentID = intentID
		c.Args = a
	case UnknownArgs:
		values := make(map[string]any, len(a.Values)+2)
		for k, v := range a.Values {
			values[k] = v
		}
		values["intent_id"] = intentID
		if class != "" {
			values["mutation_class"] = string(class)
		}
		c.Args = UnknownArgs{Values: values}
	}
	return c
}

// Command returns the shell command string for execute_command calls.
func (c Call) Command() string {
	switch a := c.Args.(type) {
	case CommandArgs:
		return a.Command
	case UnknownArgs:
		if v, ok := a.Values["command"].(string); ok {
			return v
		}
	}
	return ""
}

// Patch header markers recognized in patch/diff payloads.
const (
	MarkerAddFile    = "*** Add File: "
	MarkerUpdateFile = "*** Update File: "
	MarkerDeleteFile = "*** Delete File: "
	MarkerMoveTo     = "*** Move to: "
)

// TargetPaths extracts the workspace paths a call targets: strings under
// recognized keys plus any patch header paths. Deduplicated, empties
// dropped, order preserved.
func (c Call) TargetPaths() []string {
	seen := map[string]bool{}
	var out []string
	add := func(p string) {
		p = strings.TrimSpace(p)
		if p != "" && !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}

	switch a := c.Args.(type) {
	case WriteArgs:
		add(a.Path)
	case ReadArgs:
		add(a.Path)
	case PatchArgs:
		for _, p := range PatchPaths(a.Patch) {
			add(p)
		}
	case UnknownArgs:
		for _, key := range []string{"path", "file_path"} {
			if v, ok := a.Values[key].(string); ok {
				add(v)
			}
		}
		if files, ok := a.Values["files"].([]any); ok {
			for _, f := range files {
				if s, ok := f.(string); ok {
					add(s)
				}
			}
		}
		if files, ok := a.Values["files"].([]string); ok {
			for _, f := range files {
				add(f)
			}
		}
		for _, key := range []string{"patch", "diff"} {
			if v, ok := a.Values[key].(string); ok {
				for _, p := range PatchPaths(v) {
					add(p)
				}
			}
		}
	}
	return out
}

// PatchPaths scans a patch body for header markers and returns the
// referenced paths in order of appearance.
func PatchPaths(patch string) []string {
	var out []string
	for _, line := range strings.Split(patch, "\n") {
		line = strings.TrimRight(line, "\r")
		for _, marker := range []string{MarkerAddFile, MarkerUpdateFile, MarkerDeleteFile, MarkerMoveTo} {
			if strings.HasPrefix(line, marker) {
				if p := strings.TrimSpace(strings.TrimPrefix(line, marker)); p != "" {
					out = append(out, p)
				}
			}
		}
	}
	return out
}

// HasDestructiveMarkers reports whether a patch body deletes or moves
// files.
func HasDestructiveMarkers(patch string) bool {
	for _, line := range strings.Split(patch, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.HasPrefix(line, MarkerDeleteFile) || strings.HasPrefix(line, MarkerMoveTo) {
			return true
		}
	}
	return false
}
