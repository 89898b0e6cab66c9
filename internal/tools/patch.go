package tools

import (
	"fmt"
	"strings"
)

// Patch envelope markers.
const (
	patchBegin    = "*** Begin Patch"
	patchEnd      = "*** End Patch"
	markerAddFile = "*** Add File: "
	markerUpdate  = "*** Update File: "
	markerDelete  = "*** Delete File: "
	markerMoveTo  = "*** Move to: "
	hunkSeparator = "@@"
	eofMarker     = "*** End of File"
)

// PatchOp is one file operation parsed from a patch envelope.
type PatchOp struct {
	Kind    string // add | update | delete
	Path    string
	MoveTo  string // update only, optional
	Content string // add: full file content
	Hunks   []Hunk // update only
}

// Hunk is one context-anchored edit within an update operation.
type Hunk struct {
	Context []string // every context line of the hunk; matched ahead of Removed
	Removed []string
	Added   []string
}

// ParsePatch decodes a patch envelope into ordered file operations.
func ParsePatch(patch string) ([]PatchOp, error) {
	lines := strings.Split(strings.ReplaceAll(patch, "\r\n", "\n"), "\n")

	var ops []PatchOp
	i := 0
	for i < len(lines) {
		line := lines[i]
		switch {
		case line == patchBegin || line == patchEnd || strings.TrimSpace(line) == "":
			i++
		case strings.HasPrefix(line, markerAddFile):
			path := strings.TrimSpace(strings.TrimPrefix(line, markerAddFile))
			if path == "" {
				return nil, fmt.Errorf("patch: add-file marker without a path")
			}
			i++
			var content strings.Builder
			for i < len(lines) && strings.HasPrefix(lines[i], "+") {
				content.WriteString(strings.TrimPrefix(lines[i], "+"))
				content.WriteString("\n")
				i++
			}
			ops = append(ops, PatchOp{Kind: "add", Path: path, Content: content.String()})
		case strings.HasPrefix(line, markerDelete):
			path := strings.TrimSpace(strings.TrimPrefix(line, markerDelete))
			if path == "" {
				return nil, fmt.Errorf("patch: delete-file marker without a path")
			}
			ops = append(ops, PatchOp{Kind: "delete", Path: path})
			i++
		case strings.HasPrefix(line, markerUpdate):
			op := PatchOp{Kind: "update", Path: strings.TrimSpace(strings.TrimPrefix(line, markerUpdate))}
			if op.Path == "" {
				return nil, fmt.Errorf("patch: update-file marker without a path")
			}
			i++
			if i < len(lines) && strings.HasPrefix(lines[i], markerMoveTo) {
				op.MoveTo = strings.TrimSpace(strings.TrimPrefix(lines[i], markerMoveTo))
				i++
			}
			var hunk *Hunk
			flush := func() {
				if hunk != nil && (len(hunk.Added)+len(hunk.Removed)+len(hunk.Context) > 0) {
					op.Hunks = append(op.Hunks, *hunk)
				}
				hunk = nil
			}
			for i < len(lines) {
				l := lines[i]
				if strings.HasPrefix(l, "*** ") && l != eofMarker {
					break
				}
				switch {
				case l == eofMarker:
					i++
				case strings.HasPrefix(l, hunkSeparator):
					flush()
					hunk = &Hunk{}
					i++
				case strings.HasPrefix(l, "+"):
					if hunk == nil {
						hunk = &Hunk{}
					}
					hunk.Added = append(hunk.Added, strings.TrimPrefix(l, "+"))
					i++
				case strings.HasPrefix(l, "-"):
					if hunk == nil {
						hunk = &Hunk{}
					}
					hunk.Removed = append(hunk.Removed, strings.TrimPrefix(l, "-"))
					i++
				case strings.HasPrefix(l, " "):
					if hunk == nil {
						hunk = &Hunk{}
					}
					hunk.Context = append(hunk.Context, strings.TrimPrefix(l, " "))
					i++
				case strings.TrimSpace(l) == "":
					i++
				default:
					return nil, fmt.Errorf("patch: unexpected line in update section: %q", l)
				}
			}
			flush()
			ops = append(ops, op)
		default:
			return nil, fmt.Errorf("patch: unexpected line %q", line)
		}
	}
	if len(ops) == 0 {
		return nil, fmt.Errorf("patch: no file operations found")
	}
	return ops, nil
}

// ApplyHunks rewrites content by applying each hunk in order. Context and
// removed lines anchor the edit; a hunk whose anchor cannot be found
// fails the whole operation.
func ApplyHunks(content string, hunks []Hunk) (string, error) {
	trailingNewline := strings.HasSuffix(content, "\n") || content == ""
	lines := strings.Split(strings.ReplaceAll(content, "\r\n", "\n"), "\n")
	if trailingNewline && len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}

	cursor := 0
	for n, h := range hunks {
		anchor := append(append([]string{}, h.Context...), h.Removed...)
		replacement := append(append([]string{}, h.Context...), h.Added...)

		if len(anchor) == 0 {
			// Pure insertion appends at the end of the file.
			lines = append(lines, h.Added...)
			cursor = len(lines)
			continue
		}

		pos := findLines(lines, anchor, cursor)
		if pos < 0 {
			return "", fmt.Errorf("patch: hunk %d context not found", n+1)
		}
		rebuilt := make([]string, 0, len(lines)-len(anchor)+len(replacement))
		rebuilt = append(rebuilt, lines[:pos]...)
		rebuilt = append(rebuilt, replacement...)
		rebuilt = append(rebuilt, lines[pos+len(anchor):]...)
		lines = rebuilt
		cursor = pos + len(replacement)
	}

	out := strings.Join(lines, "\n")
	if trailingNewline && out != "" {
		out += "\n"
	}
	return out, nil
}

// findLines locates the first occurrence of needle in haystack at or
// after start.
func findLines(haystack, needle []string, start int) int {
	if len(needle) == 0 {
		return start
	}
	for i := start; i+len(needle) <= len(haystack); i++ {
		match := true
		for j := range needle {
			if haystack[i+j] != needle[j] {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	return -1
}
