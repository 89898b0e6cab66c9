// Package snapshot captures pre-mutation file state and enforces the
// optimistic lock that detects external edits between capture and write.
package snapshot

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"time"

	"github.com/HendryAvila/intentgate/internal/hookengine"
	"github.com/HendryAvila/intentgate/internal/session"
	"github.com/HendryAvila/intentgate/internal/toolcall"
	"github.com/HendryAvila/intentgate/internal/veto"
	"github.com/HendryAvila/intentgate/internal/workspace"
)

// HashBytes returns the hex SHA-256 over raw bytes.
func HashBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// IsBinary reports whether content contains a NUL byte.
func IsBinary(b []byte) bool {
	return bytes.IndexByte(b, 0) >= 0
}

// Capture reads the current state of a file into a Snapshot.
func Capture(absPath string) session.Snapshot {
	data, err := os.ReadFile(absPath)
	if err != nil {
		return session.Snapshot{Existed: false}
	}
	if IsBinary(data) {
		return session.Snapshot{Existed: true, Binary: true}
	}
	return session.Snapshot{Before: string(data), Existed: true}
}

// Hook returns the pre-hook that snapshots every target path of a
// mutating call. Partial calls are skipped: their args are incomplete.
func Hook(ws *workspace.Workspace, isMutating func(string) bool) hookengine.PreFunc {
	return func(_ context.Context, s *session.State, call toolcall.Call) hookengine.PreResult {
		if call.Partial || !isMutating(call.Name) {
			return hookengine.Allow()
		}
		for _, p := range call.TargetPaths() {
			norm := ws.Normalize(p)
			if norm == "" {
				continue
			}
			s.PutSnapshot(call.ID, norm, Capture(ws.Abs(p)))
		}
		return hookengine.Allow()
	}
}

// Check revalidates a path against its snapshot. It declares the file
// stale iff existence disagrees with the snapshot or text content hashes
// differ; binary files are never stale through this path. On stale it
// records the verification failure, marks the path stale-blocked, and
// returns the structured error.
func Check(ws *workspace.Workspace, s *session.State, callID, path, tool string) *veto.Error {
	candidates := ws.Candidates(path)
	snap, ok := s.Snapshot(callID, candidates...)
	if !ok {
		return nil
	}

	norm := ws.Normalize(path)
	data, err := os.ReadFile(ws.Abs(path))
	existsNow := err == nil

	if existsNow != snap.Existed {
		return stale(s, norm, tool, hashOfSnapshot(snap), currentHash(existsNow, data))
	}
	if !snap.Existed || snap.Binary {
		return nil
	}
	expected := HashBytes([]byte(snap.Before))
	actual := HashBytes(data)
	if expected != actual {
		return stale(s, norm, tool, expected, actual)
	}
	return nil
}

func hashOfSnapshot(snap session.Snapshot) string {
	if !snap.Existed {
		return ""
	}
	return HashBytes([]byte(snap.Before))
}

func currentHash(exists bool, data []byte) string {
	if !exists {
		return ""
	}
	return HashBytes(data)
}

func stale(s *session.State, norm, tool, expected, actual string) *veto.Error {
	s.SetFailure(&session.VerificationFailure{
		Tool:         tool,
		Path:         norm,
		ExpectedHash: expected,
		ActualHash:   actual,
		Timestamp:    time.Now().UTC(),
	})
	s.BlockStale(norm, tool)
	return &veto.Error{
		ErrorType:    veto.KindStaleFile,
		Code:         veto.CodeStaleLock,
		Tool:         tool,
		Path:         norm,
		ExpectedHash: expected,
		ActualHash:   actual,
		Message:      "file changed on disk since it was snapshotted: re-read it before mutating",
	}
}
