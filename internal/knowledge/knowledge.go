// Package knowledge maintains the shared knowledge document: lessons
// learned from verification failures, appended for every session to read.
package knowledge

import (
	"context"
	"fmt"
	"time"

	"github.com/HendryAvila/intentgate/internal/hookengine"
	"github.com/HendryAvila/intentgate/internal/lockfile"
	"github.com/HendryAvila/intentgate/internal/session"
	"github.com/HendryAvila/intentgate/internal/toolcall"
	"github.com/HendryAvila/intentgate/internal/workspace"
)

const lessonText = "Lesson: the workspace changed underneath an approved mutation. " +
	"Re-read files after any pause and before retrying the write."

// LessonsHook returns the post-hook that appends a verification-failure
// summary to the shared knowledge file. It runs for every tool and is
// idempotent when no failure is pending.
func LessonsHook(ws *workspace.Workspace) hookengine.PostFunc {
	return func(_ context.Context, s *session.State, _ toolcall.Call, _ hookengine.ToolResult) hookengine.PostResult {
		failure := s.TakeFailure()
		if failure == nil {
			return hookengine.PostResult{Success: true}
		}

		block := fmt.Sprintf(
			"\n## Verification failure — %s\n\n"+
				"- Tool: `%s`\n"+
				"- Path: `%s`\n"+
				"- Expected hash: `%s`\n"+
				"- Actual hash: `%s`\n\n"+
				"%s\n",
			failure.Timestamp.Format(time.RFC3339),
			failure.Tool, failure.Path,
			failure.ExpectedHash, failure.ActualHash,
			lessonText,
		)

		if err := lockfile.Append(ws.KnowledgePath(), block); err != nil {
			return hookengine.PostResult{Success: false, Error: err.Error()}
		}
		return hookengine.PostResult{Success: true, SideEffects: "lesson appended"}
	}
}
