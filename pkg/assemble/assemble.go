// Package assemble builds the ordered message list handed to the LM for a
// single turn: follow-up linkage, rolling summary, archived memory, the live
// buffer, and finally the new user message, in that exact order and no
// other.
package assemble

import (
	"fmt"
	"strings"

	"github.com/canopyhq/canopy/pkg/archive"
	"github.com/canopyhq/canopy/pkg/buffer"
	"github.com/canopyhq/canopy/pkg/llm"
)

const archiveMemoryLabel = "The following are archived messages from related past conversations; treat them as reference material, not as the current thread."

// Input carries everything the assembler needs for one turn. FollowUpPrompt
// and Summary are empty strings when there is nothing to say at that step;
// Retrieved is nil when retrieval was disabled or produced no records.
type Input struct {
	FollowUpPrompt string
	Summary        string
	Retrieved      []archive.Record
	Buffer         []buffer.Turn
	UserText       string
}

// Assemble builds the five-step ordered message list. No step is appended
// when its corresponding input is empty; the order of the steps present
// is never altered.
func Assemble(in Input) []llm.Message {
	messages := make([]llm.Message, 0, 4+len(in.Buffer))

	if in.FollowUpPrompt != "" {
		messages = append(messages, llm.NewTextMessage("system", in.FollowUpPrompt))
	}

	if in.Summary != "" {
		messages = append(messages, llm.NewTextMessage("system", "Conversation summary so far: "+in.Summary))
	}

	if len(in.Retrieved) > 0 {
		messages = append(messages, llm.NewTextMessage("system", archiveMemoryMessage(in.Retrieved)))
	}

	for _, turn := range in.Buffer {
		messages = append(messages, llm.NewTextMessage(turn.Role, turn.Text))
	}

	messages = append(messages, llm.NewTextMessage("user", in.UserText))

	return messages
}

// archiveMemoryMessage renders retrieved records in the order they were
// produced by the retriever, each tagged with the title the originating
// node had at index time and the record's role.
func archiveMemoryMessage(records []archive.Record) string {
	var b strings.Builder
	b.WriteString(archiveMemoryLabel)
	for _, r := range records {
		b.WriteString(fmt.Sprintf("\n[%s | %s]: %s", r.NodeTitleAtIndexTime, r.Role, r.Text))
	}
	return b.String()
}
