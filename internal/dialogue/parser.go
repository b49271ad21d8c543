package dialogue

import (
	"regexp"
	"strings"
)

var speakerLine = regexp.MustCompile(`^Speaker SPEAKER_(\d+):\s*(.*)`)

// ParseLine matches a single transcript line. Lines that are not speaker
// lines report false.
func ParseLine(line string) (Line, bool) {
	m := speakerLine.FindStringSubmatch(line)
	if m == nil {
		return Line{}, false
	}
	return Line{SpeakerID: m[1], Utterance: strings.TrimSpace(m[2])}, true
}

// Process converts a diarized transcript into a conversation record.
//
// Lines spoken by assistantSpeaker each become their own assistant message.
// Runs of lines from any other speaker are merged into one user message,
// keeping the "Speaker SPEAKER_<id>: " attribution inline. Lines that do not
// match the speaker pattern are dropped. The speaker comparison is a plain
// string match, so "01" and "1" are different speakers.
//
// An empty systemContext selects DefaultSystemContext.
func Process(input, assistantSpeaker, systemContext string) Conversation {
	if systemContext == "" {
		systemContext = DefaultSystemContext
	}

	conv := Conversation{
		Messages: []Message{{Role: RoleSystem, Content: systemContext}},
	}

	var pending []string
	flush := func() {
		if len(pending) == 0 {
			return
		}
		conv.Messages = append(conv.Messages, Message{
			Role:    RoleUser,
			Content: strings.Join(pending, " "),
		})
		pending = nil
	}

	seen := make(map[string]bool)
	for _, raw := range strings.Split(strings.TrimSpace(input), "\n") {
		line, ok := ParseLine(raw)
		if !ok {
			continue
		}
		if !seen[line.SpeakerID] {
			seen[line.SpeakerID] = true
			conv.speakers = append(conv.speakers, line.SpeakerID)
		}

		if line.SpeakerID == assistantSpeaker {
			flush()
			conv.Messages = append(conv.Messages, Message{
				Role:    RoleAssistant,
				Content: line.Utterance,
			})
			continue
		}
		pending = append(pending, line.String())
	}
	flush()

	return conv
}

// String renders the line back in transcript form with the utterance trimmed.
func (l Line) String() string {
	return "Speaker SPEAKER_" + l.SpeakerID + ": " + l.Utterance
}

// Speakers returns the speaker IDs seen while parsing, in order of first
// appearance.
func (c Conversation) Speakers() []string {
	out := make([]string, len(c.speakers))
	copy(out, c.speakers)
	return out
}

// Turns counts the non-system messages.
func (c Conversation) Turns() int {
	n := 0
	for _, m := range c.Messages {
		if m.Role != RoleSystem {
			n++
		}
	}
	return n
}
