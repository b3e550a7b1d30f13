package live

import (
	"fmt"
	"strings"
)

// ExportTXT renders the transcript as plain text. Consecutive messages from
// the same speaker are merged into one paragraph prefixed with the display
// name; unattributed text gets no prefix.
func ExportTXT(transcript []Message) string {
	var b strings.Builder

	i := 0
	for i < len(transcript) {
		j := i
		for j < len(transcript) && transcript[j].SpeakerID == transcript[i].SpeakerID {
			j++
		}

		texts := make([]string, 0, j-i)
		for _, m := range transcript[i:j] {
			texts = append(texts, m.Text)
		}

		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		if name := transcript[i].Speaker; name != "" {
			b.WriteString(name)
			b.WriteString(": ")
		}
		b.WriteString(strings.Join(texts, " "))

		i = j
	}

	if b.Len() > 0 {
		b.WriteString("\n")
	}
	return b.String()
}

// ExportSRT renders the transcript as SubRip subtitles, one entry per
// message, with the speaker name bracketed before the text.
func ExportSRT(transcript []Message) string {
	var b strings.Builder

	for i, m := range transcript {
		fmt.Fprintf(&b, "%d\n", i+1)
		fmt.Fprintf(&b, "%s --> %s\n", srtTimestamp(m.StartTime), srtTimestamp(m.EndTime))
		if m.Speaker != "" {
			fmt.Fprintf(&b, "[%s] %s\n\n", m.Speaker, m.Text)
		} else {
			fmt.Fprintf(&b, "%s\n\n", m.Text)
		}
	}

	return b.String()
}

// srtTimestamp formats seconds as the SubRip HH:MM:SS,mmm form.
func srtTimestamp(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	ms := int(seconds*1000 + 0.5)
	h := ms / 3600000
	ms -= h * 3600000
	m := ms / 60000
	ms -= m * 60000
	s := ms / 1000
	ms -= s * 1000
	return fmt.Sprintf("%02d:%02d:%02d,%03d", h, m, s, ms)
}
