// Package export archives a finished talk as markdown, docx and, when audio
// was recorded, FLAC.
package export

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"ltkeeper/timer"
)

const maxSlugRunes = 40

type Talk struct {
	Title       string
	Speaker     string
	Date        time.Time
	Limit       time.Duration
	Elapsed     time.Duration
	Transcripts []string
	Summary     string // body only, without the title/speaker header
	Audio       []byte // FLAC; optional
}

type Paths struct {
	Markdown string
	Docx     string
	Audio    string // empty when no audio was written
}

// Slug turns a title into a filename fragment. Letters and digits of any
// script are kept; everything else collapses to a single '-'.
func Slug(title string) string {
	var b strings.Builder
	dash := false
	n := 0
	for _, r := range title {
		if n >= maxSlugRunes {
			break
		}
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if dash && b.Len() > 0 {
				b.WriteRune('-')
				n++
				if n >= maxSlugRunes {
					break
				}
			}
			dash = false
			b.WriteRune(unicode.ToLower(r))
			n++
			continue
		}
		dash = true
	}
	s := strings.Trim(b.String(), "-")
	if s == "" {
		return "talk"
	}
	return s
}

// BaseName is "{YYYY-MM-DD_HHMM}_{slug}".
func BaseName(t Talk) string {
	return t.Date.Format("2006-01-02_1504") + "_" + Slug(t.Title)
}

func overtimeNote(t Talk) string {
	if t.Elapsed <= t.Limit {
		return ""
	}
	return fmt.Sprintf(" (超過 %s)", timer.Format(int((t.Elapsed-t.Limit)/time.Second)))
}

// Markdown renders the talk record.
func Markdown(t Talk) string {
	var b strings.Builder
	title := t.Title
	if title == "" {
		title = "無題"
	}
	fmt.Fprintf(&b, "# %s\n\n", title)
	fmt.Fprintf(&b, "- スピーカー: %s\n", t.Speaker)
	fmt.Fprintf(&b, "- 日時: %s\n", t.Date.Format("2006-01-02 15:04"))
	fmt.Fprintf(&b, "- 持ち時間: %s\n", timer.Format(int(t.Limit/time.Second)))
	fmt.Fprintf(&b, "- 発表時間: %s%s\n\n", timer.Format(int(t.Elapsed/time.Second)), overtimeNote(t))

	b.WriteString("## 要約\n\n")
	if s := strings.TrimSpace(t.Summary); s != "" {
		b.WriteString(s)
		b.WriteString("\n\n")
	} else {
		b.WriteString("(なし)\n\n")
	}

	b.WriteString("## 文字起こし\n\n")
	for _, seg := range t.Transcripts {
		b.WriteString(seg)
		b.WriteString("\n")
	}
	return b.String()
}

// Write stores the talk under dir, creating it if needed.
func Write(dir string, t Talk) (Paths, error) {
	if t.Date.IsZero() {
		t.Date = time.Now()
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return Paths{}, fmt.Errorf("create export dir: %w", err)
	}
	base := filepath.Join(dir, BaseName(t))

	p := Paths{Markdown: base + ".md", Docx: base + ".docx"}
	if err := os.WriteFile(p.Markdown, []byte(Markdown(t)), 0644); err != nil {
		return Paths{}, fmt.Errorf("write markdown: %w", err)
	}
	if err := writeDocx(t, p.Docx); err != nil {
		return p, fmt.Errorf("write docx: %w", err)
	}
	if len(t.Audio) > 0 {
		p.Audio = base + ".flac"
		if err := os.WriteFile(p.Audio, t.Audio, 0644); err != nil {
			return p, fmt.Errorf("write audio: %w", err)
		}
	}
	return p, nil
}
