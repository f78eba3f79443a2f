package export

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/gomutex/godocx"
	"github.com/gomutex/godocx/docx"

	"ltkeeper/timer"
)

const (
	fontName = "Yu Gothic"
	fontSize = 11
)

var (
	reHeading = regexp.MustCompile(`^(#{1,6})\s*(.+)$`)
	reBold    = regexp.MustCompile(`\*\*(.+?)\*\*`)
	reBullet  = regexp.MustCompile(`^[\-\*]\s+(.+)$`)
)

func writeDocx(t Talk, path string) error {
	doc, err := godocx.NewDocument()
	if err != nil {
		return err
	}

	title := t.Title
	if title == "" {
		title = "無題"
	}
	addRun(doc.AddParagraph(""), title, true, 18)
	addRun(doc.AddParagraph(""), "スピーカー: "+t.Speaker, false, fontSize)
	addRun(doc.AddParagraph(""), "日時: "+t.Date.Format("2006-01-02 15:04"), false, fontSize)
	addRun(doc.AddParagraph(""), fmt.Sprintf("持ち時間: %s / 発表時間: %s%s",
		timer.Format(int(t.Limit/time.Second)), timer.Format(int(t.Elapsed/time.Second)), overtimeNote(t)), false, fontSize)

	doc.AddParagraph("")
	addRun(doc.AddParagraph(""), "要約", true, 14)
	addMarkdown(doc, t.Summary)

	doc.AddParagraph("")
	addRun(doc.AddParagraph(""), "文字起こし", true, 14)
	for _, seg := range t.Transcripts {
		addRun(doc.AddParagraph(""), seg, false, fontSize)
	}

	return doc.SaveTo(path)
}

// addMarkdown renders the subset of markdown models usually return:
// headings, bullets and **bold**.
func addMarkdown(doc *docx.RootDoc, md string) {
	for _, line := range strings.Split(md, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || trimmed == "---" {
			continue
		}
		if m := reHeading.FindStringSubmatch(trimmed); m != nil {
			addRun(doc.AddParagraph(""), m[2], true, headingSize(len(m[1])))
			continue
		}
		if m := reBullet.FindStringSubmatch(trimmed); m != nil {
			addRich(doc.AddParagraph(""), "• "+m[1])
			continue
		}
		addRich(doc.AddParagraph(""), trimmed)
	}
}

func headingSize(level int) uint64 {
	switch level {
	case 1:
		return 16
	case 2:
		return 14
	case 3:
		return 12
	}
	return fontSize
}

func addRun(p *docx.Paragraph, text string, bold bool, size uint64) {
	run := p.AddText(stripInline(text)).Font(fontName).Size(size).Color("000000")
	if bold {
		run.Bold(true)
	}
}

func addRich(p *docx.Paragraph, text string) {
	parts := reBold.Split(text, -1)
	matches := reBold.FindAllStringSubmatch(text, -1)
	for i, part := range parts {
		if part != "" {
			addRun(p, part, false, fontSize)
		}
		if i < len(matches) {
			addRun(p, matches[i][1], true, fontSize)
		}
	}
}

func stripInline(s string) string {
	return strings.NewReplacer("**", "", "__", "", "`", "").Replace(s)
}
