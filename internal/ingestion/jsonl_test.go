package ingestion

import (
	"strings"
	"testing"

	"github.com/opennotice/noticebot/internal/notice"
)

func Test_ReadCandidates(t *testing.T) {
	t.Parallel()
	in := `{"title":"Exam Schedule","content":"Exams begin 3 November.","category":"exam"}

{"title":"Holiday List","content":"List attached.","source_url":"https://notices.example.edu/holiday/1"}
`
	got, err := ReadCandidates(strings.NewReader(in))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("candidates: got %d, want 2 (blank line skipped)", len(got))
	}
	if got[0].Category != notice.CategoryExam {
		t.Errorf("category: got %s", got[0].Category)
	}
	if got[1].SourceURL == "" {
		t.Error("source url not decoded")
	}
}

func Test_ReadCandidates_MalformedLine(t *testing.T) {
	t.Parallel()
	in := `{"title":"ok","content":"ok"}
{not json}
`
	_, err := ReadCandidates(strings.NewReader(in))
	if err == nil {
		t.Fatal("want error for malformed line")
	}
	if !strings.Contains(err.Error(), "line 2") {
		t.Errorf("error must name the line: %v", err)
	}
}

func Test_LoadCandidates_MissingFile(t *testing.T) {
	t.Parallel()
	if _, err := LoadCandidates("/nonexistent/notices.jsonl"); err == nil {
		t.Error("want error for missing file")
	}
}
