package notice

import (
	"testing"
	"time"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestExtractDates(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		text string
		want []time.Time
	}{
		{
			name: "iso date",
			text: "Registration closes on 2025-11-03.",
			want: []time.Time{date(2025, time.November, 3)},
		},
		{
			name: "long month name",
			text: "The mid-semester examinations will be conducted from 3 November 2025 to 10 November 2025.",
			want: []time.Time{date(2025, time.November, 3), date(2025, time.November, 10)},
		},
		{
			name: "month-first with comma",
			text: "Classes resume on January 15, 2026 after the winter break.",
			want: []time.Time{date(2026, time.January, 15)},
		},
		{
			name: "ordinal suffix",
			text: "Submit the form by 3rd November 2025.",
			want: []time.Time{date(2025, time.November, 3)},
		},
		{
			name: "slash format day first",
			text: "Deadline: 31/12/2025.",
			want: []time.Time{date(2025, time.December, 31)},
		},
		{
			name: "duplicates collapse",
			text: "Exam on 2025-11-03. Reminder: exam on 3 November 2025.",
			want: []time.Time{date(2025, time.November, 3)},
		},
		{
			name: "no dates",
			text: "The library will remain open as usual.",
			want: nil,
		},
		{
			name: "date glued to other digits is not a date",
			text: "Ref 92025-11-03 cancelled; rescheduled to 04/11/2025.",
			want: []time.Time{date(2025, time.November, 4)},
		},
		{
			name: "identifier with date-like shape",
			text: "Roll numbers 123-45-6789 are unaffected.",
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := ExtractDates(tt.text)
			if len(got) != len(tt.want) {
				t.Fatalf("got %d dates %v, want %d %v", len(got), got, len(tt.want), tt.want)
			}
			for i := range got {
				if !got[i].Equal(tt.want[i]) {
					t.Errorf("date[%d]: got %v, want %v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestExtractDates_Sorted(t *testing.T) {
	t.Parallel()

	got := ExtractDates("Results on 2025-12-01, exams start 2025-11-03.")
	if len(got) != 2 {
		t.Fatalf("got %d dates, want 2", len(got))
	}
	if !got[0].Before(got[1]) {
		t.Errorf("dates not ascending: %v", got)
	}
}

func TestParseDate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in     string
		want   time.Time
		wantOK bool
	}{
		{"2025-11-03", date(2025, time.November, 3), true},
		{"2025-11-03T10:30:00Z", time.Date(2025, time.November, 3, 10, 30, 0, 0, time.UTC), true},
		{"  15 January 2026  ", date(2026, time.January, 15), true},
		{"", time.Time{}, false},
		{"not a date", time.Time{}, false},
	}
	for _, tt := range tests {
		got, ok := ParseDate(tt.in)
		if ok != tt.wantOK {
			t.Errorf("ParseDate(%q) ok = %v, want %v", tt.in, ok, tt.wantOK)
			continue
		}
		if ok && !got.Equal(tt.want) {
			t.Errorf("ParseDate(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestInDateRange(t *testing.T) {
	t.Parallel()

	mid := date(2025, time.November, 5)
	lo := date(2025, time.November, 1)
	hi := date(2025, time.November, 10)

	if !InDateRange(mid, lo, hi) {
		t.Error("date inside range rejected")
	}
	if !InDateRange(mid, time.Time{}, time.Time{}) {
		t.Error("open range rejected a date")
	}
	if !InDateRange(lo, lo, hi) || !InDateRange(hi, lo, hi) {
		t.Error("bounds should be inclusive")
	}
	if InDateRange(date(2025, time.October, 31), lo, hi) {
		t.Error("date before range accepted")
	}
	if InDateRange(date(2025, time.November, 11), lo, hi) {
		t.Error("date after range accepted")
	}
}
