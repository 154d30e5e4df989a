package stats

import "testing"

func TestFormatTableAlignsColumns(t *testing.T) {
	headers := []string{"Ended", "BPM", "Dataset"}
	rows := [][]string{
		{"2024-01-01", "72.0", "a.csv"},
		{"2024-01-02", "101.5", "(deleted)"},
	}
	rightAlign := map[int]bool{1: true}

	lines := formatTable(headers, rows, rightAlign)
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %d", len(lines))
	}
	if lines[0] != "Ended        BPM Dataset" {
		t.Fatalf("unexpected header line: %q", lines[0])
	}
	if lines[1] != "2024-01-01  72.0 a.csv" {
		t.Fatalf("unexpected row line: %q", lines[1])
	}
	if lines[2] != "2024-01-02 101.5 (deleted)" {
		t.Fatalf("unexpected row line: %q", lines[2])
	}
}

func TestFormatTableWideRunes(t *testing.T) {
	lines := formatTable([]string{"Name", "N"}, [][]string{{"心拍", "1"}}, map[int]bool{1: true})
	if lines[0] != "Name N" {
		t.Fatalf("unexpected header line: %q", lines[0])
	}
	if lines[1] != "心拍 1" {
		t.Fatalf("unexpected row line: %q", lines[1])
	}
}
