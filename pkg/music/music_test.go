package music

import (
	"encoding/json"
	"testing"
)

func TestPromptJSON(t *testing.T) {
	tests := []struct {
		in         string
		wantCustom bool
		wantText   string
		wantStyle  string
		wantLyrics string
	}{
		{in: `"pop, happy, 120 bpm"`, wantText: "pop, happy, 120 bpm"},
		{in: `{"style_prompt":"[Pop]","lyrics_prompt":"[VERSE 1]"}`, wantCustom: true, wantStyle: "[Pop]", wantLyrics: "[VERSE 1]"},
		{in: `null`},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			var p Prompt
			if err := json.Unmarshal([]byte(tt.in), &p); err != nil {
				t.Fatalf("Unmarshal() err = %v; want nil", err)
			}
			if p.Custom() != tt.wantCustom {
				t.Fatalf("Custom() = %v; want %v", p.Custom(), tt.wantCustom)
			}
			if p.Text != tt.wantText || p.Style != tt.wantStyle || p.Lyrics != tt.wantLyrics {
				t.Fatalf("Unmarshal() = %+v; want %q %q %q", p, tt.wantText, tt.wantStyle, tt.wantLyrics)
			}
		})
	}

	b, err := json.Marshal(Prompt{Style: "[Pop]", Lyrics: "la"})
	if err != nil {
		t.Fatalf("Marshal() err = %v; want nil", err)
	}
	if got, want := string(b), `{"style_prompt":"[Pop]","lyrics_prompt":"la"}`; got != want {
		t.Fatalf("Marshal() = %s; want %s", got, want)
	}
}

func TestEnergyJSON(t *testing.T) {
	var a Analysis
	if err := json.Unmarshal([]byte(`{"energy":0.8}`), &a); err != nil {
		t.Fatalf("Unmarshal() err = %v; want nil", err)
	}
	if a.Energy.Value != 0.8 || a.Energy.String() != "0.8" {
		t.Fatalf("Energy = %+v; want 0.8", a.Energy)
	}
	if err := json.Unmarshal([]byte(`{"energy":"high"}`), &a); err != nil {
		t.Fatalf("Unmarshal() err = %v; want nil", err)
	}
	if a.Energy.Label != "high" {
		t.Fatalf("Energy = %+v; want high", a.Energy)
	}
	if err := json.Unmarshal([]byte(`{"energy":[1]}`), &a); err == nil {
		t.Fatal("Unmarshal() err = nil; want error")
	}
}

func TestProgressEventKind(t *testing.T) {
	tests := []struct {
		in   string
		want EventKind
	}{
		{`{"status":"Analyzing","progress":60}`, ProgressKind},
		{`{"error":"Invalid file"}`, ErrorKind},
		{`{"status":"Complete!","progress":100,"result":{"analysis":{"tempo":120},"prompts":[]}}`, ResultKind},
	}
	for _, tt := range tests {
		var ev ProgressEvent
		if err := json.Unmarshal([]byte(tt.in), &ev); err != nil {
			t.Fatalf("Unmarshal(%s) err = %v; want nil", tt.in, err)
		}
		if got := ev.Kind(); got != tt.want {
			t.Fatalf("Kind(%s) = %v; want %v", tt.in, got, tt.want)
		}
	}
}

func TestEntryJSON(t *testing.T) {
	var e Entry
	in := `{"id":"1","timestamp":"2024-01-01T00:00:00","analysis":{"tempo":90}}`
	if err := json.Unmarshal([]byte(in), &e); err != nil {
		t.Fatalf("Unmarshal() err = %v; want nil", err)
	}
	if e.ID != "1" || e.Timestamp != "2024-01-01T00:00:00" {
		t.Fatalf("Unmarshal() = %+v", e)
	}

	e = Entry{ID: "2", Timestamp: "now", Payload: json.RawMessage(`{"analysis":{"tempo":90}}`)}
	b, err := json.Marshal(e)
	if err != nil {
		t.Fatalf("Marshal() err = %v; want nil", err)
	}
	var fields map[string]any
	if err := json.Unmarshal(b, &fields); err != nil {
		t.Fatalf("Unmarshal() err = %v; want nil", err)
	}
	if fields["id"] != "2" || fields["timestamp"] != "now" || fields["analysis"] == nil {
		t.Fatalf("Marshal() = %s", b)
	}
}

func TestGenerationStatusTerminal(t *testing.T) {
	for status, want := range map[string]bool{
		Queued:     false,
		Processing: false,
		Completed:  true,
		Failed:     true,
	} {
		s := GenerationStatus{Status: status}
		if got := s.Terminal(); got != want {
			t.Fatalf("Terminal(%s) = %v; want %v", status, got, want)
		}
	}
}
