package protocol

import (
	"encoding/json"
	"testing"
)

func TestConsoleFraming(t *testing.T) {
	start := ConsoleStart()
	if start.Role != RoleComputer || start.Type != ChunkConsole {
		t.Errorf("unexpected start chunk: %+v", start)
	}
	if !start.Start || start.End {
		t.Error("expected start=true, end=false")
	}

	end := ConsoleEnd()
	if !end.End || end.Start {
		t.Error("expected end=true, start=false")
	}
}

func TestChunkWireShape(t *testing.T) {
	data, err := json.Marshal(ConsoleContent("0\n"))
	if err != nil {
		t.Fatal(err)
	}
	want := `{"role":"computer","type":"console","content":"0\n"}`
	if string(data) != want {
		t.Errorf("wire shape mismatch:\n got: %s\nwant: %s", data, want)
	}
}

func TestChunkOmitsFalseFlags(t *testing.T) {
	data, err := json.Marshal(ActiveLine(3))
	if err != nil {
		t.Fatal(err)
	}
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatal(err)
	}
	if _, ok := m["start"]; ok {
		t.Error("start flag should be omitted when false")
	}
	if _, ok := m["end"]; ok {
		t.Error("end flag should be omitted when false")
	}
	if m["content"] != "3" {
		t.Errorf("expected content '3', got %v", m["content"])
	}
}

func TestConfirmationChunkContent(t *testing.T) {
	c := ConfirmationChunk("python", "print(1)")
	data, err := json.Marshal(c)
	if err != nil {
		t.Fatal(err)
	}

	var decoded struct {
		Role    string `json:"role"`
		Type    string `json:"type"`
		Content struct {
			Code     string `json:"code"`
			Language string `json:"language"`
		} `json:"content"`
	}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded.Role != "computer" || decoded.Type != "confirmation" {
		t.Errorf("unexpected role/type: %s/%s", decoded.Role, decoded.Type)
	}
	if decoded.Content.Code != "print(1)" || decoded.Content.Language != "python" {
		t.Errorf("unexpected confirmation content: %+v", decoded.Content)
	}
}
