package protocol

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestClickCommandWireShape(t *testing.T) {
	payload, err := json.Marshal(ClickPayload{Ref: "e42", Element: "Show options"})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	data, err := json.Marshal(Command{ID: "1", Type: CommandClick, Payload: payload})
	if err != nil {
		t.Fatalf("marshal command: %v", err)
	}
	want := `{"id":"1","type":"click","payload":{"ref":"e42","element":"Show options"}}`
	if string(data) != want {
		t.Fatalf("wire shape = %s, want %s", data, want)
	}
}

func TestSnapshotResponseDecodes(t *testing.T) {
	raw := `{"id":"9","ok":true,"data":{"url":"https://x/dashboards","tree":"- row \"Sales\" [ref=e1]"}}`
	var resp Response
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	var snap SnapshotData
	if err := json.Unmarshal(resp.Data, &snap); err != nil {
		t.Fatalf("unmarshal data: %v", err)
	}
	if !resp.OK || !strings.HasPrefix(snap.Tree, "- row") {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
}
