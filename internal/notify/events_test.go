package notify

import (
	"encoding/json"
	"testing"
)

func TestDecodeFileEvent(t *testing.T) {
	tests := []struct {
		name    string
		n       Notification
		want    FileEvent
		wantErr bool
	}{
		{
			name: "created",
			n:    Notification{Type: EventFileCreated, Data: json.RawMessage(`{"fileName":"x","path":"/docs/x"}`)},
			want: FileEvent{Type: EventFileCreated, FileName: "x", Path: "/docs/x"},
		},
		{
			name: "renamed",
			n:    Notification{Type: EventFileRenamed, Data: json.RawMessage(`{"oldPath":"/a","newPath":"/b"}`)},
			want: FileEvent{Type: EventFileRenamed, OldPath: "/a", NewPath: "/b"},
		},
		{
			name: "shared",
			n:    Notification{Type: EventFileShared, Data: json.RawMessage(`{"path":"/a","permission":"edit","sharedWith":"u2"}`)},
			want: FileEvent{Type: EventFileShared, Path: "/a", Permission: "edit", SharedWith: "u2"},
		},
		{
			name:    "not a file event",
			n:       Notification{Type: "presence:join", Data: json.RawMessage(`{}`)},
			wantErr: true,
		},
		{
			name:    "no data",
			n:       Notification{Type: EventFileDeleted},
			wantErr: true,
		},
		{
			name:    "bad payload",
			n:       Notification{Type: EventFileUpdated, Data: json.RawMessage(`[1,2]`)},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeFileEvent(tt.n)
			if (err != nil) != tt.wantErr {
				t.Fatalf("DecodeFileEvent() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if got != tt.want {
				t.Errorf("DecodeFileEvent() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestFileEventAction(t *testing.T) {
	if got := (FileEvent{Type: EventFileDeleted}).Action(); got != "deleted" {
		t.Errorf("Action() = %q, want deleted", got)
	}
	if !IsFileEvent(EventFileUpdated) || IsFileEvent("file:") {
		t.Error("IsFileEvent misclassified")
	}
}

func TestParse(t *testing.T) {
	if _, err := parse([]byte(`{"type":"file:created","data":{"a":1}}`)); err != nil {
		t.Errorf("parse(valid) error = %v", err)
	}
	for _, bad := range []string{``, `null`, `{"data":{}}`, `"file:created"`} {
		if _, err := parse([]byte(bad)); err == nil {
			t.Errorf("parse(%q) succeeded", bad)
		}
	}
}
