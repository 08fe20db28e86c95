package commsutil

import "testing"

const codecTestPrefix = "commsutil:codec_test"

func TestEncodePayload(t *testing.T) {
	tests := []struct {
		name    string
		input   any
		want    string
		wantErr bool
	}{
		{name: "map", input: map[string]string{"key": "value"}, want: `{"key":"value"}`},
		{name: "nil", input: nil, want: "null"},
		{name: "slice", input: []int{1, 2, 3}, want: "[1,2,3]"},
		{name: "channel is not serializable", input: make(chan int), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := EncodePayload(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Errorf("%s - expected error", codecTestPrefix)
				}
				return
			}
			if err != nil {
				t.Fatalf("%s - unexpected error: %v", codecTestPrefix, err)
			}
			if string(data) != tt.want {
				t.Errorf("%s - got %s, want %s", codecTestPrefix, data, tt.want)
			}
		})
	}
}

func TestDecodeStrict(t *testing.T) {
	type request struct {
		ID        string `json:"id"`
		Operation string `json:"operation"`
	}

	var ok request
	if err := DecodeStrict([]byte(`{"id":"1","operation":"listTemplates"}`), &ok); err != nil {
		t.Fatalf("%s - unexpected error: %v", codecTestPrefix, err)
	}
	if ok.Operation != "listTemplates" {
		t.Errorf("%s - Operation = %q", codecTestPrefix, ok.Operation)
	}

	var loose request
	if err := DecodePayload([]byte(`{"id":"1","extra":true}`), &loose); err != nil {
		t.Errorf("%s - DecodePayload should ignore unknown fields: %v", codecTestPrefix, err)
	}
	var strict request
	if err := DecodeStrict([]byte(`{"id":"1","extra":true}`), &strict); err == nil {
		t.Errorf("%s - DecodeStrict should reject unknown fields", codecTestPrefix)
	}
}
