package main

import (
	"reflect"
	"testing"
)

// TestParseLine separates commands from chat text.
func TestParseLine(t *testing.T) {
	testCases := []struct {
		line string
		want command
	}{
		{"hello there", command{text: "hello there"}},
		{"  padded  ", command{text: "padded"}},
		{"/quit", command{name: "quit", args: []string{}}},
		{"/VIDEO off", command{name: "video", args: []string{"off"}}},
		{"/lang 71 Python 3", command{name: "lang", args: []string{"71", "Python", "3"}}},
		{"/", command{text: "/"}},
	}

	for _, tc := range testCases {
		t.Run(tc.line, func(t *testing.T) {
			if got := parseLine(tc.line); !reflect.DeepEqual(got, tc.want) {
				t.Errorf("parseLine(%q) = %#v, want %#v", tc.line, got, tc.want)
			}
		})
	}
}

// TestNormalizeWSURL checks scheme handling and the /ws path.
func TestNormalizeWSURL(t *testing.T) {
	testCases := []struct {
		raw     string
		want    string
		wantErr bool
	}{
		{"ws://127.0.0.1:8080", "ws://127.0.0.1:8080/ws", false},
		{"https://relay.example.com/anything", "wss://relay.example.com/ws", false},
		{"wss://relay.example.com/ws", "wss://relay.example.com/ws", false},
		{"not a url", "", true},
	}

	for _, tc := range testCases {
		t.Run(tc.raw, func(t *testing.T) {
			got, err := normalizeWSURL(tc.raw)
			if (err != nil) != tc.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tc.wantErr)
			}
			if got != tc.want {
				t.Errorf("got %q, want %q", got, tc.want)
			}
		})
	}
}
