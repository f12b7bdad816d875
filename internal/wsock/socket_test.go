package wsock

import (
	"context"
	"errors"
	"io"
	"testing"
)

func TestFakeSocket_ReadAndWrite(t *testing.T) {
	sock := NewFakeSocket()
	sock.EmitText("hello")

	text, err := sock.ReadText(context.Background())
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if text != "hello" {
		t.Fatalf("unexpected frame: %s", text)
	}

	if err := sock.WriteText(context.Background(), "world"); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if got := sock.Sent(); len(got) != 1 || got[0] != "world" {
		t.Fatalf("unexpected sent frames: %v", got)
	}
}

func TestFakeSocket_CloseEndsReads(t *testing.T) {
	sock := NewFakeSocket()
	if err := sock.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if _, err := sock.ReadText(context.Background()); !errors.Is(err, io.EOF) {
		t.Fatalf("expected EOF after close, got: %v", err)
	}
}

func TestCloseStatus(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, -1},
		{"close error with code", &CloseError{Code: 1006}, 1006},
		{"normal close error", &CloseError{Code: StatusNormalClosure}, StatusNormalClosure},
		{"plain error", errors.New("connection reset"), StatusAbnormalClosure},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := CloseStatus(tc.err); got != tc.want {
				t.Fatalf("CloseStatus(%v) = %d, want %d", tc.err, got, tc.want)
			}
		})
	}
}
