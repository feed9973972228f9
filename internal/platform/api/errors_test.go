package api

import (
	"errors"
	"strings"
	"testing"
	"unicode/utf8"
)

func TestExtractDetail_String(t *testing.T) {
	if got := extractDetail([]byte(`{"detail":"EHR not connected"}`), 400); got != "EHR not connected" {
		t.Errorf("unexpected detail %q", got)
	}
}

func TestExtractDetail_ValidationArray(t *testing.T) {
	got := extractDetail([]byte(`{"detail":[{"msg":"a"},{"msg":""},{"msg":"b"}]}`), 422)
	if got != "a; b" {
		t.Errorf("unexpected detail %q", got)
	}
}

func TestExtractDetail_EmptyBody(t *testing.T) {
	if got := extractDetail(nil, 503); got != "request failed with status 503" {
		t.Errorf("unexpected detail %q", got)
	}
}

func TestExtractDetail_JSONWithoutDetail(t *testing.T) {
	if got := extractDetail([]byte(`{"error":"x"}`), 500); got != "request failed with status 500" {
		t.Errorf("unexpected detail %q", got)
	}
}

func TestExtractDetail_UnusableDetail(t *testing.T) {
	if got := extractDetail([]byte(`{"detail":42}`), 400); got != "request failed with status 400" {
		t.Errorf("unexpected detail %q", got)
	}
}

func TestExtractDetail_PlainTextTruncated(t *testing.T) {
	long := strings.Repeat("x", 2000)
	got := extractDetail([]byte("  "+long+"\n"), 500)
	if len(got) != 512 {
		t.Errorf("expected 512 chars, got %d", len(got))
	}
}

func TestExtractDetail_TruncatesOnRuneBoundary(t *testing.T) {
	// "é" is two bytes, so byte 512 falls inside a rune.
	long := "x" + strings.Repeat("é", 600)
	got := extractDetail([]byte(long), 500)
	if !utf8.ValidString(got) {
		t.Fatalf("truncated detail is not valid UTF-8: %q", got[len(got)-4:])
	}
	if len(got) != 511 {
		t.Errorf("expected 511 bytes, got %d", len(got))
	}
}

func TestFetchError_Format(t *testing.T) {
	e := &FetchError{Method: "GET", Path: "/v1/metrics/latest", StatusCode: 404, Detail: "Not Found"}
	if e.Error() != "GET /v1/metrics/latest: status 404: Not Found" {
		t.Errorf("unexpected message %q", e.Error())
	}
	cause := errors.New("dial tcp: refused")
	n := &FetchError{Method: "GET", Path: "/x", Detail: "network unavailable", Err: cause}
	if n.Error() != "GET /x: network unavailable" {
		t.Errorf("unexpected message %q", n.Error())
	}
	if !errors.Is(n, cause) {
		t.Error("expected errors.Is to reach the cause")
	}
}

func TestFetchError_TooManyRequestsIsTemporary(t *testing.T) {
	if !(&FetchError{StatusCode: 429}).Temporary() {
		t.Error("429 must be temporary")
	}
	if (&FetchError{StatusCode: 400}).Temporary() {
		t.Error("400 must not be temporary")
	}
}
