package builtin

import (
	"context"
	"encoding/json"
	"testing"
)

func TestWriteFileThenReadFileRoundTrips(t *testing.T) {
	dir := t.TempDir()
	write := NewWriteFileTool(dir)
	read := NewReadFileTool(dir, 0)

	writeArgs, _ := json.Marshal(writeFileArgs{Path: "notes/hello.txt", Content: "hello workspace"})
	res, err := write.Execute(context.Background(), writeArgs)
	if err != nil || res.IsError {
		t.Fatalf("write failed: err=%v res=%+v", err, res)
	}

	readArgs, _ := json.Marshal(readFileArgs{Path: "notes/hello.txt"})
	res, err = read.Execute(context.Background(), readArgs)
	if err != nil || res.IsError {
		t.Fatalf("read failed: err=%v res=%+v", err, res)
	}
	if res.Content != "hello workspace" {
		t.Fatalf("expected roundtripped content, got %q", res.Content)
	}
}

func TestReadFileRejectsPathEscapingWorkspace(t *testing.T) {
	dir := t.TempDir()
	read := NewReadFileTool(dir, 0)

	args, _ := json.Marshal(readFileArgs{Path: "../../etc/passwd"})
	res, err := read.Execute(context.Background(), args)
	if err != nil {
		t.Fatalf("expected no Go error, got %v", err)
	}
	if !res.IsError {
		t.Fatal("expected IsError true for a path escaping the workspace")
	}
}

func TestReadFileTruncatesAtMaxBytes(t *testing.T) {
	dir := t.TempDir()
	write := NewWriteFileTool(dir)
	read := NewReadFileTool(dir, 5)

	writeArgs, _ := json.Marshal(writeFileArgs{Path: "big.txt", Content: "0123456789"})
	if _, err := write.Execute(context.Background(), writeArgs); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	readArgs, _ := json.Marshal(readFileArgs{Path: "big.txt"})
	res, err := read.Execute(context.Background(), readArgs)
	if err != nil || res.IsError {
		t.Fatalf("read failed: err=%v res=%+v", err, res)
	}
	if res.Content != "01234" {
		t.Fatalf("expected truncated content, got %q", res.Content)
	}
}
