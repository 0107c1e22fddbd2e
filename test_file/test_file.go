package test_file

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// DefaultCommentMarker prefixes every header line.
const DefaultCommentMarker = "//"

// TestCase is one parsed test file.
type TestCase struct {
	// Name is the file name, e.g. "a.test"
	Name string

	// Program is the whole file content, header included. It is handed to the compiler as-is.
	Program string

	// ExpectedError, when set, must appear in the compiler diagnostics.
	ExpectedError *string

	// ExpectedReturnCode, when set, must match the exit status of the produced binary.
	ExpectedReturnCode *int
}

// ParseOptions configures the header protocol.
type ParseOptions struct {
	// CommentMarker defaults to DefaultCommentMarker.
	CommentMarker string
}

func (o ParseOptions) commentMarker() string {
	if o.CommentMarker == "" {
		return DefaultCommentMarker
	}
	return o.CommentMarker
}

// MalformedTestFileError is returned for any violation of the header protocol.
type MalformedTestFileError struct {
	File   string
	Line   int // 0 when the problem is not tied to a line
	Reason string
}

func (e *MalformedTestFileError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("in testfile %s:%d: %s", e.File, e.Line, e.Reason)
	}
	return fmt.Sprintf("in testfile %s: %s", e.File, e.Reason)
}

// ParseFile opens path and parses it. The case is named after the file's base name.
func ParseFile(path string, opts ParseOptions) (TestCase, error) {
	f, err := os.Open(path)
	if err != nil {
		return TestCase{}, fmt.Errorf("could not open testfile %s: %w", path, err)
	}
	defer f.Close()

	return Parse(f, filepath.Base(path), opts)
}

// Parse reads a test file: a header of comment-marked directives closed by END_HEADER,
// followed by the program. The returned Program holds every line read, header included.
func Parse(r io.Reader, name string, opts ParseOptions) (TestCase, error) {
	marker := opts.commentMarker()
	reader := bufio.NewReader(r)

	testCase := TestCase{Name: name}
	program := strings.Builder{}
	malformed := func(lineNumber int, format string, args ...interface{}) error {
		return &MalformedTestFileError{File: name, Line: lineNumber, Reason: fmt.Sprintf(format, args...)}
	}

	lineNumber := 0
	for {
		line, err := reader.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return TestCase{}, fmt.Errorf("could not read testfile %s: %w", name, err)
		}
		if line == "" && errors.Is(err, io.EOF) {
			break
		}

		lineNumber++
		program.WriteString(line)

		text := strings.TrimLeft(strings.TrimRight(line, "\r\n"), " \t")
		if !strings.HasPrefix(text, marker) {
			return TestCase{}, malformed(lineNumber, "expected header line starting with %q before %s, got %q", marker, endHeaderKeyword, strings.TrimRight(line, "\r\n"))
		}

		directive, parseErr := ParseDirective(strings.TrimPrefix(text, marker))
		if parseErr != nil {
			return TestCase{}, malformed(lineNumber, "%s", parseErr)
		}

		switch d := directive.(type) {
		case CompErr:
			if testCase.ExpectedError != nil {
				return TestCase{}, malformed(lineNumber, "duplicate %s directive", compErrKeyword)
			}
			expected := d.Text
			testCase.ExpectedError = &expected
		case Ret:
			if testCase.ExpectedReturnCode != nil {
				return TestCase{}, malformed(lineNumber, "duplicate %s directive", retKeyword)
			}
			code := d.Code
			testCase.ExpectedReturnCode = &code
		case EndHeader:
			rest, err := io.ReadAll(reader)
			if err != nil {
				return TestCase{}, fmt.Errorf("could not read testfile %s: %w", name, err)
			}
			program.Write(rest)
			testCase.Program = program.String()
			return testCase, nil
		}

		if errors.Is(err, io.EOF) {
			break
		}
	}

	return TestCase{}, malformed(0, "missing text section")
}
