package test_file

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	compErrKeyword   = "comp_err"
	retKeyword       = "ret"
	endHeaderKeyword = "END_HEADER"
)

// Directive is one header line of a test file, with the comment marker already stripped.
// It is one of CompErr, Ret or EndHeader.
type Directive interface {
	directive()
}

// CompErr expects the compiler diagnostics to contain Text.
type CompErr struct {
	Text string
}

// Ret expects the produced binary to exit with Code.
type Ret struct {
	Code int
}

// EndHeader terminates the header block.
type EndHeader struct{}

func (CompErr) directive()   {}
func (Ret) directive()       {}
func (EndHeader) directive() {}

// ParseDirective tokenizes the body of a header line (the text after the comment marker).
//
// comp_err takes the rest of the line as its argument, so the expected diagnostic may contain
// spaces. ret takes exactly one base-10 integer. Anything after END_HEADER is ignored.
func ParseDirective(body string) (Directive, error) {
	fields := strings.Fields(body)
	if len(fields) == 0 {
		return nil, fmt.Errorf("empty header directive")
	}

	switch fields[0] {
	case compErrKeyword:
		// The body starts with fields[0] once trimmed; the argument is everything after it.
		text := strings.TrimSpace(strings.TrimSpace(body)[len(fields[0]):])
		if text == "" {
			return nil, fmt.Errorf("%s directive requires exactly one arg. Got 0", compErrKeyword)
		}
		return CompErr{Text: text}, nil

	case retKeyword:
		if len(fields) != 2 {
			return nil, fmt.Errorf("%s directive requires exactly one arg. Got %d", retKeyword, len(fields)-1)
		}
		code, err := strconv.Atoi(fields[1])
		if err != nil {
			return nil, fmt.Errorf("could not parse supplied arg of %s directive %q as integer", retKeyword, fields[1])
		}
		return Ret{Code: code}, nil

	case endHeaderKeyword:
		return EndHeader{}, nil

	default:
		return nil, fmt.Errorf("bad directive %q", fields[0])
	}
}
