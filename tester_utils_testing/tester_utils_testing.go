// Package tester_utils_testing materialises fixture suites (test files plus stub toolchains)
// written as txtar archives, for the tester's own tests.
package tester_utils_testing

import (
	"os"
	"path/filepath"
	"strings"

	testing "github.com/mitchellh/go-testing-interface"
	"golang.org/x/tools/txtar"
)

// StubToolchainArchive holds a fake compiler, assembler and linker with the command-line
// contract of the real ones. The "language" they understand is tiny:
//
//   - a program mentioning undefined_symbol fails to compile with "undefined symbol"
//   - a program mentioning asm_warning makes the assembler print a warning
//   - a program without "let main" fails to link with "undefined reference to main"
//   - otherwise the binary exits with the number of the first "return N"
const StubToolchainArchive = `
-- bin/cc --
#!/bin/sh
echo "Debug mode enabled"
src="$1"
out="$3"
if grep -q "undefined_symbol" "$src"; then
  echo "$src:3:30: error: undefined symbol 'undefined_symbol'" >&2
  exit 1
fi
if grep -q "syntax_error" "$src"; then
  echo "$src:3:1: error: expected expression" >&2
  exit 1
fi
cp "$src" "$out"
-- bin/llc --
#!/bin/sh
in="$2"
out="$4"
if grep -q "asm_warning" "$in"; then
  echo "llc: warning: unsupported instruction" >&2
fi
cp "$in" "$out"
-- bin/ld --
#!/bin/sh
obj="$1"
out="$3"
if ! grep -q "let main" "$obj"; then
  echo "ld: undefined reference to 'main'" >&2
  exit 1
fi
code=$(sed -n 's/.*return \([0-9][0-9]*\).*/\1/p' "$obj" | head -n 1)
printf '#!/bin/sh\nexit %s\n' "${code:-0}" > "$out"
chmod +x "$out"
-- bin/cc-release --
#!/bin/sh
src="$1"
out="$3"
cp "$src" "$out"
-- bin/ld-must-not-run --
#!/bin/sh
echo "the linker must not be reached" >&2
touch "$(dirname "$0")/linker-was-called"
exit 97
`

// StubToolchain is the set of absolute paths of the stub tools.
type StubToolchain struct {
	Compiler        string
	ReleaseCompiler string
	Assembler       string
	Linker          string
	TrapLinker      string
	Dir             string
}

// LinkerWasCalled reports whether TrapLinker was ever invoked.
func (s StubToolchain) LinkerWasCalled() bool {
	_, err := os.Stat(filepath.Join(s.Dir, "linker-was-called"))
	return err == nil
}

// WriteStubToolchain writes StubToolchainArchive into dir.
func WriteStubToolchain(t testing.T, dir string) StubToolchain {
	t.Helper()

	WriteArchive(t, dir, []byte(StubToolchainArchive))
	bin := filepath.Join(dir, "bin")

	return StubToolchain{
		Compiler:        filepath.Join(bin, "cc"),
		ReleaseCompiler: filepath.Join(bin, "cc-release"),
		Assembler:       filepath.Join(bin, "llc"),
		Linker:          filepath.Join(bin, "ld"),
		TrapLinker:      filepath.Join(bin, "ld-must-not-run"),
		Dir:             bin,
	}
}

// WriteArchive extracts a txtar archive into dir. Files under bin/ are made executable.
func WriteArchive(t testing.T, dir string, archive []byte) {
	t.Helper()

	for _, file := range txtar.Parse(archive).Files {
		path := filepath.Join(dir, filepath.FromSlash(file.Name))
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatalf("creating directory for %s: %v", file.Name, err)
		}

		mode := os.FileMode(0644)
		if strings.HasPrefix(file.Name, "bin/") {
			mode = 0755
		}

		if err := os.WriteFile(path, file.Data, mode); err != nil {
			t.Fatalf("writing %s: %v", file.Name, err)
		}
	}
}
