package main

import (
	"os"

	compiler_tester "github.com/bootcs-dev/compiler-tester"
)

func main() {
	os.Exit(compiler_tester.Run(os.Args[1:]))
}
