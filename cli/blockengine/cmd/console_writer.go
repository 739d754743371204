package cmd

import "fmt"

// consoleWriter prints the command results, tests swap it to capture the output.
var consoleWriter interface{ Println(a ...any) } = stdout{}

type stdout struct{}

func (stdout) Println(a ...any) { fmt.Println(a...) }
