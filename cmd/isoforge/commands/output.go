package commands

import (
	"fmt"
	"os"

	"github.com/fatih/color"
)

var (
	okColor   = color.New(color.FgGreen, color.Bold)
	warnColor = color.New(color.FgYellow)
	failColor = color.New(color.FgRed, color.Bold)
	headColor = color.New(color.Bold)
)

func success(format string, args ...any) {
	okColor.Printf("✔ "+format+"\n", args...)
}

func warn(format string, args ...any) {
	warnColor.Printf("⚠ "+format+"\n", args...)
}

func fail(format string, args ...any) {
	failColor.Fprintf(os.Stderr, "✘ "+format+"\n", args...)
}

func header(format string, args ...any) {
	headColor.Println(fmt.Sprintf(format, args...))
}
