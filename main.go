package main

import (
	"github.com/fzft/pollrelay/cmd"
	"os"
)

func main() {
	os.Exit(cmd.Execute())
}
