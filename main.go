package main

import (
	"github.com/lightfold/catsync/cmd"
	"github.com/lightfold/catsync/cmd/util"
)

func main() {
	defer util.HandlePanic()
	cmd.Execute()
}
