package main

import (
	_ "time/tzdata"

	"github.com/dageev-uae/tenis-schedule/cmd"
)

func main() {
	cmd.Execute()
}
