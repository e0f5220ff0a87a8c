package main

import "github.com/frahmantamala/cash-advance/cmd"

func main() {
	cmd.Execute()
}
