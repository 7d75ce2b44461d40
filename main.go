package main

import "github.com/steven-RD/obmc-console/cmd"

func main() {
	cmd.Execute()
}
