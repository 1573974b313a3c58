package main

import "github.com/codetesla51/lotterykv/cmd"

func main() {
	cmd.Execute()
}
