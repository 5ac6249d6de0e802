package main

import "github.com/nextlevelbuilder/memclaw/cmd"

func main() {
	cmd.Execute()
}
