package main

import "github.com/platinummonkey/pluginhost/pkg/cli"

func main() {
	cli.Execute()
}
