package main

import "github.com/ogulcanaydogan/kpi-sentinel/internal/cli"

func main() {
	cli.Execute()
}
