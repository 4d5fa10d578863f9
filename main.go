package main

import "surveyflat/internal/cli"

func main() {
	cli.Execute()
}
