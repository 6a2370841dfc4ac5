package main

import "github.com/doggobot/sentry/cmd"

func main() {
	cmd.Execute()
}
