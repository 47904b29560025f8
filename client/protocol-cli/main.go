package main

import "ckd-decision-support/client/protocol-cli/cmd"

func main() {
	cmd.Execute()
}
