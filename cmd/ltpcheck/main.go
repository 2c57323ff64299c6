// Command ltpcheck is a Swiss Army Knife for inspecting a running ltpd.
package main

import "github.com/deepspacecomm/ltpengine/cmd/ltpcheck/cmd"

func main() {
	cmd.Execute()
}
