// netsimctl is the CLI client for netsimd, the declarative network fabric
// daemon.
package main

import "github.com/netsim/netsim/cmd/netsimctl/commands"

func main() {
	commands.Execute()
}
