// Command ambacore runs the symbolic-execution graph-building plugin
// boundary, either driving a replay harness over recorded callback
// traces (run) or reporting status of a running instance (status).
package main

import "github.com/lokegustafsson/ambacore/cmd/ambacore/cmd"

func main() {
	cmd.Execute()
}
