// SPDX-License-Identifier: MPL-2.0

package main

import cmd "github.com/c3s-magic/magicwps/cmd/magicwps"

func main() {
	cmd.Execute()
}
