/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */
package main

import (
	"github.com/zonesign/zonesign/cmd/zsign-cli/cmd"
)

func main() {
	cmd.Execute()
}
