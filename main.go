package main

import (
	_ "embed"

	"github.com/haierkeys/vault-device-sync/cmd"
)

//go:embed config/config.yaml
var c string

func main() {
	cmd.Execute(c)
}
