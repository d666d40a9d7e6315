package main

import "github.com/bryanchriswhite/CameraBridge/cmd/camerabridge/commands"

func main() {
	commands.Execute()
}
