package main

import (
	"github.com/joho/godotenv"

	"github.com/jmehdipour/wadispatch/cmd"
)

func main() {
	// a missing .env is fine; real deployments use the environment
	_ = godotenv.Load()

	cmd.Execute()
}
