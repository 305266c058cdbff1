package main

import "github.com/eleven-am/echolens/internal/bootstrap"

func main() {
	bootstrap.Run()
}
