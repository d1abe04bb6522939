package main

import "github.com/academiaparchada/ms-go-reconciler/cmd"

func main() {
	cmd.Execute()
}
