package main

import (
	"os"

	"github.com/apicove/grpcbridge/app"
	"github.com/apicove/grpcbridge/cui"
)

func main() {
	os.Exit(app.New(cui.New()).Run(os.Args[1:]))
}
