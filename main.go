package main

import (
	"github.com/zjregee/deepthread/internal/app"
)

func main() {
	app.Execute()
}
