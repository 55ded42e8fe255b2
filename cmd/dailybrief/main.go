package main

import (
	"os"

	"horse.fit/dailybrief/internal/app"
)

func main() {
	os.Exit(app.Run(os.Args[1:]))
}
