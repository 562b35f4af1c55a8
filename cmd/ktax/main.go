package main

import (
	"ktax/internal/app"
	"ktax/internal/appshell"
)

func main() { appshell.Main(app.Run) }
