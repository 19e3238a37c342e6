package main

import (
	"os"
)

// @title           WineChat API
// @version         1.0
// @description     Direct messaging between marketplace users, over REST and WebSocket.

// @contact.name    API Support

// @host            localhost:8000
// @BasePath        /api

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
