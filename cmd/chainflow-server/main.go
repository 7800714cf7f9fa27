package main

import (
	"flag"
	"log"

	"chainflow/server"
)

func main() {
	host := flag.String("host", "localhost", "Host to bind the server to")
	port := flag.Int("port", 8080, "Port to listen on")
	configPath := flag.String("config", "", "Engine config YAML (plugin descriptors and executor defaults)")
	memoryPath := flag.String("memory", "", "Memory file for run persistence")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	srv := server.New(server.Config{
		Host:       *host,
		Port:       *port,
		Debug:      *debug,
		ConfigPath: *configPath,
		MemoryPath: *memoryPath,
	})

	if err := srv.Start(); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}
