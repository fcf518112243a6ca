// Package cmd routes the embedchat command line.
package cmd

import (
	"fmt"
	"os"
)

// Version information (injected at build time via ldflags).
var (
	AppVersion = "0.1.0"
	BuildTime  = "unknown"
	GitCommit  = "unknown"
)

// Execute is the entry point called from main. Version and help work even
// when the configuration is invalid; everything else routes to serve.
func Execute() error {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "version", "--version", "-v":
			printVersion()
			return nil
		case "help", "--help", "-h":
			printHelp()
			return nil
		case "serve":
			return executeServe()
		default:
			printHelp()
			return fmt.Errorf("unknown command %q", os.Args[1])
		}
	}
	return executeServe()
}

func printVersion() {
	fmt.Printf("embedchat v%s\n", AppVersion)
	fmt.Printf("Build: %s\n", BuildTime)
	fmt.Printf("Commit: %s\n", GitCommit)
}

func printHelp() {
	fmt.Println("embedchat - embeddable RAG chatbot service")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  embedchat [serve]      Start the HTTP API server (default)")
	fmt.Println("  embedchat version      Show version information")
	fmt.Println("  embedchat help         Show this help")
	fmt.Println()
	fmt.Println("Environment Variables:")
	fmt.Println("  GEMINI_API_KEY           Gemini API key (provider googleai)")
	fmt.Println("  OPENAI_API_KEY           OpenAI API key (provider openai)")
	fmt.Println("  DATABASE_URL             PostgreSQL URL; unset runs in memory")
	fmt.Println("  EMBEDCHAT_PROVIDER       googleai (default), ollama, openai")
	fmt.Println("  EMBEDCHAT_PORT           Listen port (default 8080)")
	fmt.Println("  EMBEDCHAT_LOG_LEVEL      debug, info, warn, error")
	fmt.Println()
	fmt.Println("Configuration file: ./config.yaml or /etc/embedchat/config.yaml")
}
