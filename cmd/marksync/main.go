package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/MrSnakeDoc/marksync/internal/app"
)

func main() {
	// marksync issue-token <user-uuid> prints a session credential.
	if len(os.Args) == 3 && os.Args[1] == "issue-token" {
		token, err := app.IssueToken(os.Args[2])
		if err != nil {
			log.Fatalf("❌ issue-token failed: %v", err)
		}
		fmt.Println(token)
		return
	}

	ctx := context.Background()
	a, err := app.New(ctx)
	if err != nil {
		log.Fatalf("❌ marksync failed to start: %v", err)
	}
	if err := a.Run(ctx); err != nil {
		log.Fatalf("❌ marksync failed: %v", err)
	}
}
