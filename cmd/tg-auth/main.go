package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/telegrab/telegrab/internal/config"
	"github.com/telegrab/telegrab/internal/database"
	"github.com/telegrab/telegrab/internal/logger"
	"github.com/telegrab/telegrab/internal/telegram"
)

func main() {
	fmt.Println("=== telegrab auth tool ===")
	fmt.Println("this tool logs in to telegram and persists the session")
	fmt.Println()

	cfg, err := config.Load()
	if err != nil {
		fatal("failed to load config: %v", err)
	}
	// keep interactive output clean
	if err := logger.Init("error", cfg.LogFile); err != nil {
		fatal("failed to init logger: %v", err)
	}

	db, err := database.New(cfg.DatabasePath)
	if err != nil {
		fatal("failed to open database: %v", err)
	}

	manager := telegram.NewSessionManager(telegram.NewSessionStore(db))
	ctx := context.Background()
	reader := bufio.NewReader(os.Stdin)

	// a previous session may still be valid
	if err := manager.Restore(ctx); err != nil {
		fmt.Printf("session restore failed: %v\n", err)
	}
	if status := manager.Status(); status.State == telegram.StateConnected {
		fmt.Printf("already logged in as: @%s\n", status.Username)
		fmt.Print("log out and re-authenticate? [y/N]: ")
		answer := readLine(reader)
		if !strings.EqualFold(answer, "y") {
			manager.Stop()
			return
		}
		if err := manager.Logout(ctx); err != nil {
			fatal("logout failed: %v", err)
		}
	}

	apiID, apiHash := getAPICredentials(reader, cfg)

	fmt.Print("enter phone number (international format, e.g. +15551234567): ")
	phone := readLine(reader)
	if phone == "" {
		fatal("phone number is required")
	}

	if err := manager.StartAuth(ctx, apiID, apiHash, phone); err != nil {
		fatal("failed to start auth: %v", err)
	}

	for manager.Status().State == telegram.StateWaitingCode {
		fmt.Print("enter the code you received: ")
		code := readLine(reader)
		if code == "" {
			continue
		}
		if err := manager.SubmitCode(ctx, code); err != nil {
			fmt.Printf("code rejected: %v\n", err)
		}
	}

	for manager.Status().State == telegram.StateWaitingPassword {
		fmt.Print("enter your two-factor password: ")
		password := readLine(reader)
		if password == "" {
			continue
		}
		if err := manager.SubmitPassword(ctx, password); err != nil {
			fmt.Printf("password rejected: %v\n", err)
		}
	}

	status := manager.Status()
	if status.State != telegram.StateConnected {
		fatal("login did not complete, state: %s", status.State)
	}

	fmt.Println("\n✓ authentication successful!")
	fmt.Printf("logged in as: @%s\n", status.Username)
	fmt.Println("the session is persisted; the daemon will reuse it on startup")

	manager.Stop()
}

// getAPICredentials takes api id/hash from config when set, otherwise prompts.
func getAPICredentials(reader *bufio.Reader, cfg *config.Config) (int, string) {
	apiID := cfg.TGApiID
	apiHash := cfg.TGApiHash

	if apiID == 0 {
		fmt.Print("enter api id (from https://my.telegram.org): ")
		raw := readLine(reader)
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			fatal("invalid api id: %q", raw)
		}
		apiID = parsed
	}

	if apiHash == "" {
		fmt.Print("enter api hash: ")
		apiHash = readLine(reader)
		if apiHash == "" {
			fatal("api hash is required")
		}
	}

	return apiID, apiHash
}

func readLine(reader *bufio.Reader) string {
	line, _ := reader.ReadString('\n')
	return strings.TrimSpace(line)
}

func fatal(format string, args ...any) {
	fmt.Printf("error: "+format+"\n", args...)
	os.Exit(1)
}
