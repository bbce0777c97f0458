// Package main runs the interactive wallet client: a local-first credential
// store with an offline mutation queue that syncs to the remote server
// whenever connectivity is available.
package main

import (
	"bufio"
	"cmp"
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dkravets/credwallet/internal/config"
	"github.com/dkravets/credwallet/internal/connectivity"
	"github.com/dkravets/credwallet/internal/dispatch"
	"github.com/dkravets/credwallet/internal/logger"
	"github.com/dkravets/credwallet/internal/models"
	"github.com/dkravets/credwallet/internal/persistence"
	"github.com/dkravets/credwallet/internal/queue"
	"github.com/dkravets/credwallet/internal/storage"
)

var (
	version   string
	buildDate string
)

// promptCredential reads a new credential from stdin.
func promptCredential(scanner *bufio.Scanner) models.Credential {
	fmt.Print("Enter type (education/employment/identity): ")
	scanner.Scan()
	typeStr := strings.TrimSpace(scanner.Text())

	fmt.Print("Enter issuer: ")
	scanner.Scan()
	issuer := strings.TrimSpace(scanner.Text())

	fmt.Print("Enter subject: ")
	scanner.Scan()
	subject := strings.TrimSpace(scanner.Text())

	return models.Credential{
		ID:       uuid.NewString(),
		Type:     typeStr,
		Status:   string(models.CredentialActive),
		Issuer:   issuer,
		Subject:  subject,
		IssuedAt: time.Now().UnixMilli(),
	}
}

func printStatus(status models.SyncStatus) {
	last := "never"
	if status.LastSync > 0 {
		last = time.UnixMilli(status.LastSync).Format(time.RFC3339)
	}
	fmt.Printf("online: %v\nlast sync: %s\npending: %d\nfailed: %d\nprocessing: %v\n",
		status.IsOnline, last, status.PendingItems, status.FailedItems, status.IsProcessingQueue)
}

// repl runs the interactive shell loop, accepting commands to manage the
// wallet and the sync queue.
func repl(ctx context.Context, svc *persistence.Service, coord *queue.Coordinator, observer *connectivity.Prober) {
	scanner := bufio.NewScanner(os.Stdin)

	for {
		fmt.Print("credwallet> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		args := strings.Fields(line)
		if len(args) == 0 {
			continue
		}
		switch args[0] {
		case "help":
			fmt.Println("Available commands: help, add, list, get <id>, update <id> <field> <value>, delete <id>, share <id> <recipient>, verify <id>, status, queue, retry, clear, sync, online, offline, exit")
		case "add":
			cred := promptCredential(scanner)
			if err := svc.SaveCredential(ctx, cred); err != nil {
				fmt.Println("save failed:", err)
				continue
			}
			if _, err := coord.Add(ctx, models.MutationCreate, models.ResourceCredential, cred); err != nil {
				fmt.Println("queue failed:", err)
				continue
			}
			fmt.Println("added", cred.ID)
		case "list":
			creds, err := svc.Credentials(ctx)
			if err != nil {
				fmt.Println("list failed:", err)
				continue
			}
			for _, c := range creds {
				fmt.Printf("ID: %s\nType: %s\nStatus: %s\nIssuer: %s\n---\n", c.ID, c.Type, c.Status, c.Issuer)
			}
		case "get":
			if len(args) < 2 {
				fmt.Println("Usage: get <id>")
				continue
			}
			cred, err := svc.Credential(ctx, args[1])
			if err != nil {
				fmt.Println("get failed:", err)
				continue
			}
			if cred == nil {
				fmt.Println("Credential not found")
				continue
			}
			fmt.Printf("%+v\n", *cred)
		case "update":
			if len(args) < 4 {
				fmt.Println("Usage: update <id> <field> <value>")
				continue
			}
			patch := map[string]any{args[2]: args[3]}
			if err := svc.UpdateCredential(ctx, args[1], patch); err != nil {
				fmt.Println("update failed:", err)
				continue
			}
			cred, err := svc.Credential(ctx, args[1])
			if err != nil || cred == nil {
				fmt.Println("read back failed:", err)
				continue
			}
			if _, err := coord.Add(ctx, models.MutationUpdate, models.ResourceCredential, cred); err != nil {
				fmt.Println("queue failed:", err)
			}
		case "delete":
			if len(args) < 2 {
				fmt.Println("Usage: delete <id>")
				continue
			}
			if err := svc.DeleteCredential(ctx, args[1]); err != nil {
				fmt.Println("delete failed:", err)
				continue
			}
			if _, err := coord.Add(ctx, models.MutationDelete, models.ResourceCredential, map[string]any{"id": args[1]}); err != nil {
				fmt.Println("queue failed:", err)
			}
		case "share":
			if len(args) < 3 {
				fmt.Println("Usage: share <id> <recipient>")
				continue
			}
			payload := map[string]any{"id": args[1], "recipient": args[2]}
			if _, err := coord.Add(ctx, models.MutationShare, models.ResourceCredential, payload); err != nil {
				fmt.Println("queue failed:", err)
			}
		case "verify":
			if len(args) < 2 {
				fmt.Println("Usage: verify <id>")
				continue
			}
			if _, err := coord.Add(ctx, models.MutationVerify, models.ResourceCredential, map[string]any{"id": args[1]}); err != nil {
				fmt.Println("queue failed:", err)
			}
		case "status":
			printStatus(coord.Status())
		case "queue":
			for _, it := range coord.Items() {
				fmt.Printf("ID: %s\nType: %s/%s\nRetries: %d\nError: %s\n---\n",
					it.ID, it.Type, it.Resource, it.RetryCount, it.LastError)
			}
		case "retry":
			if err := coord.RetryFailed(ctx); err != nil {
				fmt.Println("retry failed:", err)
			}
		case "clear":
			if err := coord.Clear(ctx); err != nil {
				fmt.Println("clear failed:", err)
			}
		case "sync":
			if err := coord.Process(ctx); err != nil {
				fmt.Println("sync failed:", err)
			}
		case "online":
			observer.SetOnline(true)
		case "offline":
			observer.SetOnline(false)
		case "exit":
			return
		default:
			fmt.Println("Unknown command. Type 'help' for a list of commands.")
		}
	}
}

func main() {
	options := config.Parse()

	fmt.Printf("Build version: %s\n", cmp.Or(version, "N/A"))
	fmt.Printf("Build date: %s\n", cmp.Or(buildDate, "N/A"))

	log := logger.New()
	defer func() { _ = log.Log.Sync() }()
	if err := log.Init("Info"); err != nil {
		log.Log.Fatal("failed to init logger", zap.Error(err))
	}
	zapLogger := log.Log

	if err := os.MkdirAll(options.DataDir, 0o700); err != nil {
		zapLogger.Fatal("cannot create data directory", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Local storage: bolt primary, in-memory fallback selected at init.
	store := storage.NewStore(filepath.Join(options.DataDir, "wallet.db"), zapLogger)
	defer func() { _ = store.Close() }()
	_ = store.Init(ctx)
	zapLogger.Info("storage ready", zap.String("backend", store.Backend(ctx)))

	svc := persistence.New(store, zapLogger)

	client := &http.Client{Timeout: 10 * time.Second}
	observer := connectivity.NewProber(client, options.ServerURL+"/api/health",
		time.Duration(options.ProbeIntervalSec)*time.Second, zapLogger)
	dispatcher := dispatch.NewHTTPDispatcher(client, options.ServerURL)

	coord := queue.New(store, dispatcher, observer, zapLogger)
	if err := coord.Load(ctx); err != nil {
		zapLogger.Warn("could not restore queue state", zap.Error(err))
	}
	coord.Watch(ctx)
	observer.Start(ctx)

	repl(ctx, svc, coord, observer)
}
